package snapshotmock

import (
	"context"

	"github.com/raterudder/loadshed/pkg/snapshot"
	"github.com/raterudder/loadshed/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockFetcher struct {
	mock.Mock
}

var _ snapshot.Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Fetch(ctx context.Context, creds types.Credentials) (*types.Snapshot, error) {
	args := m.Called(ctx, creds)
	snap, _ := args.Get(0).(*types.Snapshot)
	return snap, args.Error(1)
}
