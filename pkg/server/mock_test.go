package server

import (
	"context"

	"github.com/raterudder/loadshed/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockAreas struct {
	mock.Mock
}

var _ Areas = (*mockAreas)(nil)

func (m *mockAreas) SearchAreas(ctx context.Context, apiKey, text string) ([]types.Area, error) {
	args := m.Called(ctx, apiKey, text)
	areas, _ := args.Get(0).([]types.Area)
	return areas, args.Error(1)
}

func (m *mockAreas) ValidateCredentials(ctx context.Context, apiKey string) (bool, error) {
	args := m.Called(ctx, apiKey)
	return args.Bool(0), args.Error(1)
}
