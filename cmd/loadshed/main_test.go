package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/raterudder/loadshed/pkg/coordinator"
	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/snapshot/snapshotmock"
	"github.com/raterudder/loadshed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWatchSeesSnapshotPublishedBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	f := &snapshotmock.MockFetcher{}
	f.On("Fetch", mock.Anything, mock.Anything).Return(&types.Snapshot{
		Status: types.StatusResponse{Status: map[string]types.AreaStatus{
			types.StatusAreaNational: {Name: "National", Stage: types.Stage{Value: 3}},
		}},
		Allowance: types.Allowance{Count: 5, Limit: 50},
	}, nil)
	c := coordinator.New(f, coordinator.Options{ID: "home", Credentials: types.NewCredentials("key", "area")})
	defer c.Close()

	updates, unsubscribe := c.Subscribe(8)
	// the first fetch lands before the watcher is running
	require.NoError(t, c.Refresh(ctx))
	unsubscribe()

	// returns once the closed channel is drained
	watch(ctx, "home", updates)

	out := buf.String()
	assert.Contains(t, out, `"msg":"stage changed"`)
	assert.Contains(t, out, `"nationalStage":3`)
	assert.Contains(t, out, `"entry":"home"`)
	assert.Contains(t, out, `"quotaRemaining":45`)
}
