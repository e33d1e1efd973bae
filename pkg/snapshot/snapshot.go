// Package snapshot assembles the three EskomSePush queries into one
// consistent Snapshot.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/schedule"
	"github.com/raterudder/loadshed/pkg/types"
	"golang.org/x/sync/errgroup"
)

// API is the subset of the sepush client the aggregator needs.
type API interface {
	Status(ctx context.Context, apiKey string) (types.StatusResponse, error)
	Allowance(ctx context.Context, apiKey string) (types.Allowance, error)
	AreaInformation(ctx context.Context, apiKey, areaID string) (types.AreaInformation, error)
	SearchAreas(ctx context.Context, apiKey, text string) ([]types.Area, error)
	ValidateKey(ctx context.Context, apiKey string) (bool, error)
}

// ErrMissingAreaID is returned by Fetch for credentials without an area id.
var ErrMissingAreaID = errors.New("missing area id")

// Fetcher produces a complete Snapshot for a set of credentials.
type Fetcher interface {
	Fetch(ctx context.Context, creds types.Credentials) (*types.Snapshot, error)
}

// Ensure Aggregator implements Fetcher at compile time.
var _ Fetcher = (*Aggregator)(nil)

// Aggregator implements Fetcher on top of an API.
type Aggregator struct {
	api API
	now func() time.Time
}

// NewAggregator returns an Aggregator using api.
func NewAggregator(api API) *Aggregator {
	return &Aggregator{api: api, now: time.Now}
}

// Fetch queries allowance, status and area information concurrently. If any
// query fails the remaining ones are canceled and the first failure is
// returned; a partial Snapshot is never returned.
func (a *Aggregator) Fetch(ctx context.Context, creds types.Credentials) (*types.Snapshot, error) {
	if creds.AreaID() == "" {
		log.Ctx(ctx).ErrorContext(ctx, "cannot fetch snapshot without an area id", slog.Any("credentials", creds))
		return nil, ErrMissingAreaID
	}

	var (
		allowance types.Allowance
		status    types.StatusResponse
		areaInfo  types.AreaInformation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		allowance, err = a.api.Allowance(gctx, creds.APIKey())
		if err != nil {
			return fmt.Errorf("failed to fetch allowance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		status, err = a.api.Status(gctx, creds.APIKey())
		if err != nil {
			return fmt.Errorf("failed to fetch status: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		areaInfo, err = a.api.AreaInformation(gctx, creds.APIKey(), creds.AreaID())
		if err != nil {
			return fmt.Errorf("failed to fetch area information: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for id, area := range status.Status {
		if !area.Stage.Valid() {
			log.Ctx(ctx).WarnContext(ctx, "invalid upstream stage, using 0", slog.String("area", id))
		}
	}

	snap := &types.Snapshot{
		Status:          status,
		Allowance:       allowance,
		AreaInformation: areaInfo,
		Schedule:        schedule.Expand(ctx, areaInfo.Schedule.Days),
		FetchedAt:       a.now(),
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched snapshot",
		slog.Int("events", len(areaInfo.Events)),
		slog.Int("scheduled", len(snap.Schedule)),
		slog.Int("quotaRemaining", allowance.Remaining()),
	)
	return snap, nil
}

// SearchAreas looks up areas by name for one-time configuration.
func (a *Aggregator) SearchAreas(ctx context.Context, apiKey, text string) ([]types.Area, error) {
	areas, err := a.api.SearchAreas(ctx, apiKey, text)
	if err != nil {
		return nil, err
	}
	if areas == nil {
		areas = []types.Area{}
	}
	return areas, nil
}

// ValidateCredentials reports whether apiKey is accepted upstream.
func (a *Aggregator) ValidateCredentials(ctx context.Context, apiKey string) (bool, error) {
	return a.api.ValidateKey(ctx, apiKey)
}
