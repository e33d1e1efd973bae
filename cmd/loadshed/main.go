package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/loadshed/pkg/coordinator"
	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/sepush"
	"github.com/raterudder/loadshed/pkg/server"
	"github.com/raterudder/loadshed/pkg/snapshot"
	"github.com/raterudder/loadshed/pkg/types"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env must be loaded before flags read their defaults from the environment
	_ = godotenv.Load()

	// init packages
	client := sepush.Configured()
	aggregator := snapshot.NewAggregator(client)
	entries := coordinator.Configured(aggregator)

	// init server
	srv := server.Configured(entries, aggregator)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(entries.IDs()) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no entries configured; set sepush-area-id or entries")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range entries.IDs() {
		c, err := entries.Entry(id)
		if err != nil {
			panic(err)
		}
		// subscribe before Run so the first snapshot is not missed
		updates, unsubscribe := c.Subscribe(8)
		g.Go(func() error {
			defer unsubscribe()
			watch(ctx, c.ID(), updates)
			return nil
		})
	}
	g.Go(func() error {
		return entries.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// watch logs stage changes for an entry until ctx is done or updates is
// closed.
func watch(ctx context.Context, id string, updates <-chan coordinator.Update) {
	ctx = log.WithAttrs(ctx, slog.String("entry", id))
	var lastStage, lastLocal int
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Kind != coordinator.UpdateSnapshot {
				continue
			}
			stage := u.State.Snapshot.StageFor(types.StatusAreaNational)
			local := u.State.Snapshot.LocalStage()
			if stage != lastStage || local != lastLocal {
				log.Ctx(ctx).InfoContext(
					ctx,
					"stage changed",
					slog.Int("nationalStage", stage),
					slog.Int("localStage", local),
					slog.Int("quotaRemaining", u.State.Snapshot.Allowance.Remaining()),
				)
				lastStage, lastLocal = stage, local
			}
		}
	}
}
