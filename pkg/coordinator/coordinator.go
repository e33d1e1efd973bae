// Package coordinator drives periodic snapshot fetches for a configured entry
// and publishes the latest result to consumers.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/snapshot"
	"github.com/raterudder/loadshed/pkg/types"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval         = 7200 * time.Second
	MinInterval             = 1800 * time.Second
	DefaultScheduleInterval = 30 * time.Second

	refreshKey = "refresh"
)

// ClampInterval applies the default and the upstream rate-limit floor to a
// poll interval.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	return max(d, MinInterval)
}

// State is what consumers see. A State is never modified once stored.
type State struct {
	// Snapshot is the last successful snapshot. It is kept when later
	// fetches fail.
	Snapshot *types.Snapshot
	// Available is true when the most recent fetch succeeded.
	Available           bool
	LastError           error
	ConsecutiveFailures int
	UpdatedAt           time.Time
	// ActiveEvent is the area event in progress at the last evaluation.
	ActiveEvent *types.Event
}

// UpdateKind says why an Update was published.
type UpdateKind int

const (
	// UpdateSnapshot means a new snapshot replaced the previous one.
	UpdateSnapshot UpdateKind = iota
	// UpdateAvailability means a fetch failed and the snapshot is stale.
	UpdateAvailability
	// UpdateActiveEvent means an area event started or ended.
	UpdateActiveEvent
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSnapshot:
		return "snapshot"
	case UpdateAvailability:
		return "availability"
	case UpdateActiveEvent:
		return "active_event"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers.
type Update struct {
	Kind  UpdateKind
	State State
}

// Options configure a Coordinator.
type Options struct {
	ID               string
	Credentials      types.Credentials
	Interval         time.Duration
	ScheduleInterval time.Duration
}

// Coordinator owns the refresh cycle of one entry. At most one fetch is in
// flight at a time; concurrent Refresh calls share it.
type Coordinator struct {
	id               string
	creds            types.Credentials
	fetcher          snapshot.Fetcher
	interval         time.Duration
	scheduleInterval time.Duration
	now              func() time.Time

	// base bounds every fetch; Close cancels it
	base   context.Context
	cancel context.CancelFunc

	group   singleflight.Group
	writeMu sync.Mutex
	state   atomic.Pointer[State]

	subMu       sync.Mutex
	subscribers map[uint64]chan Update
	nextSub     uint64
}

// New returns a Coordinator in the Stale state with no snapshot.
func New(fetcher snapshot.Fetcher, opts Options) *Coordinator {
	scheduleInterval := opts.ScheduleInterval
	if scheduleInterval <= 0 {
		scheduleInterval = DefaultScheduleInterval
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		id:               opts.ID,
		creds:            opts.Credentials,
		fetcher:          fetcher,
		interval:         ClampInterval(opts.Interval),
		scheduleInterval: scheduleInterval,
		now:              time.Now,
		base:             base,
		cancel:           cancel,
		subscribers:      make(map[uint64]chan Update),
	}
	c.state.Store(&State{})
	return c
}

// ID returns the entry id.
func (c *Coordinator) ID() string {
	return c.id
}

// Interval returns the effective poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// State returns the current state.
func (c *Coordinator) State() State {
	return *c.state.Load()
}

// Snapshot returns the last successful snapshot, or nil if there never was one.
func (c *Coordinator) Snapshot() *types.Snapshot {
	return c.state.Load().Snapshot
}

// Available reports whether the last fetch succeeded.
func (c *Coordinator) Available() bool {
	return c.state.Load().Available
}

// Refresh fetches a new snapshot, joining any fetch already in flight. It
// returns the fetch error, or ctx.Err() if ctx ends first; in that case the
// shared fetch keeps running for the other callers.
func (c *Coordinator) Refresh(ctx context.Context) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		fetchCtx := log.With(c.base, log.Ctx(ctx))
		return nil, c.fetch(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Coordinator) fetch(ctx context.Context) error {
	snap, err := c.fetcher.Fetch(ctx, c.creds)
	if err != nil {
		if c.base.Err() != nil {
			log.Ctx(ctx).DebugContext(ctx, "abandoned in-flight fetch")
			return err
		}
		c.markStale(ctx, err)
		return err
	}
	c.publish(ctx, snap)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, snap *types.Snapshot) {
	c.writeMu.Lock()
	prev := c.state.Load()
	next := &State{
		Snapshot:    snap,
		Available:   true,
		UpdatedAt:   c.now(),
		ActiveEvent: activeEvent(snap, c.now()),
	}
	c.state.Store(next)
	c.writeMu.Unlock()

	if !prev.Available {
		log.Ctx(ctx).InfoContext(ctx, "snapshot available", slog.Int("previousFailures", prev.ConsecutiveFailures))
	}
	c.notify(ctx, Update{Kind: UpdateSnapshot, State: *next})
}

func (c *Coordinator) markStale(ctx context.Context, err error) {
	c.writeMu.Lock()
	prev := c.state.Load()
	next := *prev
	next.Available = false
	next.LastError = err
	next.ConsecutiveFailures++
	next.UpdatedAt = c.now()
	c.state.Store(&next)
	c.writeMu.Unlock()

	// the cause was logged where it happened
	if prev.Available {
		log.Ctx(ctx).WarnContext(ctx, "snapshot marked stale")
	}
	c.notify(ctx, Update{Kind: UpdateAvailability, State: next})
}

// Evaluate re-checks which area event is in progress against the cached
// snapshot without querying upstream, publishing an update on change.
func (c *Coordinator) Evaluate(ctx context.Context) {
	c.writeMu.Lock()
	prev := c.state.Load()
	active := activeEvent(prev.Snapshot, c.now())
	if sameEvent(prev.ActiveEvent, active) {
		c.writeMu.Unlock()
		return
	}
	next := *prev
	next.ActiveEvent = active
	c.state.Store(&next)
	c.writeMu.Unlock()

	if active != nil {
		log.Ctx(ctx).InfoContext(ctx, "load shedding started", slog.String("note", active.Note), slog.Time("end", active.End))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "load shedding ended")
	}
	c.notify(ctx, Update{Kind: UpdateActiveEvent, State: next})
}

func activeEvent(snap *types.Snapshot, now time.Time) *types.Event {
	e, ok := snap.ActiveEvent(now)
	if !ok {
		return nil
	}
	return &e
}

func sameEvent(a, b *types.Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Start.Equal(b.Start) && a.End.Equal(b.End) && a.Note == b.Note
}

// Subscribe registers an observer. Updates are dropped for a subscriber whose
// buffer is full. The returned function unsubscribes and closes the channel;
// it is safe to call more than once.
func (c *Coordinator) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, max(buffer, 1))

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Coordinator) notify(ctx context.Context, u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- u:
		default:
			log.Ctx(ctx).DebugContext(ctx, "dropping update for slow subscriber", slog.Uint64("subscriber", id), slog.String("kind", u.Kind.String()))
		}
	}
}

// Close abandons any in-flight fetch and stops Run. Later Refresh calls fail
// immediately.
func (c *Coordinator) Close() {
	c.cancel()
}

// Run fetches immediately and then on the poll interval, re-evaluating the
// active event on the shorter schedule interval, until ctx is done or the
// Coordinator is closed.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx = log.WithAttrs(ctx, slog.String("entry", c.id))
	defer c.Close()

	log.Ctx(ctx).InfoContext(
		ctx,
		"starting coordinator",
		slog.Any("credentials", c.creds),
		slog.Duration("interval", c.interval),
		slog.Duration("scheduleInterval", c.scheduleInterval),
	)

	// failures are reflected in State; Run keeps going regardless
	_ = c.Refresh(ctx)

	logger := cron.PrintfLogger(slog.NewLogLogger(log.Ctx(ctx).Handler(), slog.LevelWarn))
	cr := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	cr.Schedule(cron.Every(c.interval), cron.FuncJob(func() {
		_ = c.Refresh(ctx)
	}))
	cr.Schedule(cron.Every(c.scheduleInterval), cron.FuncJob(func() {
		c.Evaluate(ctx)
	}))
	cr.Start()

	// Close, directly or through Map.Remove, stops Run as well
	select {
	case <-ctx.Done():
	case <-c.base.Done():
	}
	log.Ctx(ctx).InfoContext(ctx, "stopping coordinator")
	c.Close()
	<-cr.Stop().Done()
	return nil
}
