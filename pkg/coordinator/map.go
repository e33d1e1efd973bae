package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/loadshed/pkg/snapshot"
	"github.com/raterudder/loadshed/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultEntryID names the entry built from the single-credential flags.
const DefaultEntryID = "default"

// EntryConfig is one credential set in the entries flag.
type EntryConfig struct {
	APIKey            string `json:"apiKey"`
	AreaID            string `json:"areaID"`
	ScanPeriodSeconds int    `json:"scanPeriodSeconds"`
}

// ScanPeriod returns the configured poll interval, or 0 if unset.
func (e EntryConfig) ScanPeriod() time.Duration {
	return time.Duration(e.ScanPeriodSeconds) * time.Second
}

// Configured sets up a coordinator per configured entry from flags. The
// entries flag takes a JSON object keyed by entry id; the single-credential
// flags add a "default" entry when an area id is given.
func Configured(fetcher snapshot.Fetcher) *Map {
	m := NewMap()
	apiKey := lflag.String("sepush-api-key", os.Getenv("SEPUSH_API_KEY"), "EskomSePush API key (defaults to $SEPUSH_API_KEY)")
	areaID := lflag.String("sepush-area-id", "", "EskomSePush area id for the default entry")
	scanPeriod := lflag.Duration("scan-period", DefaultInterval, "How often to fetch a new snapshot (minimum 30m)")
	calendarPeriod := lflag.Duration("calendar-scan-period", DefaultScheduleInterval, "How often to re-evaluate the active load shedding event")
	var entries map[string]EntryConfig
	lflag.JSON(&entries, "entries", map[string]EntryConfig{}, "JSON object of entry id to {apiKey, areaID, scanPeriodSeconds}")

	lflag.Do(func() {
		if *areaID != "" {
			if _, ok := entries[DefaultEntryID]; ok {
				panic(fmt.Errorf("entry %q is set by both sepush-area-id and entries", DefaultEntryID))
			}
			if entries == nil {
				entries = make(map[string]EntryConfig)
			}
			entries[DefaultEntryID] = EntryConfig{
				APIKey:            *apiKey,
				AreaID:            *areaID,
				ScanPeriodSeconds: int(scanPeriod.Seconds()),
			}
		}
		for id, cfg := range entries {
			if cfg.APIKey == "" {
				cfg.APIKey = *apiKey
			}
			if cfg.ScanPeriodSeconds == 0 {
				cfg.ScanPeriodSeconds = int(scanPeriod.Seconds())
			}
			if err := cfg.Validate(); err != nil {
				panic(fmt.Errorf("invalid entry %q: %w", id, err))
			}
			m.Set(id, New(fetcher, Options{
				ID:               id,
				Credentials:      types.NewCredentials(cfg.APIKey, cfg.AreaID),
				Interval:         cfg.ScanPeriod(),
				ScheduleInterval: *calendarPeriod,
			}))
		}
	})
	return m
}

// Validate ensures the entry has everything needed to fetch.
func (e EntryConfig) Validate() error {
	if e.APIKey == "" {
		return errors.New("apiKey is required")
	}
	if e.AreaID == "" {
		return errors.New("areaID is required")
	}
	return nil
}

// Map manages the coordinators of all configured entries.
type Map struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{
		coordinators: make(map[string]*Coordinator),
	}
}

// Entry returns the coordinator for the given entry id.
func (m *Map) Entry(id string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.coordinators[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown entry: %s", id)
}

// Set sets the coordinator for the given entry id, replacing any previous one.
func (m *Map) Set(id string, c *Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.coordinators[id]; ok && prev != c {
		prev.Close()
	}
	m.coordinators[id] = c
}

// Remove closes and forgets the coordinator for the given entry id.
func (m *Map) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coordinators[id]; ok {
		c.Close()
		delete(m.coordinators, id)
	}
}

// IDs returns the sorted entry ids.
func (m *Map) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.coordinators))
	for id := range m.coordinators {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run runs every coordinator until ctx is done.
func (m *Map) Run(ctx context.Context) error {
	m.mu.Lock()
	cs := make([]*Coordinator, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		cs = append(cs, c)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range cs {
		g.Go(func() error {
			return c.Run(ctx)
		})
	}
	return g.Wait()
}
