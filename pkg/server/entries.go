package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/loadshed/pkg/coordinator"
	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/types"
)

// entryResponse is the state of one entry plus the values derived from its
// snapshot.
type entryResponse struct {
	ID                  string          `json:"id"`
	Available           bool            `json:"available"`
	Snapshot            *types.Snapshot `json:"snapshot"`
	LastError           string          `json:"lastError,omitempty"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	UpdatedAt           time.Time       `json:"updatedAt"`

	NationalStage   int          `json:"nationalStage"`
	CapeTownStage   int          `json:"capeTownStage"`
	LocalStage      int          `json:"localStage"`
	CurrentlyActive bool         `json:"currentlyActive"`
	ActiveEvent     *types.Event `json:"activeEvent,omitempty"`
	QuotaRemaining  int          `json:"quotaRemaining"`
	QuotaExceeded   bool         `json:"quotaExceeded"`
}

func newEntryResponse(id string, state coordinator.State, now time.Time) entryResponse {
	resp := entryResponse{
		ID:                  id,
		Available:           state.Available,
		Snapshot:            state.Snapshot,
		ConsecutiveFailures: state.ConsecutiveFailures,
		UpdatedAt:           state.UpdatedAt,
		NationalStage:       state.Snapshot.StageFor(types.StatusAreaNational),
		CapeTownStage:       state.Snapshot.StageFor(types.StatusAreaCapeTown),
		LocalStage:          state.Snapshot.LocalStage(),
	}
	if state.LastError != nil {
		resp.LastError = state.LastError.Error()
	}
	if e, ok := state.Snapshot.ActiveEvent(now); ok {
		resp.CurrentlyActive = true
		resp.ActiveEvent = &e
	}
	if state.Snapshot != nil {
		resp.QuotaRemaining = state.Snapshot.Allowance.Remaining()
		resp.QuotaExceeded = state.Snapshot.Allowance.Exceeded()
	}
	return resp
}

// entry returns the coordinator named in the path, writing a 404 if unknown.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	c, err := s.entries.Entry(r.PathValue("entry"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Entries []string `json:"entries"`
	}{Entries: s.entries.IDs()}, http.StatusOK)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	c, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, newEntryResponse(c.ID(), c.State(), s.now()), http.StatusOK)
}

func (s *Server) handleRefreshEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := s.entry(w, r)
	if !ok {
		return
	}

	code := http.StatusOK
	if err := c.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			// client went away; the shared fetch carries on
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "manual refresh failed", slog.String("entry", c.ID()), slog.Any("error", err))
		code = http.StatusBadGateway
	}
	writeJSON(w, newEntryResponse(c.ID(), c.State(), s.now()), code)
}
