package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
	"github.com/raterudder/loadshed/pkg/calendar"
)

func (s *Server) handleEventsCalendar(w http.ResponseWriter, r *http.Request) {
	c, ok := s.entry(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	snap := c.Snapshot()
	if snap == nil {
		writeJSONError(w, "no snapshot available yet", http.StatusServiceUnavailable)
		return
	}
	s.writeCalendar(w, r, calendar.Events(c.ID(), snap, window, s.now()))
}

func (s *Server) handleScheduleCalendar(w http.ResponseWriter, r *http.Request) {
	c, ok := s.entry(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	var stage int
	if v := r.URL.Query().Get("stage"); v != "" {
		stage, err = strconv.Atoi(v)
		if err != nil || stage < 1 {
			writeJSONError(w, "invalid stage", http.StatusBadRequest)
			return
		}
	}
	snap := c.Snapshot()
	if snap == nil {
		writeJSONError(w, "no snapshot available yet", http.StatusServiceUnavailable)
		return
	}
	s.writeCalendar(w, r, calendar.Schedule(c.ID(), snap, stage, window, s.now()))
}

func (s *Server) writeCalendar(w http.ResponseWriter, r *http.Request, cal *ical.Calendar) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=60")
	if err := calendar.Encode(w, cal); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// parseWindow reads the optional RFC 3339 start and end query parameters.
func parseWindow(r *http.Request) (calendar.Window, error) {
	var window calendar.Window
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("invalid start time: %w", err)
		}
		window.Start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("invalid end time: %w", err)
		}
		window.End = t
	}
	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		return calendar.Window{}, fmt.Errorf("start time must be before end time")
	}
	return window, nil
}
