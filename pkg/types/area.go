package types

import (
	"regexp"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

// Event is a scheduled load-shedding window for the configured area.
type Event struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Note  string    `json:"note"`
}

// Active reports whether now falls within [Start, End).
func (e Event) Active(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}

var firstNumber = regexp.MustCompile(`\d+`)

// Stage returns the first integer in the note, which upstream formats as
// "Stage N". It returns 0 when the note has no number.
func (e Event) Stage() int {
	m := firstNumber.FindString(e.Note)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// AreaInfo describes the configured area.
type AreaInfo struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// ScheduleDay is one day of the area schedule. Stages[i] holds the time
// ranges for stage i+1, e.g. "22:00-00:30".
type ScheduleDay struct {
	Date   civil.Date `json:"date"`
	Name   string     `json:"name"`
	Stages [][]string `json:"stages"`
}

// Schedule is the raw multi-day schedule for an area.
type Schedule struct {
	Days   []ScheduleDay `json:"days"`
	Source string        `json:"source"`
}

// AreaInformation is the body of the /area endpoint.
type AreaInformation struct {
	Events   []Event  `json:"events"`
	Info     AreaInfo `json:"info"`
	Schedule Schedule `json:"schedule"`
}

// NextEvent returns the first event, which is the current or next outage.
func (a AreaInformation) NextEvent() (Event, bool) {
	if len(a.Events) == 0 {
		return Event{}, false
	}
	return a.Events[0], true
}

// CanonicalEvent is a schedule time range resolved into instants.
type CanonicalEvent struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Stage int       `json:"stage"`
	Label string    `json:"label"`
}
