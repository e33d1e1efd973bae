package types

import "time"

// Snapshot is the result of one complete fetch cycle. It is never modified
// after being published; a refresh builds a new one.
type Snapshot struct {
	Status          StatusResponse  `json:"status"`
	Allowance       Allowance       `json:"allowance"`
	AreaInformation AreaInformation `json:"areaInformation"`

	// Schedule is derived from AreaInformation.Schedule on every fetch.
	Schedule  []CanonicalEvent `json:"schedule"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// LocalStage returns the stage of the next/current area event, or 0.
func (s *Snapshot) LocalStage() int {
	if s == nil {
		return 0
	}
	e, ok := s.AreaInformation.NextEvent()
	if !ok {
		return 0
	}
	return e.Stage()
}

// ActiveEvent returns the area event in progress at now, if any.
func (s *Snapshot) ActiveEvent(now time.Time) (Event, bool) {
	if s == nil {
		return Event{}, false
	}
	for _, e := range s.AreaInformation.Events {
		if e.Active(now) {
			return e, true
		}
	}
	return Event{}, false
}

// StageFor returns the current stage of a status area, or 0 if absent.
func (s *Snapshot) StageFor(statusArea string) int {
	if s == nil {
		return 0
	}
	a, ok := s.Status.Area(statusArea)
	if !ok {
		return 0
	}
	return a.Stage.Value
}
