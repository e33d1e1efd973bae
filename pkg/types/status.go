package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// StatusAreaNational is the status key for the national (Eskom) stage.
	StatusAreaNational = "eskom"
	// StatusAreaCapeTown is the status key for the City of Cape Town stage.
	StatusAreaCapeTown = "capetown"
)

// Stage is a load-shedding stage. The API sends it either as a string ("2")
// or as a number. Values that cannot be read, or are negative, decode to 0
// with Valid reporting false.
type Stage struct {
	Value   int
	invalid bool
}

// Valid reports whether the upstream value was a non-negative integer.
func (s Stage) Valid() bool {
	return !s.invalid
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stage) UnmarshalJSON(b []byte) error {
	*s = Stage{}
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.invalid = true
		return nil
	}
	s.Value = n
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

func (s Stage) String() string {
	return fmt.Sprintf("Stage %d", s.Value)
}

// NextStage is an announced upcoming stage change.
type NextStage struct {
	Stage Stage     `json:"stage"`
	Start time.Time `json:"stage_start_timestamp"`
}

// AreaStatus is the current stage for one status area.
type AreaStatus struct {
	Name         string      `json:"name"`
	Stage        Stage       `json:"stage"`
	StageUpdated time.Time   `json:"stage_updated"`
	NextStages   []NextStage `json:"next_stages"`
}

// StatusResponse is the body of the /status endpoint.
type StatusResponse struct {
	Status map[string]AreaStatus `json:"status"`
}

// Area returns the status for the given status area id.
func (s StatusResponse) Area(id string) (AreaStatus, bool) {
	a, ok := s.Status[id]
	return a, ok
}

// Allowance is the API quota for the current billing period.
type Allowance struct {
	Count int    `json:"count"`
	Limit int    `json:"limit"`
	Type  string `json:"type"`
}

// Remaining returns how many calls are left in the period. It is negative
// once the key has gone over quota.
func (a Allowance) Remaining() int {
	return a.Limit - a.Count
}

// Exceeded reports whether the key has used its whole allowance.
func (a Allowance) Exceeded() bool {
	return a.Count >= a.Limit
}

// AllowanceResponse is the body of the /api_allowance endpoint.
type AllowanceResponse struct {
	Allowance Allowance `json:"allowance"`
}

// Area is a single result of an area search.
type Area struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// AreaSearchResponse is the body of the /areas_search endpoint.
type AreaSearchResponse struct {
	Areas []Area `json:"areas"`
}
