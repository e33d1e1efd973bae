// Package calendar renders snapshot events and schedules as iCalendar feeds.
package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/raterudder/loadshed/pkg/schedule"
	"github.com/raterudder/loadshed/pkg/types"
)

const (
	productID = "-//LoadShed//EN"
	// calendar name as understood by most clients
	propCalendarName = "X-WR-CALNAME"
)

// uidNamespace scopes event UIDs. The same event always gets the same UID.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://developer.sepush.co.za/"))

// Window limits which events are included. A zero bound is open.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) overlaps(start, end time.Time) bool {
	if !w.Start.IsZero() && !end.After(w.Start) {
		return false
	}
	if !w.End.IsZero() && !start.Before(w.End) {
		return false
	}
	return true
}

// Events returns a calendar of the area's announced load shedding events.
func Events(entryID string, snap *types.Snapshot, w Window, stamp time.Time) *ical.Calendar {
	cal := newCalendar(fmt.Sprintf("Load shedding events (%s)", entryID))
	if snap == nil {
		return cal
	}
	for _, e := range snap.AreaInformation.Events {
		if !w.overlaps(e.Start, e.End) {
			continue
		}
		ve := newEvent(uid(entryID, "event", 0, e.Start, e.End), e.Note, e.Start, e.End, stamp)
		if info := snap.AreaInformation.Info; info.Name != "" {
			ve.Props.SetText(ical.PropLocation, info.Name)
		}
		cal.Children = append(cal.Children, ve)
	}
	return cal
}

// Schedule returns a calendar of the area's expanded schedule. A positive
// stage limits the calendar to that stage.
func Schedule(entryID string, snap *types.Snapshot, stage int, w Window, stamp time.Time) *ical.Calendar {
	name := fmt.Sprintf("Load shedding schedule (%s)", entryID)
	if stage > 0 {
		name = fmt.Sprintf("Load shedding schedule, %s (%s)", schedule.StageLabel(stage-1), entryID)
	}
	cal := newCalendar(name)
	if snap == nil {
		return cal
	}
	events := snap.Schedule
	if stage > 0 {
		events = schedule.ForStage(events, stage)
	}
	for _, ev := range events {
		if !w.overlaps(ev.Start, ev.End) {
			continue
		}
		cal.Children = append(cal.Children, newEvent(uid(entryID, "schedule", ev.Stage, ev.Start, ev.End), ev.Label, ev.Start, ev.End, stamp))
	}
	return cal
}

// Encode writes cal in iCalendar format.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(propCalendarName, name)
	return cal
}

func newEvent(id, summary string, start, end, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, id)
	ve.Props.SetText(ical.PropSummary, summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	return ve
}

func uid(entryID, kind string, stage int, start, end time.Time) string {
	name := fmt.Sprintf("%s/%s/%d/%d/%d", entryID, kind, stage, start.Unix(), end.Unix())
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}
