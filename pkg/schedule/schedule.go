// Package schedule resolves raw area schedule time ranges into canonical
// start and end instants.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"time"

	"cloud.google.com/go/civil"
	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/types"
)

// SAST is the fixed +02:00 offset the schedule is published in. South Africa
// does not observe daylight saving so a fixed zone is exact.
var SAST = time.FixedZone("SAST", 2*60*60)

// ErrMalformedTimeRange is returned when a time range does not contain two
// HH:MM clock times.
var ErrMalformedTimeRange = errors.New("malformed time range")

var clockTime = regexp.MustCompile(`\d\d:\d\d`)

// ParseTimeRange resolves a range like "22:00-00:30" on date into instants.
// A range whose end is before its start crosses midnight and ends on the
// following day.
func ParseTimeRange(date civil.Date, timeRange string) (time.Time, time.Time, error) {
	tokens := clockTime.FindAllString(timeRange, -1)
	if len(tokens) < 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimeRange, timeRange)
	}
	start, err := atClock(date, tokens[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q: %w", ErrMalformedTimeRange, timeRange, err)
	}
	end, err := atClock(date, tokens[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q: %w", ErrMalformedTimeRange, timeRange, err)
	}
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

func atClock(date civil.Date, clock string) (time.Time, error) {
	t, err := civil.ParseTime(clock + ":00")
	if err != nil {
		return time.Time{}, err
	}
	return civil.DateTime{Date: date, Time: t}.In(SAST), nil
}

// StageLabel returns the display label for a zero-based stage index.
func StageLabel(stageIndex int) string {
	return fmt.Sprintf("Stage %d", stageIndex+1)
}

// StageEvents yields a CanonicalEvent for every time range of day.Stages[stageIndex]
// in order. A malformed range yields an error and iteration continues with
// the next range. An out of range index yields nothing.
func StageEvents(day types.ScheduleDay, stageIndex int) iter.Seq2[types.CanonicalEvent, error] {
	return func(yield func(types.CanonicalEvent, error) bool) {
		if stageIndex < 0 || stageIndex >= len(day.Stages) {
			return
		}
		for _, tr := range day.Stages[stageIndex] {
			start, end, err := ParseTimeRange(day.Date, tr)
			if err != nil {
				if !yield(types.CanonicalEvent{}, err) {
					return
				}
				continue
			}
			ev := types.CanonicalEvent{
				Start: start,
				End:   end,
				Stage: stageIndex + 1,
				Label: StageLabel(stageIndex),
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// DayEvents yields the events of every stage of day, stages in order.
func DayEvents(day types.ScheduleDay) iter.Seq2[types.CanonicalEvent, error] {
	return func(yield func(types.CanonicalEvent, error) bool) {
		for i := range day.Stages {
			for ev, err := range StageEvents(day, i) {
				if !yield(ev, err) {
					return
				}
			}
		}
	}
}

// Expand resolves every day of the schedule. Malformed ranges are logged and
// skipped so one bad entry does not blank the rest of the calendar.
func Expand(ctx context.Context, days []types.ScheduleDay) []types.CanonicalEvent {
	var events []types.CanonicalEvent
	for _, day := range days {
		for ev, err := range DayEvents(day) {
			if err != nil {
				log.Ctx(ctx).WarnContext(
					ctx,
					"skipping schedule time range",
					slog.String("date", day.Date.String()),
					slog.Any("error", err),
				)
				continue
			}
			events = append(events, ev)
		}
	}
	return events
}

// ForStage filters events down to a single 1-based stage.
func ForStage(events []types.CanonicalEvent, stage int) []types.CanonicalEvent {
	var out []types.CanonicalEvent
	for _, ev := range events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}
