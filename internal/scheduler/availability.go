package scheduler

import (
	"context"
	"slices"
	"time"
)

// Checker answers free/busy questions against the calendar.
type Checker struct {
	cal  Calendar
	slot time.Duration
}

// NewChecker creates a new availability checker.
func NewChecker(cal Calendar, opts Options) *Checker {
	opts = opts.normalize()
	return &Checker{cal: cal, slot: opts.Slot}
}

// IsFree reports whether [start, start+d) is free of other events.
// A zero d means one slot. Events tagged with a task id in except are ignored,
// which lets a task being rescheduled move into its own window.
//
// Any calendar failure yields false together with an error wrapping
// ErrCalendarUnavailable.
func (c *Checker) IsFree(ctx context.Context, start time.Time, d time.Duration, except ...string) (bool, error) {
	if d <= 0 {
		d = c.slot
	}
	end := start.Add(d)

	events, err := c.cal.List(ctx, ListQuery{TimeMin: start, TimeMax: end})
	if err != nil {
		return false, unavailable("list events", err)
	}

	for _, ev := range events {
		if id := ev.TaskID(); id != "" && slices.Contains(except, id) {
			continue
		}
		if ev.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}
