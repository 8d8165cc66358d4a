package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aide/internal/models"
)

var (
	// ErrCalendarUnavailable marks a failed or timed out calendar call.
	// Callers must treat the affected slot as busy.
	ErrCalendarUnavailable = errors.New("calendar unavailable")
	// ErrNoSlotAvailable is returned when no free slot exists within the lookahead.
	ErrNoSlotAvailable = errors.New("no slot available")
	// ErrEventNotFound is returned by calendar backends deleting an unknown event.
	ErrEventNotFound = errors.New("event not found")
)

// ListQuery selects events whose [start, end) intersects (TimeMin, TimeMax).
// A zero TimeMax leaves the upper bound open. Every entry in Tags must match
// the event's private metadata.
type ListQuery struct {
	TimeMin time.Time
	TimeMax time.Time
	Tags    map[string]string
}

// Matches reports whether ev satisfies the query.
func (q ListQuery) Matches(ev *models.Event) bool {
	if !q.TimeMin.IsZero() && !ev.EndTime.After(q.TimeMin) {
		return false
	}
	if !q.TimeMax.IsZero() && !ev.StartTime.Before(q.TimeMax) {
		return false
	}
	for k, v := range q.Tags {
		if ev.Tags[k] != v {
			return false
		}
	}
	return true
}

// Calendar is the external calendar service the scheduler books against.
type Calendar interface {
	List(ctx context.Context, q ListQuery) ([]*models.Event, error)
	Insert(ctx context.Context, ev *models.Event) (*models.Event, error)
	Delete(ctx context.Context, eventID string) error
}

// WithTimeout bounds every call made to cal by d.
func WithTimeout(cal Calendar, d time.Duration) Calendar {
	if d <= 0 {
		return cal
	}
	return &timeoutCalendar{next: cal, timeout: d}
}

type timeoutCalendar struct {
	next    Calendar
	timeout time.Duration
}

func (c *timeoutCalendar) List(ctx context.Context, q ListQuery) ([]*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.List(ctx, q)
}

func (c *timeoutCalendar) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Insert(ctx, ev)
}

func (c *timeoutCalendar) Delete(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Delete(ctx, eventID)
}

// unavailable wraps a calendar failure so that errors.Is(err, ErrCalendarUnavailable) holds.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrCalendarUnavailable) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrCalendarUnavailable, op, err)
}
