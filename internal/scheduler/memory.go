package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"aide/internal/models"
)

// MemoryCalendar is an in-process Calendar used for local runs and tests.
type MemoryCalendar struct {
	mu     sync.Mutex
	events map[string]*models.Event
	seq    int
}

// NewMemoryCalendar creates an empty MemoryCalendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]*models.Event)}
}

// List returns copies of the events matching q, ordered by start time.
func (m *MemoryCalendar) List(ctx context.Context, q ListQuery) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Event
	for _, ev := range m.events {
		if q.Matches(ev) {
			out = append(out, clone(ev))
		}
	}
	slices.SortFunc(out, func(a, b *models.Event) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Insert stores ev under a fresh id.
func (m *MemoryCalendar) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	stored := clone(ev)
	stored.ID = fmt.Sprintf("mem%06d", m.seq)
	stored.Source = "memory"
	m.events[stored.ID] = stored
	return clone(stored), nil
}

// Delete removes the event with the given id.
func (m *MemoryCalendar) Delete(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	delete(m.events, eventID)
	return nil
}

// Len returns the number of stored events.
func (m *MemoryCalendar) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func clone(ev *models.Event) *models.Event {
	c := *ev
	c.Tags = maps.Clone(ev.Tags)
	return &c
}
