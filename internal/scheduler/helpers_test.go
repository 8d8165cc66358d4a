package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aide/internal/models"
)

var errBackend = errors.New("backend exploded")

// flakyCalendar wraps a MemoryCalendar and fails selected operations.
type flakyCalendar struct {
	*MemoryCalendar
	listErr   error
	insertErr error
	deleteErr error
	lists     int
}

func newFlakyCalendar() *flakyCalendar {
	return &flakyCalendar{MemoryCalendar: NewMemoryCalendar()}
}

func (f *flakyCalendar) List(ctx context.Context, q ListQuery) ([]*models.Event, error) {
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryCalendar.List(ctx, q)
}

func (f *flakyCalendar) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.MemoryCalendar.Insert(ctx, ev)
}

func (f *flakyCalendar) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryCalendar.Delete(ctx, id)
}

type sentNotice struct {
	Text string
	To   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (r *recordingNotifier) Send(_ context.Context, text, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{Text: text, To: to})
	return nil
}

func (r *recordingNotifier) all() []sentNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNotice(nil), r.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Location = time.UTC
	return opts
}

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(time.DateTime, s, time.UTC)
	require.NoError(t, err)
	return ts
}

// book inserts a one-slot event starting at start.
func book(t *testing.T, cal Calendar, start time.Time, taskID, sender string) *models.Event {
	t.Helper()
	ev, err := cal.Insert(context.Background(), &models.Event{
		Summary:   "existing",
		StartTime: start,
		EndTime:   start.Add(15 * time.Minute),
		Tags:      map[string]string{models.TagTaskID: taskID, models.TagSender: sender},
	})
	require.NoError(t, err)
	return ev
}

func newTestSynchronizer(cal Calendar) (*Synchronizer, *recordingNotifier) {
	opts := testOptions()
	notifier := &recordingNotifier{}
	finder := NewFinder(NewChecker(cal, opts), opts)
	s := NewSynchronizer(discardLogger(), cal, finder, notifier, opts)
	return s, notifier
}
