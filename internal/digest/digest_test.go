package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/models"
	"aide/internal/scheduler"
	"aide/internal/tasks"
)

type stubTasks struct {
	found    []*models.Task
	messages []*models.Message
	query    tasks.Query
	since    time.Time
	health   []*models.HealthRecord
	from, to string
}

func (s *stubTasks) HealthRecords(_ context.Context, from, to string) ([]*models.HealthRecord, error) {
	s.from, s.to = from, to
	return s.health, nil
}

func (s *stubTasks) RecentMessages(_ context.Context, _ []string, since time.Time) ([]*models.Message, error) {
	s.since = since
	return s.messages, nil
}

func (s *stubTasks) FindTasks(_ context.Context, q tasks.Query) ([]*models.Task, error) {
	s.query = q
	return s.found, nil
}

type stubEvents struct {
	events []models.EventDetails
	err    error
	filter scheduler.Filter
}

func (s *stubEvents) FetchEvents(_ context.Context, f scheduler.Filter) ([]models.EventDetails, error) {
	s.filter = f
	return s.events, s.err
}

type countingNotifier struct {
	texts []string
	to    []string
}

func (n *countingNotifier) Send(_ context.Context, text, to string) error {
	n.texts = append(n.texts, text)
	n.to = append(n.to, to)
	return nil
}

func newTestDigester(t *testing.T, statePath string) (*Digester, *stubTasks, *stubEvents, *countingNotifier) {
	t.Helper()
	when := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	st := &stubTasks{found: []*models.Task{
		{What: "Dentist", Status: models.StatusScheduled, When: &when, Sender: "+1"},
		{What: "Buy milk", Status: models.StatusPending, Sender: models.SelfSender},
	}, messages: []*models.Message{{Sender: "+1"}, {Sender: "+2"}, {Sender: "+1"}}}
	se := &stubEvents{events: []models.EventDetails{
		{Summary: "Standup", Start: time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)},
	}}
	n := &countingNotifier{}

	d := NewDigester(slog.New(slog.NewTextHandler(io.Discard, nil)), st, se, n, "+1000", time.UTC, statePath, false)
	d.now = func() time.Time { return time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC) }
	return d, st, se, n
}

func TestBuild(t *testing.T) {
	d, st, se, _ := newTestDigester(t, "")

	text, err := d.Build(context.Background(), d.now())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), st.query.CreatedAfter)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), st.query.CreatedBefore)
	require.NotNil(t, se.filter.When)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), *se.filter.When)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), st.since)
	assert.Contains(t, text, "Daily summary for 2024-01-02")
	assert.Contains(t, text, "Messages received: 3")
	assert.Contains(t, text, "Tasks received: 2 (scheduled 1, pending 1, cancelled 0)")
	assert.Contains(t, text, "- [scheduled] Dentist at 2024-01-02 10:00:00 (from +1)")
	assert.Contains(t, text, "- [pending] Buy milk\n")
	assert.Contains(t, text, "Tomorrow: 1 event(s)\n- 09:30 Standup")
}

func TestRun_SendsOncePerDay(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "digest-state.json")
	d, _, _, n := newTestDigester(t, statePath)
	ctx := context.Background()

	require.NoError(t, d.Run(ctx))
	require.NoError(t, d.Run(ctx))
	require.Len(t, n.texts, 1)
	assert.Equal(t, "+1000", n.to[0])

	d.now = func() time.Time { return time.Date(2024, 1, 3, 21, 0, 0, 0, time.UTC) }
	require.NoError(t, d.Run(ctx))
	assert.Len(t, n.texts, 2)
}

func TestRun_DryRun(t *testing.T) {
	d, _, _, n := newTestDigester(t, "")
	d.dryRun = true

	require.NoError(t, d.Run(context.Background()))
	assert.Empty(t, n.texts)
}

func TestRun_CalendarFailure(t *testing.T) {
	d, _, se, n := newTestDigester(t, "")
	se.err = scheduler.ErrCalendarUnavailable

	err := d.Run(context.Background())
	assert.True(t, errors.Is(err, scheduler.ErrCalendarUnavailable))
	assert.Empty(t, n.texts)
}

func TestStart_InvalidSchedule(t *testing.T) {
	d, _, _, _ := newTestDigester(t, "")
	err := d.Start(context.Background(), "every now and then", "")
	assert.Error(t, err)

	err = d.Start(context.Background(), "", "on mondays")
	assert.Error(t, err)
}

func TestHealthReport(t *testing.T) {
	d, st, _, _ := newTestDigester(t, "")
	st.health = []*models.HealthRecord{
		{Day: "2023-12-28", StepCount: "4321 count"},
		{Day: "2024-01-01", StepCount: "9000 count", HeartRate: "61 count/min"},
	}

	text, err := d.HealthReport(context.Background(), d.now())
	require.NoError(t, err)

	assert.Equal(t, "2023-12-27", st.from)
	assert.Equal(t, "2024-01-02", st.to)
	assert.Contains(t, text, "Weekly health report 2023-12-27 to 2024-01-02")
	assert.Contains(t, text, "- 2023-12-28: steps 4321 count")
	assert.Contains(t, text, "- 2024-01-01: steps 9000 count, hr 61 count/min")
}

func TestRunHealthReport_SendsOncePerWeek(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "digest-state.json")
	d, _, _, n := newTestDigester(t, statePath)
	ctx := context.Background()

	require.NoError(t, d.RunHealthReport(ctx))
	d.now = func() time.Time { return time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC) }
	require.NoError(t, d.RunHealthReport(ctx))
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "No health data received.")

	// The daily digest keeps its own sent marker.
	require.NoError(t, d.Run(ctx))
	assert.Len(t, n.texts, 2)

	d.now = func() time.Time { return time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC) }
	require.NoError(t, d.RunHealthReport(ctx))
	assert.Len(t, n.texts, 3)
}
