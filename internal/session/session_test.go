package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *MemoryHistory) {
	history := NewMemoryHistory()
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), history), history
}

func TestManager_Lifecycle(t *testing.T) {
	m, history := newTestManager()
	ctx := context.Background()

	s := m.Start(ctx, "CA1", "+1")
	assert.Same(t, s, m.Start(ctx, "CA1", "+1"), "restarting a live call keeps the session")
	assert.Equal(t, 1, m.Len())

	got, err := m.Get("CA1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	turns, err := m.Record(s, "user", "I want to book")
	require.NoError(t, err)
	turns, err = m.Record(s, "assistant", "When?")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user: I want to book\nassistant: When?", Transcript(turns))

	require.NoError(t, m.Stop(ctx, "CA1"))
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	assert.Equal(t, 0, m.Len())

	left, err := history.History(ctx, "CA1")
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = m.Get("CA1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Stop(ctx, "CA1"), ErrNotFound)

	_, err = m.Record(s, "user", "late turn")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_SessionOutlivesRequest(t *testing.T) {
	m, _ := newTestManager()
	reqCtx, cancel := context.WithCancel(context.Background())

	s := m.Start(reqCtx, "CA2", "+1")
	cancel()
	assert.NoError(t, s.Context().Err())

	m.StopAll(context.Background())
	assert.Error(t, s.Context().Err())
	assert.Equal(t, 0, m.Len())
}

func TestManager_SweepEvictsIdleCalls(t *testing.T) {
	m, history := newTestManager()
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	dropped := m.Start(ctx, "CA1", "+1")
	_, err := m.Record(dropped, "user", "hello")
	require.NoError(t, err)
	live := m.Start(ctx, "CA2", "+2")

	now = now.Add(20 * time.Minute)
	_, err = m.Record(live, "user", "still here")
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, m.Sweep(ctx, 30*time.Minute))
	assert.Equal(t, 1, m.Len())
	assert.Error(t, dropped.Context().Err())
	assert.NoError(t, live.Context().Err())

	left, err := history.History(ctx, "CA1")
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = m.Get("CA2")
	assert.NoError(t, err)
}
