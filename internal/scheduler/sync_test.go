package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/models"
)

func newTask(t *testing.T, id, sender, when string) *models.Task {
	t.Helper()
	w := at(t, when)
	return &models.Task{
		ID:          id,
		Sender:      sender,
		What:        "Dentist appointment",
		Where:       "Clinic",
		When:        &w,
		RequestedAt: &w,
		Status:      models.StatusPending,
	}
}

func TestSynchronizer_CreateEvent_AsRequested(t *testing.T) {
	cal := NewMemoryCalendar()
	s, notifier := newTestSynchronizer(cal)
	task := newTask(t, "task-1", "whatsapp:+123", "2024-01-02 10:00:00")

	b, err := s.CreateEvent(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, b.Shifted)
	assert.Equal(t, at(t, "2024-01-02 10:00:00"), b.Start)
	assert.Equal(t, at(t, "2024-01-02 10:15:00"), b.End)
	assert.Equal(t, b.EventID, task.EventID)

	events, err := cal.List(context.Background(), ListQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "task-1", events[0].TaskID())
	assert.Equal(t, "whatsapp:+123", events[0].Sender())
	assert.Equal(t, "Dentist appointment", events[0].Summary)
	assert.Contains(t, events[0].Description, "Task: task-1")
	assert.Equal(t, 15*time.Minute, events[0].EndTime.Sub(events[0].StartTime))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "whatsapp:+123", sent[0].To)
	assert.Equal(t, "Your meeting has been scheduled at 2024-01-02 10:00:00.", sent[0].Text)
}

func TestSynchronizer_CreateEvent_Shifted(t *testing.T) {
	cal := NewMemoryCalendar()
	book(t, cal, at(t, "2024-01-02 10:00:00"), "other", "+9")
	s, notifier := newTestSynchronizer(cal)
	task := newTask(t, "task-1", "+123", "2024-01-02 10:00:00")

	b, err := s.CreateEvent(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, b.Shifted)
	assert.Equal(t, at(t, "2024-01-02 10:15:00"), *task.When)

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t,
		"The requested time is unavailable. Your meeting has been scheduled at 2024-01-02 10:15:00 instead.",
		sent[0].Text)
}

func TestSynchronizer_CreateEvent_ComparesAgainstOriginalRequest(t *testing.T) {
	s, _ := newTestSynchronizer(NewMemoryCalendar())
	task := newTask(t, "task-1", "+123", "2024-01-02 11:00:00")
	original := at(t, "2024-01-02 07:00:00")
	task.RequestedAt = &original

	b, err := s.CreateEvent(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, b.Shifted)
	assert.Equal(t, original, b.Requested)
}

func TestSynchronizer_CreateEvent_InsertFailure(t *testing.T) {
	cal := newFlakyCalendar()
	cal.insertErr = errBackend
	s, notifier := newTestSynchronizer(cal)
	task := newTask(t, "task-1", "+123", "2024-01-02 10:00:00")

	b, err := s.CreateEvent(context.Background(), task)
	require.ErrorIs(t, err, ErrCalendarUnavailable)
	assert.Nil(t, b)
	assert.Empty(t, task.EventID)

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, failureNotice, sent[0].Text)
}

func TestSynchronizer_CreateEvent_NoNoticeForSelf(t *testing.T) {
	s, notifier := newTestSynchronizer(NewMemoryCalendar())

	_, err := s.CreateEvent(context.Background(), newTask(t, "task-1", models.SelfSender, "2024-01-02 10:00:00"))
	require.NoError(t, err)
	_, err = s.CreateEvent(context.Background(), newTask(t, "task-2", "", "2024-01-02 12:00:00"))
	require.NoError(t, err)

	assert.Empty(t, notifier.all())
}

func TestSynchronizer_CreateEvent_RequiresTime(t *testing.T) {
	s, _ := newTestSynchronizer(NewMemoryCalendar())
	task := newTask(t, "task-1", "+123", "2024-01-02 10:00:00")
	task.When = nil

	_, err := s.CreateEvent(context.Background(), task)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSynchronizer_FetchEvents_ByTaskIsIdempotent(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "task-x", "+1")
	book(t, cal, at(t, "2024-01-02 11:00:00"), "task-y", "+1")

	first, err := s.FetchEvents(context.Background(), Filter{TaskID: "task-x"})
	require.NoError(t, err)
	second, err := s.FetchEvents(context.Background(), Filter{TaskID: "task-x"})
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, "task-x", first[0].TaskID)
}

func TestSynchronizer_FetchEvents_OnlyFuture(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-02 12:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "past", "+1")
	book(t, cal, at(t, "2024-01-02 13:00:00"), "future", "+1")

	got, err := s.FetchEvents(context.Background(), Filter{Sender: "+1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "future", got[0].TaskID)
}

func TestSynchronizer_FetchEvents_SenderForms(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "prefixed", "whatsapp:+123")
	book(t, cal, at(t, "2024-01-02 11:00:00"), "bare", "+123")
	book(t, cal, at(t, "2024-01-02 12:00:00"), "someone-else", "+999")

	for _, sender := range []string{"+123", "whatsapp:+123"} {
		t.Run(sender, func(t *testing.T) {
			got, err := s.FetchEvents(context.Background(), Filter{Sender: sender})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "prefixed", got[0].TaskID)
			assert.Equal(t, "bare", got[1].TaskID)
		})
	}
}

func TestSynchronizer_FetchEvents_ByWhen(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	book(t, cal, at(t, "2024-01-02 09:45:00"), "adjacent", "+1")
	book(t, cal, at(t, "2024-01-02 10:05:00"), "overlapping", "+1")
	book(t, cal, at(t, "2024-01-02 15:00:00"), "afternoon", "+1")
	book(t, cal, at(t, "2024-01-03 10:00:00"), "next-day", "+1")

	t.Run("instant", func(t *testing.T) {
		when := at(t, "2024-01-02 10:00:00")
		got, err := s.FetchEvents(context.Background(), Filter{When: &when})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "overlapping", got[0].TaskID)
	})

	t.Run("whole day", func(t *testing.T) {
		when := at(t, "2024-01-02 00:00:00")
		got, err := s.FetchEvents(context.Background(), Filter{When: &when})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "adjacent", got[0].TaskID)
		assert.Equal(t, "afternoon", got[2].TaskID)
	})

	t.Run("combined with sender", func(t *testing.T) {
		when := at(t, "2024-01-02 00:00:00")
		got, err := s.FetchEvents(context.Background(), Filter{When: &when, Sender: "+2"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSynchronizer_FetchEvents_EmptyFilter(t *testing.T) {
	cal := newFlakyCalendar()
	s, _ := newTestSynchronizer(cal)

	got, err := s.FetchEvents(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, cal.lists)
}

func TestSynchronizer_FetchEvents_CalendarError(t *testing.T) {
	cal := newFlakyCalendar()
	cal.listErr = errBackend
	s, _ := newTestSynchronizer(cal)

	got, err := s.FetchEvents(context.Background(), Filter{TaskID: "x"})
	require.ErrorIs(t, err, ErrCalendarUnavailable)
	assert.Empty(t, got)
}

func TestSynchronizer_DeleteEvent_CancelTwice(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	ctx := context.Background()

	task := newTask(t, "task-x", "+123", "2024-01-02 10:00:00")
	_, err := s.CreateEvent(ctx, task)
	require.NoError(t, err)

	got, err := s.FetchEvents(ctx, Filter{TaskID: "task-x"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	deleted, err := s.DeleteEvent(ctx, "", Filter{TaskID: "task-x"})
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = s.FetchEvents(ctx, Filter{TaskID: "task-x"})
	require.NoError(t, err)
	assert.Empty(t, got)

	deleted, err = s.DeleteEvent(ctx, "", Filter{TaskID: "task-x"})
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSynchronizer_DeleteEvent_AllMatches(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "a", "whatsapp:+123")
	book(t, cal, at(t, "2024-01-03 10:00:00"), "b", "+123")
	book(t, cal, at(t, "2024-01-03 11:00:00"), "c", "+999")

	deleted, err := s.DeleteEvent(context.Background(), "", Filter{Sender: "+123"})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, cal.Len())
}

func TestSynchronizer_DeleteEvent_ByID(t *testing.T) {
	cal := NewMemoryCalendar()
	s, _ := newTestSynchronizer(cal)
	ev := book(t, cal, at(t, "2024-01-02 10:00:00"), "a", "+1")

	deleted, err := s.DeleteEvent(context.Background(), ev.ID, Filter{})
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteEvent(context.Background(), ev.ID, Filter{})
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSynchronizer_DeleteEvent_PropagatesFailure(t *testing.T) {
	cal := newFlakyCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "a", "+1")
	cal.deleteErr = errBackend

	deleted, err := s.DeleteEvent(context.Background(), "", Filter{TaskID: "a"})
	assert.False(t, deleted)
	assert.ErrorIs(t, err, errBackend)
}

func TestSynchronizer_DeleteEvent_AlreadyGone(t *testing.T) {
	cal := newFlakyCalendar()
	s, _ := newTestSynchronizer(cal)
	s.now = func() time.Time { return at(t, "2024-01-01 00:00:00") }
	book(t, cal, at(t, "2024-01-02 10:00:00"), "a", "+1")
	cal.deleteErr = fmt.Errorf("%w: gone", ErrEventNotFound)

	deleted, err := s.DeleteEvent(context.Background(), "", Filter{TaskID: "a"})
	require.NoError(t, err)
	assert.False(t, deleted, "nothing was removed")
}

func TestSenderForms(t *testing.T) {
	assert.Equal(t, []string{"+123", "whatsapp:+123"}, SenderForms("+123", "whatsapp:"))
	assert.Equal(t, []string{"+123", "whatsapp:+123"}, SenderForms("whatsapp:+123", "whatsapp:"))
	assert.Equal(t, []string{"+123", "whatsapp:+123", "sms:+123"}, SenderForms("sms:+123", "whatsapp:"))
	assert.Equal(t, []string{"+123"}, SenderForms("+123", ""))
}

func TestRequiresCalendar(t *testing.T) {
	assert.True(t, RequiresCalendar("Team MEETING with Sara"))
	assert.True(t, RequiresCalendar("dentist on friday"))
	assert.False(t, RequiresCalendar("buy milk"))
}
