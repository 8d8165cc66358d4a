package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"aide/internal/models"
)

// Notifier delivers short text notices to an originator.
type Notifier interface {
	Send(ctx context.Context, text, to string) error
}

const failureNotice = "Failed to schedule event at this moment. Please try again later."

// Booking describes the outcome of a successful CreateEvent.
type Booking struct {
	EventID   string
	Requested time.Time
	Start     time.Time
	End       time.Time
	Shifted   bool // Start differs from the requested instant
}

// Message renders the confirmation sent to the originator. It always says
// whether the requested time had to be moved.
func (b *Booking) Message(loc *time.Location) string {
	at := b.Start.In(loc).Format(time.DateTime)
	if b.Shifted {
		return fmt.Sprintf("The requested time is unavailable. Your meeting has been scheduled at %s instead.", at)
	}
	return fmt.Sprintf("Your meeting has been scheduled at %s.", at)
}

// Filter selects events by owning task, originator and/or time.
type Filter struct {
	TaskID string
	Sender string
	When   *time.Time
}

// Empty reports whether no filter axis is set.
func (f Filter) Empty() bool {
	return f.TaskID == "" && f.Sender == "" && f.When == nil
}

// Synchronizer creates, searches and deletes the calendar events backing tasks.
type Synchronizer struct {
	logger   *slog.Logger
	cal      Calendar
	finder   *Finder
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// NewSynchronizer creates a new Synchronizer.
func NewSynchronizer(logger *slog.Logger, cal Calendar, finder *Finder, notifier Notifier, opts Options) *Synchronizer {
	return &Synchronizer{
		logger:   logger,
		cal:      cal,
		finder:   finder,
		notifier: notifier,
		opts:     opts.normalize(),
		now:      time.Now,
	}
}

// CreateEvent books task.When, moved forward to the first free slot if needed,
// and tags the event with the task id and sender. On success task.When and
// task.EventID are updated and a confirmation is sent; on failure a failure
// notice is sent instead. Events of the except task ids do not block a slot.
func (s *Synchronizer) CreateEvent(ctx context.Context, task *models.Task, except ...string) (*Booking, error) {
	if task.When == nil {
		return nil, fmt.Errorf("%w: task %s has no time", models.ErrInvalidInput, task.ID)
	}
	requested := *task.When
	if task.RequestedAt != nil {
		requested = *task.RequestedAt
	}

	start, err := s.finder.FindSlot(ctx, *task.When, except...)
	if err != nil {
		s.logger.Error("Could not find a free slot", "taskID", task.ID, "error", err)
		s.notify(ctx, task.Sender, failureNotice)
		return nil, err
	}

	created, err := s.cal.Insert(ctx, s.eventFor(task, start))
	if err != nil {
		s.logger.Error("Failed to create calendar event", "taskID", task.ID, "error", err)
		s.notify(ctx, task.Sender, failureNotice)
		return nil, unavailable("insert event", err)
	}

	task.When = &start
	task.EventID = created.ID

	b := &Booking{
		EventID:   created.ID,
		Requested: requested,
		Start:     start,
		End:       start.Add(s.opts.Slot),
		Shifted:   !start.Equal(requested),
	}
	s.logger.Info("Event created.", "taskID", task.ID, "eventID", created.ID, "start", start, "shifted", b.Shifted)
	s.notify(ctx, task.Sender, b.Message(s.opts.Location))
	return b, nil
}

// FetchEvents returns the events matching every axis set in f.
//
// A When at local midnight selects the whole day. Any other When selects a
// window of one slot either side and keeps only events overlapping
// [When, When+slot). Without When only future events are searched. The sender
// is compared with its channel prefix stripped and with the prefix added.
func (s *Synchronizer) FetchEvents(ctx context.Context, f Filter) ([]models.EventDetails, error) {
	out := []models.EventDetails{}
	if f.Empty() {
		return out, nil
	}

	var q ListQuery
	var narrow bool
	var winStart, winEnd time.Time
	if f.When != nil {
		w := f.When.In(s.opts.Location)
		if w.Hour() == 0 && w.Minute() == 0 && w.Second() == 0 && w.Nanosecond() == 0 {
			q.TimeMin = w
			q.TimeMax = w.AddDate(0, 0, 1)
		} else {
			q.TimeMin = w.Add(-s.opts.Slot)
			q.TimeMax = w.Add(s.opts.Slot)
			narrow = true
			winStart, winEnd = w, w.Add(s.opts.Slot)
		}
	} else {
		q.TimeMin = s.now()
	}

	seen := make(map[string]bool)
	var found []*models.Event
	for _, tags := range s.tagSets(f) {
		q.Tags = tags
		events, err := s.cal.List(ctx, q)
		if err != nil {
			s.logger.Error("Failed to fetch events", "taskID", f.TaskID, "sender", f.Sender, "error", err)
			return out, unavailable("list events", err)
		}
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			if narrow && !ev.Overlaps(winStart, winEnd) {
				continue
			}
			seen[ev.ID] = true
			found = append(found, ev)
		}
	}

	slices.SortFunc(found, func(a, b *models.Event) int {
		return a.StartTime.Compare(b.StartTime)
	})
	for _, ev := range found {
		out = append(out, ev.Details())
	}
	s.logger.Debug("Fetched events", "taskID", f.TaskID, "sender", f.Sender, "count", len(out))
	return out, nil
}

// DeleteEvent deletes eventID, or every event matching f when eventID is
// empty. It reports whether at least one event was actually deleted; no
// match is not an error.
func (s *Synchronizer) DeleteEvent(ctx context.Context, eventID string, f Filter) (bool, error) {
	if eventID != "" {
		if err := s.cal.Delete(ctx, eventID); err != nil {
			if errors.Is(err, ErrEventNotFound) {
				return false, nil
			}
			return false, unavailable("delete event "+eventID, err)
		}
		s.logger.Info("Event deleted.", "eventID", eventID)
		return true, nil
	}
	if f.Empty() {
		return false, nil
	}

	matches, err := s.FetchEvents(ctx, f)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		s.logger.Info("No matching events found to delete.", "taskID", f.TaskID, "sender", f.Sender)
		return false, nil
	}
	deleted := 0
	for _, m := range matches {
		if err := s.cal.Delete(ctx, m.EventID); err != nil {
			if errors.Is(err, ErrEventNotFound) {
				s.logger.Debug("Event already gone", "eventID", m.EventID)
				continue
			}
			return false, unavailable("delete event "+m.EventID, err)
		}
		deleted++
		s.logger.Info("Event deleted.", "eventID", m.EventID, "taskID", m.TaskID)
	}
	return deleted > 0, nil
}

// eventFor builds the calendar event for task at start.
func (s *Synchronizer) eventFor(task *models.Task, start time.Time) *models.Event {
	summary := task.What
	if summary == "" {
		summary = "Task"
	}
	desc := strings.Join([]string{
		"Task: " + task.ID,
		"Task From: " + task.Sender,
		"What: " + task.What,
		"How: " + task.How,
		"Where: " + task.Where,
		"With Whom: " + task.WithWhom,
	}, "\n")
	return &models.Event{
		Summary:     summary,
		Description: desc,
		Location:    task.Where,
		StartTime:   start,
		EndTime:     start.Add(s.opts.Slot),
		Tags: map[string]string{
			models.TagTaskID: task.ID,
			models.TagSender: task.Sender,
		},
	}
}

// tagSets expands f into one tag query per accepted sender form.
func (s *Synchronizer) tagSets(f Filter) []map[string]string {
	base := map[string]string{}
	if f.TaskID != "" {
		base[models.TagTaskID] = f.TaskID
	}
	if f.Sender == "" {
		return []map[string]string{base}
	}
	var sets []map[string]string
	for _, form := range SenderForms(f.Sender, s.opts.ChannelPrefix) {
		tags := maps.Clone(base)
		tags[models.TagSender] = form
		sets = append(sets, tags)
	}
	return sets
}

func (s *Synchronizer) notify(ctx context.Context, to, text string) {
	if s.notifier == nil || to == "" || to == models.SelfSender {
		return
	}
	if err := s.notifier.Send(ctx, text, to); err != nil {
		s.logger.Warn("Failed to send notice", "to", to, "error", err)
	}
}

// NormalizeSender strips a channel scheme such as "whatsapp:" from sender.
func NormalizeSender(sender string) string {
	if i := strings.LastIndex(sender, ":"); i >= 0 {
		return sender[i+1:]
	}
	return sender
}

// SenderForms lists the stored forms a sender may appear under.
func SenderForms(sender, prefix string) []string {
	bare := NormalizeSender(sender)
	forms := []string{bare}
	if prefix != "" && prefix+bare != bare {
		forms = append(forms, prefix+bare)
	}
	if sender != bare && !slices.Contains(forms, sender) {
		forms = append(forms, sender)
	}
	return forms
}
