package intent

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"aide/internal/models"
	"aide/internal/scheduler"
	"aide/internal/tasks"
)

// Status summarises the outcome of a handled input for the channel that sent it.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusShifted     Status = "shifted"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusNotFound    Status = "not_found"
	StatusWhenMissing Status = "when_missing"
	StatusUnavailable Status = "unavailable"
	StatusStored      Status = "stored"
	StatusFound       Status = "found"
	StatusDuplicate   Status = "duplicate"
	StatusNone        Status = "none"
	StatusError       Status = "error"
)

// Reply is returned to the channel that delivered the input.
type Reply struct {
	Status Status                `json:"status"`
	Text   string                `json:"text"`
	Tasks  []*models.Task        `json:"tasks,omitempty"`
	Events []models.EventDetails `json:"events,omitempty"`
}

// Inbound is one unit of text to classify and act on.
type Inbound struct {
	Identifier models.Identifier
	Text       string
}

// TaskStore is the task persistence the router needs.
type TaskStore interface {
	InsertTask(ctx context.Context, task *models.Task) error
	FindTasks(ctx context.Context, q tasks.Query) ([]*models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, eventID string) error
	SaveMessage(ctx context.Context, msg *models.Message) (bool, error)
}

// Router dispatches decoded requests to the scheduler and the task store.
type Router struct {
	logger     *slog.Logger
	classifier Classifier
	store      TaskStore
	sync       *scheduler.Synchronizer
	finder     *scheduler.Finder
	location   *time.Location
}

// NewRouter creates a new Router.
func NewRouter(logger *slog.Logger, classifier Classifier, store TaskStore, synchronizer *scheduler.Synchronizer, finder *scheduler.Finder, loc *time.Location) *Router {
	if loc == nil {
		loc = time.UTC
	}
	return &Router{
		logger:     logger,
		classifier: classifier,
		store:      store,
		sync:       synchronizer,
		finder:     finder,
		location:   loc,
	}
}

// HandleMessage records an inbound chat message or email and acts on it.
// A message whose id was already seen is skipped.
func (r *Router) HandleMessage(ctx context.Context, msg *models.Message) (*Reply, error) {
	isNew, err := r.store.SaveMessage(ctx, msg)
	if err != nil {
		r.logger.Error("Failed to store message", "messageID", msg.MessageID, "emailID", msg.EmailID, "error", err)
		return failure("Failed to process message at this moment. Please try again later."), nil
	}
	if !isNew {
		r.logger.Info("Skipping duplicate message", "messageID", msg.MessageID, "emailID", msg.EmailID)
		return &Reply{Status: StatusDuplicate}, nil
	}

	text := msg.Body
	if msg.Subject != "" {
		text = "Subject: " + msg.Subject + "\n" + msg.Body
	}
	return r.Handle(ctx, Inbound{Identifier: msg.Identifier(), Text: text})
}

// Handle classifies the input and dispatches the resulting request.
func (r *Router) Handle(ctx context.Context, in Inbound) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := r.classifier.Classify(ctx, in.Identifier.Source, in.Text)
	if err != nil {
		if errors.Is(err, ErrClassifierMalformed) {
			return r.Dispatch(ctx, Malformed{Err: err}, in.Identifier)
		}
		r.logger.Error("Classifier failed", "source", in.Identifier.Source, "sender", in.Identifier.Sender, "error", err)
		return failure("Failed to process message at this moment. Please try again later."), nil
	}
	return r.Dispatch(ctx, Decode(raw, r.location), in.Identifier)
}

// Dispatch executes req on behalf of the originator described by id.
// Failures are reported in the Reply; the returned error is only set when ctx
// has ended.
func (r *Router) Dispatch(ctx context.Context, req Request, id models.Identifier) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("Dispatching request", "kind", req.Kind(), "source", id.Source, "sender", id.Sender)

	switch req := req.(type) {
	case ScheduleRequest:
		return r.schedule(ctx, req, id), nil
	case RescheduleRequest:
		return r.reschedule(ctx, req, id), nil
	case CancelRequest:
		return r.cancel(ctx, req, id), nil
	case SearchRequest:
		return r.search(ctx, req, id), nil
	case NoOp:
		return &Reply{Status: StatusNone}, nil
	case Malformed:
		r.logger.Warn("Rejected classifier output", "source", id.Source, "sender", id.Sender, "error", req.Err)
		if errors.Is(req.Err, ErrWhenMissing) {
			return &Reply{Status: StatusWhenMissing, Text: req.Err.Error()}, nil
		}
		return &Reply{Status: StatusError, Text: req.Err.Error()}, nil
	}
	return nil, fmt.Errorf("unhandled request kind %q", req.Kind())
}

func (r *Router) schedule(ctx context.Context, req ScheduleRequest, id models.Identifier) *Reply {
	reply := &Reply{Status: StatusStored}
	var texts []string
	var failed *Reply
	stored, booked := 0, 0
	for _, details := range req.Tasks {
		task := tasks.Build(details, id)

		if req.Extracted && (task.When == nil || !scheduler.RequiresCalendar(task.What)) {
			if err := r.store.InsertTask(ctx, task); err != nil {
				r.logger.Error("Failed to store task", "taskID", task.ID, "error", err)
				sub := failure(fmt.Sprintf("Failed to save %q at this moment. Please try again later.", task.What))
				failed = cmp.Or(failed, sub)
				texts = append(texts, sub.Text)
				continue
			}
			r.logger.Info("Stored task without calendar event", "taskID", task.ID, "what", task.What)
			reply.Tasks = append(reply.Tasks, task)
			stored++
			continue
		}

		sub := r.book(ctx, task)
		texts = append(texts, sub.Text)
		if sub.Status == StatusError || sub.Status == StatusUnavailable {
			failed = cmp.Or(failed, sub)
			continue
		}
		booked++
		reply.Status = sub.Status
		reply.Tasks = append(reply.Tasks, task)
	}
	if stored > 0 && booked == 0 && failed == nil {
		texts = append(texts, fmt.Sprintf("Saved %d task(s).", stored))
	}
	if failed != nil && len(reply.Tasks) == 0 {
		failed.Text = strings.Join(texts, "\n")
		return failed
	}
	reply.Text = strings.Join(texts, "\n")
	return reply
}

// book finds a slot for task, persists it and creates its calendar event.
// Nothing is persisted when no slot can be found.
func (r *Router) book(ctx context.Context, task *models.Task, except ...string) *Reply {
	slot, err := r.finder.FindSlot(ctx, *task.When, except...)
	if err != nil {
		return r.unavailable(task, err)
	}
	task.When = &slot

	if err := r.store.InsertTask(ctx, task); err != nil {
		r.logger.Error("Failed to store task", "taskID", task.ID, "error", err)
		return failure("Failed to save task at this moment. Please try again later.")
	}

	booking, err := r.sync.CreateEvent(ctx, task, except...)
	if err != nil {
		// the task stays pending; no event exists for it
		return r.unavailable(task, err)
	}
	if err := r.store.UpdateStatus(ctx, task.ID, models.StatusScheduled, booking.EventID); err != nil {
		r.logger.Error("Failed to mark task scheduled", "taskID", task.ID, "eventID", booking.EventID, "error", err)
	}
	task.Status = models.StatusScheduled

	status := StatusScheduled
	if booking.Shifted {
		status = StatusShifted
	}
	return &Reply{Status: status, Text: booking.Message(r.location)}
}

func (r *Router) unavailable(task *models.Task, err error) *Reply {
	r.logger.Warn("Could not book task", "taskID", task.ID, "error", err)
	switch {
	case errors.Is(err, scheduler.ErrNoSlotAvailable):
		return &Reply{Status: StatusUnavailable, Text: "No free slot is available near the requested time."}
	case errors.Is(err, scheduler.ErrCalendarUnavailable):
		return &Reply{Status: StatusUnavailable, Text: "Failed to schedule event at this moment. Please try again later."}
	}
	return failure(err.Error())
}

func (r *Router) reschedule(ctx context.Context, req RescheduleRequest, id models.Identifier) *Reply {
	filter := r.ownerFilter(req.TaskID, req.From, id)
	if filter.Empty() {
		return &Reply{Status: StatusNotFound, Text: "No appointment found to reschedule."}
	}
	matches, err := r.sync.FetchEvents(ctx, filter)
	if err != nil {
		return r.calendarError(err)
	}
	old, ok := superseded(matches, req.Details.What)
	if !ok {
		return &Reply{Status: StatusNotFound, Text: "No appointment found to reschedule."}
	}

	details := req.Details
	if details.What == "" {
		details.What = old.Summary
	}
	var except []string
	if old.TaskID != "" {
		except = append(except, old.TaskID)
	}

	task := tasks.Build(details, id)
	reply := r.book(ctx, task, except...)
	if reply.Status != StatusScheduled && reply.Status != StatusShifted {
		return reply
	}

	if _, err := r.sync.DeleteEvent(ctx, old.EventID, scheduler.Filter{}); err != nil {
		r.logger.Error("Failed to delete superseded event", "eventID", old.EventID, "error", err)
	} else {
		r.markCancelled(ctx, old.TaskID)
	}

	reply.Status = StatusRescheduled
	reply.Tasks = []*models.Task{task}
	return reply
}

// superseded picks the one booking a reschedule replaces: the match whose
// summary equals what, otherwise the earliest match.
func superseded(matches []models.EventDetails, what string) (models.EventDetails, bool) {
	if len(matches) == 0 {
		return models.EventDetails{}, false
	}
	if what = strings.TrimSpace(what); what != "" {
		for _, m := range matches {
			if strings.EqualFold(strings.TrimSpace(m.Summary), what) {
				return m, true
			}
		}
	}
	return slices.MinFunc(matches, func(a, b models.EventDetails) int {
		return a.Start.Compare(b.Start)
	}), true
}

func (r *Router) cancel(ctx context.Context, req CancelRequest, id models.Identifier) *Reply {
	filter := r.ownerFilter(req.TaskID, req.When, id)
	if filter.Empty() {
		return &Reply{Status: StatusNotFound, Text: "No appointment found to cancel."}
	}
	matches, err := r.sync.FetchEvents(ctx, filter)
	if err != nil {
		return r.calendarError(err)
	}
	if len(matches) == 0 {
		if req.TaskID != "" && r.cancelUnbooked(ctx, req.TaskID) {
			return &Reply{Status: StatusCancelled, Text: "Your task has been cancelled."}
		}
		return &Reply{Status: StatusNotFound, Text: "No appointment found to cancel."}
	}

	for _, m := range matches {
		if _, err := r.sync.DeleteEvent(ctx, m.EventID, scheduler.Filter{}); err != nil {
			return r.calendarError(err)
		}
		r.markCancelled(ctx, m.TaskID)
	}
	return &Reply{
		Status: StatusCancelled,
		Text:   "Your meeting has been cancelled.",
		Events: matches,
	}
}

// cancelUnbooked cancels a stored task that never got a calendar event.
func (r *Router) cancelUnbooked(ctx context.Context, taskID string) bool {
	found, err := r.store.FindTasks(ctx, tasks.Query{TaskIDs: []string{taskID}})
	if err != nil || len(found) == 0 || !found[0].Active() {
		return false
	}
	return r.markCancelled(ctx, taskID)
}

func (r *Router) markCancelled(ctx context.Context, taskID string) bool {
	if taskID == "" {
		return false
	}
	if err := r.store.UpdateStatus(ctx, taskID, models.StatusCancelled, ""); err != nil {
		r.logger.Warn("Failed to mark task cancelled", "taskID", taskID, "error", err)
		return false
	}
	return true
}

func (r *Router) search(ctx context.Context, req SearchRequest, id models.Identifier) *Reply {
	filter := r.ownerFilter(req.TaskID, req.When, id)
	if filter.Empty() {
		return &Reply{Status: StatusNotFound, Text: "No events found."}
	}
	events, err := r.sync.FetchEvents(ctx, filter)
	if err != nil {
		return r.calendarError(err)
	}
	if len(events) == 0 {
		return &Reply{Status: StatusNotFound, Text: "No events found."}
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("%s %s", ev.Start.In(r.location).Format(time.DateTime), ev.Summary))
	}
	return &Reply{Status: StatusFound, Text: strings.Join(lines, "\n"), Events: events}
}

// ownerFilter scopes a lookup. Third parties only ever see their own bookings;
// the owner may search the whole calendar.
func (r *Router) ownerFilter(taskID string, when *time.Time, id models.Identifier) scheduler.Filter {
	f := scheduler.Filter{TaskID: taskID, When: when}
	if id.Sender != "" && id.Sender != models.SelfSender {
		f.Sender = id.Sender
	}
	return f
}

func (r *Router) calendarError(err error) *Reply {
	r.logger.Error("Calendar operation failed", "error", err)
	return &Reply{Status: StatusUnavailable, Text: "The calendar is unavailable at this moment. Please try again later."}
}

func failure(text string) *Reply {
	return &Reply{Status: StatusError, Text: text}
}
