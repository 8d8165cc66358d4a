// Package intent turns classifier output into scheduling actions.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aide/internal/models"
)

var (
	// ErrClassifierMalformed marks classifier output that cannot be acted on.
	ErrClassifierMalformed = errors.New("classifier output malformed")
	// ErrWhenMissing is the InvalidInput raised when a booking has no time.
	ErrWhenMissing = fmt.Errorf("%w: event time is required", models.ErrInvalidInput)
)

// Request is the closed set of actions a classified input can ask for.
type Request interface {
	Kind() string
	request()
}

// ScheduleRequest books one or more tasks.
// Extracted tasks come from passive message extraction: they are only booked
// when they carry a time and mention a scheduling keyword.
type ScheduleRequest struct {
	Tasks     []models.TaskDetails
	Extracted bool
}

// RescheduleRequest moves one of the caller's bookings to Details.When. The
// booking is picked by TaskID, else among those at From (when set) by a
// summary equal to Details.What, else the earliest one.
type RescheduleRequest struct {
	TaskID  string
	From    *time.Time
	Details models.TaskDetails
}

// CancelRequest cancels the bookings matching TaskID, When or the caller.
type CancelRequest struct {
	TaskID string
	When   *time.Time
}

// SearchRequest lists bookings matching TaskID, When or the caller.
type SearchRequest struct {
	TaskID string
	When   *time.Time
}

// NoOp needs no action.
type NoOp struct{}

// Malformed carries the reason classifier output was rejected.
type Malformed struct {
	Err error
}

func (ScheduleRequest) Kind() string   { return "schedule" }
func (RescheduleRequest) Kind() string { return "reschedule" }
func (CancelRequest) Kind() string     { return "cancel" }
func (SearchRequest) Kind() string     { return "search" }
func (NoOp) Kind() string              { return "none" }
func (Malformed) Kind() string         { return "malformed" }

func (ScheduleRequest) request()   {}
func (RescheduleRequest) request() {}
func (CancelRequest) request()     {}
func (SearchRequest) request()     {}
func (NoOp) request()              {}
func (Malformed) request()         {}

type payloadDetails struct {
	What     string `json:"what"`
	When     string `json:"when"`
	How      string `json:"how"`
	Where    string `json:"where"`
	WithWhom string `json:"with_whom"`
	// legacy calendar action fields
	Time    string `json:"time"`
	Purpose string `json:"purpose"`
	Error   string `json:"error"`
	// time of the booking being moved
	PreviousWhen string `json:"previous_when"`
}

type payloadTask struct {
	What     string `json:"What"`
	When     string `json:"When"`
	How      string `json:"How"`
	Where    string `json:"Where"`
	WithWhom string `json:"With Whom"`
}

type payloadActions struct {
	Type         string          `json:"type"`
	Details      *payloadDetails `json:"details"`
	EventDetails *payloadDetails `json:"event_details"`
}

type payload struct {
	Intent   string          `json:"intent"`
	Details  *payloadDetails `json:"details"`
	Actions  *payloadActions `json:"actions"`
	TaskID   string          `json:"task_id"`
	Priority string          `json:"priority"`
	Error    string          `json:"error"`

	Category      string        `json:"Category"`
	Tasks         []payloadTask `json:"Tasks"`
	ExtraPriority string        `json:"Priority"`
}

// Decode validates classifier output and converts it into a Request.
// Times without an explicit offset are read in loc.
func Decode(raw []byte, loc *time.Location) Request {
	if loc == nil {
		loc = time.UTC
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return malformed("invalid response from the classifier")
	}
	if p.Error != "" {
		return malformed(p.Error)
	}

	details, kind := p.Details, ""
	if p.Actions != nil {
		kind = strings.ToLower(p.Actions.Type)
		if details == nil {
			details = p.Actions.Details
		}
		if details == nil {
			details = p.Actions.EventDetails
		}
	}
	if details != nil && details.Error != "" {
		return malformed(details.Error)
	}

	intent := strings.ToLower(strings.TrimSpace(p.Intent))
	if intent == "" && len(p.Tasks) > 0 {
		return decodeExtracted(p, loc)
	}
	if intent == "" && p.Category != "" {
		return NoOp{}
	}

	switch intent {
	case "":
		return malformed("intent not found in response")
	case "schedule", "schedule_appt":
		return decodeSchedule(details, p.Priority, loc)
	case "reschedule", "reschedule_appt":
		return decodeReschedule(details, p.TaskID, p.Priority, loc)
	case "cancel", "cancel_appt":
		when, err := optionalTime(details, loc)
		if err != nil {
			return Malformed{Err: err}
		}
		return CancelRequest{TaskID: p.TaskID, When: when}
	case "search":
		when, err := optionalTime(details, loc)
		if err != nil {
			return Malformed{Err: err}
		}
		return SearchRequest{TaskID: p.TaskID, When: when}
	case "calendar":
		return decodeCalendar(kind, details, p.TaskID, p.Priority, loc)
	case "none", "other":
		return NoOp{}
	}
	return NoOp{}
}

// decodeCalendar handles the {"intent":"calendar","actions":{"type":...}} form.
func decodeCalendar(kind string, d *payloadDetails, taskID, priority string, loc *time.Location) Request {
	if d == nil {
		return malformed("missing or invalid event_details")
	}
	if d.When == "" && d.Time == "" {
		return Malformed{Err: ErrWhenMissing}
	}
	switch kind {
	case "create":
		return decodeSchedule(d, priority, loc)
	case "delete":
		when, err := optionalTime(d, loc)
		if err != nil {
			return Malformed{Err: err}
		}
		return CancelRequest{TaskID: taskID, When: when}
	case "search":
		when, err := optionalTime(d, loc)
		if err != nil {
			return Malformed{Err: err}
		}
		return SearchRequest{TaskID: taskID, When: when}
	}
	return malformed(fmt.Sprintf("unknown calendar action type: %s", kind))
}

func decodeSchedule(d *payloadDetails, priority string, loc *time.Location) Request {
	details, err := bookingDetails(d, priority, loc)
	if err != nil {
		return Malformed{Err: err}
	}
	if err := details.ValidateForScheduling(); err != nil {
		return Malformed{Err: err}
	}
	return ScheduleRequest{Tasks: []models.TaskDetails{details}}
}

func decodeReschedule(d *payloadDetails, taskID, priority string, loc *time.Location) Request {
	details, err := bookingDetails(d, priority, loc)
	if err != nil {
		return Malformed{Err: err}
	}
	req := RescheduleRequest{TaskID: taskID, Details: details}
	if s := strings.TrimSpace(d.PreviousWhen); s != "" {
		from, err := ParseTime(s, loc)
		if err != nil {
			return Malformed{Err: err}
		}
		req.From = &from
	}
	return req
}

// bookingDetails converts d and requires a parseable time.
func bookingDetails(d *payloadDetails, priority string, loc *time.Location) (models.TaskDetails, error) {
	if d == nil {
		return models.TaskDetails{}, ErrWhenMissing
	}
	when, err := optionalTime(d, loc)
	if err != nil {
		return models.TaskDetails{}, err
	}
	if when == nil {
		return models.TaskDetails{}, ErrWhenMissing
	}
	what := d.What
	if what == "" {
		what = d.Purpose
	}
	return models.TaskDetails{
		What:     what,
		When:     when,
		How:      d.How,
		Where:    d.Where,
		WithWhom: d.WithWhom,
		Priority: priority,
	}, nil
}

func decodeExtracted(p payload, loc *time.Location) Request {
	priority := p.Priority
	if priority == "" {
		priority = p.ExtraPriority
	}
	req := ScheduleRequest{Extracted: true}
	for _, t := range p.Tasks {
		if strings.TrimSpace(t.What) == "" {
			continue
		}
		d := models.TaskDetails{
			What:     t.What,
			How:      t.How,
			Where:    t.Where,
			WithWhom: t.WithWhom,
			Priority: priority,
		}
		if when, err := ParseTime(t.When, loc); err == nil {
			d.When = &when
		}
		req.Tasks = append(req.Tasks, d)
	}
	if len(req.Tasks) == 0 {
		return NoOp{}
	}
	return req
}

func optionalTime(d *payloadDetails, loc *time.Location) (*time.Time, error) {
	if d == nil {
		return nil, nil
	}
	s := d.When
	if s == "" {
		s = d.Time
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTime(s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var timeLayouts = []string{
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTime reads s as RFC 3339 or as a local "YYYY-MM-DD[ HH:MM[:SS]]" time in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date format %q. Use YYYY-MM-DD HH:MM:SS", models.ErrInvalidInput, s)
}

func malformed(reason string) Malformed {
	return Malformed{Err: fmt.Errorf("%w: %s", ErrClassifierMalformed, reason)}
}
