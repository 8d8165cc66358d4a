package models

import "time"

// Private metadata keys attached to every calendar event this service creates.
const (
	TagTaskID = "task_id"
	TagSender = "sender"
)

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID          string            // Identifier assigned by the calendar service
	Summary     string            // Summary or title of the event
	Description string            // Detailed description of the event
	Location    string            // Location of the event
	StartTime   time.Time         // Start time of the event
	EndTime     time.Time         // End time of the event
	Tags        map[string]string // Private metadata, not visible in the event body
	Source      string            // The backend that produced the event (e.g., "google")
}

// TaskID returns the owning task id carried in the event's private metadata.
func (e *Event) TaskID() string {
	return e.Tags[TagTaskID]
}

// Sender returns the originator carried in the event's private metadata.
func (e *Event) Sender() string {
	return e.Tags[TagSender]
}

// Overlaps reports whether the event intersects [start, end).
// Events that only touch the window boundary do not overlap.
func (e *Event) Overlaps(start, end time.Time) bool {
	return start.Before(e.EndTime) && end.After(e.StartTime)
}

// EventDetails is the projection of an event returned by searches.
type EventDetails struct {
	EventID     string    `json:"event_id"`
	TaskID      string    `json:"task_id"`
	Sender      string    `json:"sender"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
}

// Details builds the search projection of the event.
func (e *Event) Details() EventDetails {
	return EventDetails{
		EventID:     e.ID,
		TaskID:      e.TaskID(),
		Sender:      e.Sender(),
		Start:       e.StartTime,
		End:         e.EndTime,
		Summary:     e.Summary,
		Description: e.Description,
	}
}
