package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusScheduled TaskStatus = "scheduled"
	StatusCancelled TaskStatus = "cancelled"
)

// ParseStatus maps stored or user supplied status strings onto a TaskStatus.
// "available" is the legacy name for a scheduled task.
func ParseStatus(s string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "scheduled", "available":
		return StatusScheduled, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	}
	return "", false
}

// Source names the channel a task originated from.
type Source string

const (
	SourceChat  Source = "chat"
	SourceEmail Source = "email"
	SourceCall  Source = "call"
	SourceCLI   Source = "cli"
)

// SelfSender is the synthetic originator used for tasks the owner creates
// directly. Notices are never sent to it.
const SelfSender = "self"

// Identifier describes where a task came from. It is merged into the task verbatim.
type Identifier struct {
	Source    Source
	Sender    string
	CallID    string
	MessageID string
	EmailID   string
	Timestamp time.Time
}

// TaskDetails carries the descriptive fields extracted by the classifier.
type TaskDetails struct {
	What     string
	When     *time.Time
	How      string
	Where    string
	WithWhom string
	Priority string
}

// Task is a unit of scheduled work or commitment.
type Task struct {
	ID          string     `gorm:"primarykey;column:task_id;size:36" json:"task_id"`
	Source      Source     `gorm:"size:16;index" json:"source"`
	Sender      string     `gorm:"size:64;index" json:"sender"`
	CallID      string     `gorm:"size:64" json:"call_id,omitempty"`
	MessageID   string     `gorm:"size:64;index" json:"message_id,omitempty"`
	EmailID     string     `gorm:"size:128;index" json:"email_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	What        string     `gorm:"size:500" json:"what"`
	How         string     `gorm:"size:500" json:"how"`
	Where       string     `gorm:"column:where_;size:500" json:"where"`
	WithWhom    string     `gorm:"size:500" json:"with_whom"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	When        *time.Time `gorm:"column:when_" json:"when,omitempty"`
	Status      TaskStatus `gorm:"size:16;index;not null" json:"status"`
	Priority    string     `gorm:"size:32" json:"priority,omitempty"`
	EventID     string     `gorm:"size:128" json:"event_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the table name for the Task model.
func (Task) TableName() string {
	return "tasks"
}

// Active reports whether the task has not been cancelled.
func (t *Task) Active() bool {
	return t.Status != StatusCancelled
}

// ValidateForScheduling checks the fields a calendar booking needs.
func (d TaskDetails) ValidateForScheduling() error {
	switch {
	case d.What == "" && d.When == nil:
		return fmt.Errorf("%w: what and when are required", ErrInvalidInput)
	case d.What == "":
		return fmt.Errorf("%w: what is required", ErrInvalidInput)
	case d.When == nil:
		return fmt.Errorf("%w: when is required", ErrInvalidInput)
	}
	return nil
}
