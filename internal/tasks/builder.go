package tasks

import (
	"github.com/google/uuid"

	"aide/internal/models"
)

// Build assembles a new pending task from classifier details and the origin
// identifier. Every call generates a fresh random task id.
func Build(details models.TaskDetails, id models.Identifier) *models.Task {
	task := &models.Task{
		ID:        uuid.NewString(),
		Source:    id.Source,
		Sender:    id.Sender,
		CallID:    id.CallID,
		MessageID: id.MessageID,
		EmailID:   id.EmailID,
		Timestamp: id.Timestamp,
		What:      details.What,
		How:       details.How,
		Where:     details.Where,
		WithWhom:  details.WithWhom,
		Priority:  details.Priority,
		Status:    models.StatusPending,
	}
	if details.When != nil {
		when := *details.When
		requested := when
		task.When = &when
		task.RequestedAt = &requested
	}
	return task
}
