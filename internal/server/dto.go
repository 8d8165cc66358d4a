package server

import (
	"time"

	"aide/internal/models"
)

// EmailRequest is the body of POST /email.
type EmailRequest struct {
	EmailID   string    `json:"email_id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// StartCallRequest is the body of POST /calls/:id/start.
type StartCallRequest struct {
	From string `json:"from"`
}

// TurnRequest is the body of POST /calls/:id/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// CallResponse describes a live call.
type CallResponse struct {
	CallID    string    `json:"call_id"`
	From      string    `json:"from"`
	StartedAt time.Time `json:"started_at"`
}

// EventsResponse is the response of GET /events.
type EventsResponse struct {
	Events []models.EventDetails `json:"events"`
	Total  int                   `json:"total"`
}

// TasksResponse is the response of GET /tasks.
type TasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

// HealthDataResponse acknowledges a stored health export.
type HealthDataResponse struct {
	Status string `json:"status"`
	Day    string `json:"day"`
}

// HealthResponse is the HTTP response for health check.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the HTTP response for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
