package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"aide/internal/health"
	"aide/internal/intent"
	"aide/internal/models"
	"aide/internal/scheduler"
	"aide/internal/session"
	"aide/internal/tasks"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)

	s.app.Post("/webhook", s.chatWebhook)
	s.app.Post("/email", s.emailWebhook)
	s.app.Post("/health-data", s.healthData)

	calls := s.app.Group("/calls")
	calls.Post("/:id/start", s.startCall)
	calls.Post("/:id/turns", s.callTurn)
	calls.Post("/:id/stop", s.stopCall)

	s.app.Get("/events", s.listEvents)
	s.app.Get("/tasks", s.listTasks)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"calls":    s.sessions.Len(),
			"timezone": s.location.String(),
		},
	})
}

// chatWebhook handles POST /webhook with a messaging provider's form payload.
func (s *Server) chatWebhook(c *fiber.Ctx) error {
	msg := &models.Message{
		Source:    models.SourceChat,
		MessageID: c.FormValue("MessageSid"),
		Sender:    c.FormValue("From"),
		Body:      strings.TrimSpace(c.FormValue("Body")),
		Timestamp: s.now(),
	}
	if msg.Sender == "" || msg.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "From and Body are required",
		})
	}

	reply, err := s.router.HandleMessage(c.UserContext(), msg)
	if err != nil {
		return err
	}
	return c.JSON(reply)
}

// emailWebhook handles POST /email with an already fetched email.
func (s *Server) emailWebhook(c *fiber.Ctx) error {
	var req EmailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}
	if req.EmailID == "" || req.From == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "email_id and from are required",
		})
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}

	reply, err := s.router.HandleMessage(c.UserContext(), &models.Message{
		Source:    models.SourceEmail,
		EmailID:   req.EmailID,
		Sender:    req.From,
		Subject:   req.Subject,
		Body:      req.Body,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return err
	}
	return c.JSON(reply)
}

// healthData handles POST /health-data with a health auto-export document.
func (s *Server) healthData(c *fiber.Ctx) error {
	var export health.Export
	if err := json.Unmarshal(c.Body(), &export); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid JSON data",
		})
	}

	rec := health.Normalize(export, s.now().In(s.location))
	if err := s.store.SaveHealth(c.UserContext(), rec); err != nil {
		return err
	}
	s.logger.Info("Health data stored", "day", rec.Day)
	return c.JSON(HealthDataResponse{Status: "success", Day: rec.Day})
}

// startCall handles POST /calls/:id/start.
func (s *Server) startCall(c *fiber.Ctx) error {
	var req StartCallRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request body",
			})
		}
	}

	sess := s.sessions.Start(c.UserContext(), c.Params("id"), req.From)
	return c.Status(fiber.StatusCreated).JSON(CallResponse{
		CallID:    sess.ID,
		From:      sess.Sender,
		StartedAt: sess.StartedAt,
	})
}

// callTurn handles POST /calls/:id/turns. The whole transcript so far is classified.
func (s *Server) callTurn(c *fiber.Ctx) error {
	var req TurnRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "text is required",
		})
	}

	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return callNotFound(c)
	}
	turns, err := s.sessions.Record(sess, "user", req.Text)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return callNotFound(c)
		}
		return err
	}

	reply, err := s.router.Handle(sess.Context(), intent.Inbound{
		Identifier: models.Identifier{
			Source:    models.SourceCall,
			Sender:    sess.Sender,
			CallID:    sess.ID,
			Timestamp: sess.StartedAt,
		},
		Text: session.Transcript(turns),
	})
	if err != nil {
		return c.Status(fiber.StatusGone).JSON(ErrorResponse{
			Error:   "call_ended",
			Message: "The call has ended",
		})
	}
	if reply.Text != "" {
		if _, err := s.sessions.Record(sess, "assistant", reply.Text); err != nil {
			s.logger.Warn("Failed to record assistant turn", "callID", sess.ID, "error", err)
		}
	}
	return c.JSON(reply)
}

// stopCall handles POST /calls/:id/stop.
func (s *Server) stopCall(c *fiber.Ctx) error {
	if err := s.sessions.Stop(c.UserContext(), c.Params("id")); err != nil {
		return callNotFound(c)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listEvents handles GET /events.
func (s *Server) listEvents(c *fiber.Ctx) error {
	f := scheduler.Filter{
		TaskID: c.Query("task_id"),
		Sender: c.Query("sender"),
	}
	if when := c.Query("when"); when != "" {
		t, err := intent.ParseTime(when, s.location)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
		}
		f.When = &t
	}

	events, err := s.sync.FetchEvents(c.UserContext(), f)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "calendar_unavailable",
			Message: err.Error(),
		})
	}
	return c.JSON(EventsResponse{Events: events, Total: len(events)})
}

// listTasks handles GET /tasks.
func (s *Server) listTasks(c *fiber.Ctx) error {
	var q tasks.Query
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseStatus(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "validation_error",
				Message: "Unknown status " + raw,
			})
		}
		q.Status = status
	}
	if sender := c.Query("sender"); sender != "" {
		q.Senders = scheduler.SenderForms(sender, s.channelPrefix)
	}
	q.Limit = c.QueryInt("limit", 100)

	found, err := s.store.FindTasks(c.UserContext(), q)
	if err != nil {
		return err
	}
	if found == nil {
		found = []*models.Task{}
	}
	return c.JSON(TasksResponse{Tasks: found, Total: len(found)})
}

func callNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error:   "not_found",
		Message: "Call not found",
	})
}
