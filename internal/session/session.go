// Package session tracks live voice calls and their transcripts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned for calls that were never started or already stopped.
var ErrNotFound = errors.New("session not found")

// Turn is one utterance in a call transcript.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// HistoryStore keeps call transcripts.
type HistoryStore interface {
	Append(ctx context.Context, callID string, turn Turn) error
	History(ctx context.Context, callID string) ([]Turn, error)
	Delete(ctx context.Context, callID string) error
}

// Session is a live call. Its context is cancelled when the call stops, so
// work started on behalf of the call cannot outlive it.
type Session struct {
	ID        string
	Sender    string
	StartedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen time.Time // guarded by Manager.mu
}

// Context returns the call-scoped context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Manager owns the set of live sessions.
type Manager struct {
	logger  *slog.Logger
	history HistoryStore

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager creates a new session manager.
func NewManager(logger *slog.Logger, history HistoryStore) *Manager {
	return &Manager{
		logger:   logger,
		history:  history,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Start registers a call. Starting a call that is already live returns the
// existing session.
func (m *Manager) Start(parent context.Context, callID, sender string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[callID]; ok {
		s.lastSeen = now
		return s
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &Session{ID: callID, Sender: sender, StartedAt: now, ctx: ctx, cancel: cancel, lastSeen: now}
	m.sessions[callID] = s
	m.logger.Info("Call started", "callID", callID, "sender", sender)
	return s
}

// Get returns the live session for callID.
func (m *Manager) Get(callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return s, nil
}

// Record appends a turn to the call transcript and returns the whole transcript.
func (m *Manager) Record(s *Session, role, content string) ([]Turn, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	m.mu.Lock()
	now := m.now()
	s.lastSeen = now
	m.mu.Unlock()

	if err := m.history.Append(s.ctx, s.ID, Turn{Role: role, Content: content, At: now}); err != nil {
		return nil, fmt.Errorf("failed to record turn: %w", err)
	}
	return m.history.History(s.ctx, s.ID)
}

// Stop ends the call, cancels its context and drops its transcript.
func (m *Manager) Stop(ctx context.Context, callID string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	delete(m.sessions, callID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	s.cancel()
	if err := m.history.Delete(ctx, callID); err != nil {
		m.logger.Warn("Failed to drop call history", "callID", callID, "error", err)
	}
	m.logger.Info("Call stopped", "callID", callID, "duration", time.Since(s.StartedAt).Round(time.Second))
	return nil
}

// StopAll ends every live call.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Stop(ctx, id)
	}
}

// Sweep stops the calls that saw no activity for longer than idle, which
// covers calls that dropped without a stop signal. It returns how many
// calls were stopped.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	stopped := 0
	for _, id := range stale {
		if err := m.Stop(ctx, id); err == nil {
			m.logger.Info("Evicted idle call", "callID", id, "idle", idle)
			stopped++
		}
	}
	return stopped
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, idle, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx, idle)
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Transcript renders turns as "role: content" lines.
func Transcript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
