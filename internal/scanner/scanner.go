// Package scanner owns the capture-session boundary between an external
// decoder (camera, wedge scanner) and the rest of the application. The
// decoder's only contract is a plain string per successful decode.
package scanner

import (
	"log/slog"
	"strings"
	"sync"
)

// DecodeHandler receives one decoded identifier.
type DecodeHandler func(code string)

// Session is one exclusive capture session. At most one session is active
// per manager: starting a new one implicitly stops the previous session.
type Session struct {
	mu      sync.Mutex
	handler DecodeHandler
	stopped bool
}

// Deliver forwards one decoded payload to the session handler. Deliveries
// after Stop, and blank payloads, are dropped.
func (s *Session) Deliver(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	s.mu.Lock()
	handler := s.handler
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || handler == nil {
		return
	}
	handler(code)
}

// Stop ends the session. Stopping twice is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.handler = nil
	s.mu.Unlock()
}

// Active reports whether the session still accepts deliveries.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Manager enforces session exclusivity.
type Manager struct {
	mu      sync.Mutex
	current *Session
	logger  *slog.Logger
}

// NewManager constructs a session manager. A nil logger falls back to
// slog.Default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Start opens a new capture session, stopping any session already running.
func (m *Manager) Start(handler DecodeHandler) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Active() {
		m.current.Stop()
		m.logger.Debug("previous scan session stopped")
	}
	m.current = &Session{handler: handler}
	return m.current
}

// Stop ends the active session, if any. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Stop()
	}
}

// Deliver routes one decode to the active session, dropping it when no
// session is running.
func (m *Manager) Deliver(code string) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current != nil {
		current.Deliver(code)
	}
}

// Active reports whether a capture session is currently running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Active()
}
