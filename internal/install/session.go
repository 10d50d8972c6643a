package install

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pier/pkg/logging"
)

// SessionState is the lifecycle of one installation attempt.
type SessionState string

const (
	StatePlanning     SessionState = "planning"
	StateRunning      SessionState = "running"
	StateAwaitingAuth SessionState = "awaiting_auth"
	StateCompleted    SessionState = "completed"
	StateFailed       SessionState = "failed"
)

// Terminal reports whether the session can never change again.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is a point-in-time copy of a session, safe to retain and render
// after the session has moved on.
type Snapshot struct {
	SessionID    string       `json:"sessionId"`
	Server       string       `json:"server"`
	State        SessionState `json:"state"`
	Steps        []Step       `json:"steps"`
	SessionError string       `json:"sessionError,omitempty"`
}

// session is the orchestrator's mutable record of one installation attempt.
// It holds no reference to the package struct the run goroutine works on;
// everything observers can reach is guarded by the mutex.
type session struct {
	mu sync.Mutex

	id     string
	server string
	state  SessionState
	steps  []Step
	err    string
	cancel context.CancelFunc
}

func newSession(server string, plan []StepID) *session {
	steps := make([]Step, len(plan))
	for i, id := range plan {
		steps[i] = Step{ID: id, Label: labelFor(id), Status: StepPending}
	}
	return &session{
		id:     uuid.NewString(),
		server: server,
		state:  StatePlanning,
		steps:  steps,
	}
}

func (s *session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// requestCancel aborts the session if it is still cancellable.
func (s *session) requestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StateAwaitingAuth {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
}

// transition moves step i to status, enforcing the monotonic lifecycle.
// Invalid transitions are dropped with a warning rather than applied.
func (s *session) transition(i int, status StepStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(i, status, message)
}

// transitionLocked requires s.mu to be held.
func (s *session) transitionLocked(i int, status StepStatus, message string) {
	step := &s.steps[i]
	if !canTransition(step.Status, status) {
		logging.Warn("Install", "Dropping invalid step transition %s: %s -> %s", step.ID, step.Status, status)
		return
	}
	step.Status = status
	step.Message = message
}

// fail marks step i terminal with reason and moves the session to Failed in
// one critical section, so no observer sees a failed step on a still-running
// session. Later steps stay pending forever.
func (s *session) fail(i int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(i, StepError, reason)
	if s.state.Terminal() {
		return
	}
	s.err = reason
	s.state = StateFailed
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)
	return Snapshot{
		SessionID:    s.id,
		Server:       s.server,
		State:        s.state,
		Steps:        steps,
		SessionError: s.err,
	}
}
