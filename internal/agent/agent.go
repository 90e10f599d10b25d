// Package agent orchestrates sessions per conversation: turn-taking, reply
// delivery, and session teardown.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/onwardai/keith-agent/internal/metrics"
	"github.com/onwardai/keith-agent/internal/session"
	"github.com/onwardai/keith-agent/internal/transport"
	"github.com/onwardai/keith-agent/internal/utils"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a completed session stays up after its final
// reply, so an in-flight delivery is not cut off.
const DefaultGracePeriod = 5 * time.Second

// SessionFactory builds a fresh isolated session for a conversation.
type SessionFactory func(id string) *session.Session

type entry struct {
	mu   sync.Mutex
	sess *session.Session
}

// Agent owns the session registry and implements transport.Handler. Turns
// within one session are serialized; sessions run independently of each other
// and a failure in one never affects the rest.
type Agent struct {
	transport  transport.Transport
	newSession SessionFactory
	logger     *zap.Logger
	metrics    *metrics.Metrics
	grace      time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
}

// New creates an agent. A zero grace falls back to DefaultGracePeriod.
func New(t transport.Transport, factory SessionFactory, grace time.Duration, m *metrics.Metrics, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Agent{
		transport:  t,
		newSession: factory,
		logger:     logger,
		metrics:    m,
		grace:      grace,
		sessions:   make(map[string]*entry),
	}
}

// Run blocks serving transport events until the context is canceled.
func (a *Agent) Run(ctx context.Context) error {
	return a.transport.Run(ctx, a)
}

// OnUserText handles one inbound utterance for a session.
func (a *Agent) OnUserText(ctx context.Context, sessionID, text string) {
	e := a.sessionFor(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		// A panicking session is contained: log, tear down, keep serving the
		// other conversations.
		if r := recover(); r != nil {
			a.logger.Error("session panicked", zap.String("session_id", sessionID), zap.Any("panic", r))
			a.teardown(sessionID)
		}
	}()

	replies := e.sess.Respond(ctx, text)
	for _, reply := range replies {
		if err := a.transport.Deliver(ctx, sessionID, reply); err != nil {
			a.logger.Error("delivery failed", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		a.metrics.ReplyDelivered()
	}

	if e.sess.Done() {
		a.logger.Info("session complete, scheduling teardown",
			zap.String("session_id", sessionID),
			zap.Duration("grace", a.grace),
		)
		go a.teardownAfterGrace(ctx, sessionID)
	}
}

// OnDisconnect tears the session down immediately.
func (a *Agent) OnDisconnect(sessionID string) {
	a.teardown(sessionID)
}

// ActiveSessions returns the number of live sessions.
func (a *Agent) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *Agent) sessionFor(sessionID string) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.sessions[sessionID]; ok {
		return e
	}

	e := &entry{sess: a.newSession(sessionID)}
	a.sessions[sessionID] = e
	a.metrics.SessionStarted()
	a.logger.Info("session started", zap.String("session_id", sessionID))
	return e
}

// teardownAfterGrace waits out the grace period before removing the session,
// giving the just-issued final reply time to reach the human.
func (a *Agent) teardownAfterGrace(ctx context.Context, sessionID string) {
	_ = utils.WaitFor(ctx, a.grace)
	a.teardown(sessionID)
}

func (a *Agent) teardown(sessionID string) {
	a.mu.Lock()
	e, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}

	e.sess.Terminate()
	a.metrics.SessionEnded()
	a.logger.Info("session ended", zap.String("session_id", sessionID))
}
