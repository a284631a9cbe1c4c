package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/backoff"
	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// DefaultStableAfter is used when Config.StableAfter is zero.
const DefaultStableAfter = 30 * time.Second

// Runner runs one connection session.
//
// Run connects, calls ready once the connection is usable, and then serves
// until the session fails (non-nil error), the work is finished (nil) or
// ctx is cancelled. Each call starts a fresh session.
type Runner interface {
	Run(ctx context.Context, ready func()) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ready func()) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, ready func()) error {
	return f(ctx, ready)
}

// Transition describes a connection state change.
type Transition struct {
	Name string
	From domain.ConnectionState
	To   domain.ConnectionState

	// Attempt is the consecutive failure count (Backoff only).
	Attempt int

	// Delay is the wait before the next attempt (Backoff only).
	Delay time.Duration

	// Err is the failure that caused the transition, if any.
	Err error

	At time.Time
}

// Config holds configuration for a Manager.
type Config struct {
	// Name identifies the connection in logs and events ("bus", "chat").
	Name string

	// Backoff computes reconnect delays.
	Backoff backoff.Policy

	// StableAfter resets the backoff once a session stayed up this long.
	StableAfter time.Duration

	// OnTransition is called after every state change, outside any lock.
	OnTransition func(Transition)
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises a single connection.
//
// Only the goroutine executing Run mutates the state; every other method
// returns a snapshot.
type Manager struct {
	config Config
	runner Runner
	logger Logger

	mu          sync.RWMutex
	state       domain.ConnectionState
	attempt     int
	connects    int
	failures    int
	lastError   error
	connectedAt time.Time

	// upSince is when the current session reported ready, zero if it never did.
	upSince time.Time

	// Injected for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewManager creates a Manager for runner.
func NewManager(cfg Config, runner Runner) *Manager {
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.New(0, 0, 0, 0)
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}

	return &Manager{
		config: cfg,
		runner: runner,
		logger: noopLogger{},
		state:  domain.StateDisconnected,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Name returns the connection name.
func (m *Manager) Name() string {
	return m.config.Name
}

// Run supervises the connection until ctx is cancelled or the runner
// returns nil. It always ends in Disconnected.
func (m *Manager) Run(ctx context.Context) {
	defer m.transition(domain.StateDisconnected, 0, nil)

	for {
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.upSince = time.Time{}
		m.mu.Unlock()
		m.transition(domain.StateConnecting, 0, nil)

		err := m.runner.Run(ctx, func() {
			now := m.now()
			m.mu.Lock()
			m.connects++
			m.upSince = now
			m.connectedAt = now
			m.mu.Unlock()
			m.transition(domain.StateConnected, 0, nil)
		})

		if ctx.Err() != nil {
			m.logger.Info("connection stopped", "name", m.config.Name)
			return
		}
		if err == nil {
			m.logger.Info("connection finished", "name", m.config.Name)
			return
		}

		m.mu.Lock()
		if !m.upSince.IsZero() && m.now().Sub(m.upSince) >= m.config.StableAfter {
			m.attempt = 0
		}
		attempt := m.attempt
		m.attempt++
		m.failures++
		m.lastError = err
		m.mu.Unlock()

		delay := m.config.Backoff.Delay(attempt)

		m.logger.Warn("connection failed, backing off",
			"name", m.config.Name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		m.transition(domain.StateBackoff, delay, err)

		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// transition records a state change and notifies the hook.
func (m *Manager) transition(to domain.ConnectionState, delay time.Duration, err error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	if to != domain.StateConnected {
		m.connectedAt = time.Time{}
	}
	attempt := m.attempt
	m.mu.Unlock()

	if from == to && to == domain.StateDisconnected {
		return
	}

	m.logger.Debug("connection state changed",
		"name", m.config.Name,
		"from", from,
		"to", to,
	)

	if m.config.OnTransition != nil {
		m.config.OnTransition(Transition{
			Name:    m.config.Name,
			From:    from,
			To:      to,
			Attempt: attempt,
			Delay:   delay,
			Err:     err,
			At:      m.now(),
		})
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats is a snapshot of a Manager.
type Stats struct {
	Name           string                 `json:"name"`
	State          domain.ConnectionState `json:"state"`
	Connects       int                    `json:"connects"`
	Failures       int                    `json:"failures"`
	Attempt        int                    `json:"consecutive_failures"`
	ConnectedSince *time.Time             `json:"connected_since,omitempty"`
	Uptime         time.Duration          `json:"uptime,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
}

// Stats returns current statistics for the connection.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:     m.config.Name,
		State:    m.state,
		Connects: m.connects,
		Failures: m.failures,
		Attempt:  m.attempt,
	}

	if m.state == domain.StateConnected && !m.connectedAt.IsZero() {
		since := m.connectedAt
		stats.ConnectedSince = &since
		stats.Uptime = m.now().Sub(since)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
