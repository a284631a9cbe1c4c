package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// DefaultGrace is used when Supervisor.Grace is zero.
const DefaultGrace = 10 * time.Second

// Drainer is the delivery buffer as seen by the shutdown sequence.
type Drainer interface {
	// Close stops accepting messages; consumers drain the rest.
	Close()

	// Discard removes and returns everything still queued.
	Discard() []domain.ChatMessage

	// Pending returns the number of queued messages.
	Pending() int
}

// Supervisor runs the bus and chat connections and coordinates shutdown.
type Supervisor struct {
	Bus  *Manager
	Chat *Manager

	Queue Drainer

	// Grace bounds how long the chat side may drain after shutdown starts.
	Grace time.Duration

	// OnDiscard receives the messages abandoned when Grace expires.
	OnDiscard func([]domain.ChatMessage)

	Logger Logger
}

// Run starts both connections and blocks until ctx is cancelled and the
// shutdown sequence has finished.
//
// The connections run on contexts detached from ctx so that the chat side
// keeps delivering after ctx is cancelled:
//  1. stop the bus connection, so nothing new is enqueued
//  2. close the queue
//  3. wait up to Grace for the chat side to drain and finish
//  4. on timeout, stop the chat side and discard what is left
//
// Returns:
//   - error: nil after a complete drain, or wraps ErrShutdownTimeout
func (s *Supervisor) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	base := context.WithoutCancel(ctx)
	busCtx, stopBus := context.WithCancel(base)
	defer stopBus()
	chatCtx, stopChat := context.WithCancel(base)
	defer stopChat()

	busDone := make(chan struct{})
	chatDone := make(chan struct{})

	go func() {
		defer close(busDone)
		s.Bus.Run(busCtx)
	}()
	go func() {
		defer close(chatDone)
		s.Chat.Run(chatCtx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-busDone:
		logger.Warn("bus connection ended, shutting down")
	case <-chatDone:
		logger.Warn("chat connection ended, shutting down")
	}

	stopBus()
	<-busDone

	pending := s.Queue.Pending()
	logger.Info("draining delivery queue", "pending", pending, "grace", grace)
	s.Queue.Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-chatDone:
		logger.Info("delivery queue drained")
		return nil
	case <-timer.C:
	}

	stopChat()
	<-chatDone

	discarded := s.Queue.Discard()
	logger.Error("shutdown grace period exceeded, discarding messages",
		"grace", grace,
		"discarded", len(discarded),
	)
	if s.OnDiscard != nil && len(discarded) > 0 {
		s.OnDiscard(discarded)
	}

	return fmt.Errorf("%w: %d messages discarded after %v", ErrShutdownTimeout, len(discarded), grace)
}
