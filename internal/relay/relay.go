package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/backoff"
	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/internal/queue"
	"github.com/nerrad567/gray-logic-relay/internal/route"
	"github.com/nerrad567/gray-logic-relay/internal/supervisor"
	"github.com/nerrad567/gray-logic-relay/internal/translate"
)

// ErrIncomplete is returned by New when a required dependency is missing.
var ErrIncomplete = errors.New("relay: incomplete configuration")

// Config holds everything New wires together.
type Config struct {
	Routes     *route.Table
	Translator *translate.Translator
	Queues     *queue.Set

	Dial Dialer
	QoS  byte

	Sender ChatSender

	// Recorder receives every relay event. Nil discards them.
	Recorder observe.Recorder

	// ConnectMessage is queued to every destination after each bus
	// (re)connect. Empty disables it.
	ConnectMessage string

	Reconnect   backoff.Policy
	StableAfter time.Duration
	Grace       time.Duration

	Logger *slog.Logger
}

// Relay connects the bus to the chat.
type Relay struct {
	routes         *route.Table
	queues         *queue.Set
	pipeline       *Pipeline
	dial           Dialer
	qos            byte
	sender         ChatSender
	recorder       observe.Recorder
	connectMessage string
	logger         *slog.Logger

	bus        *supervisor.Manager
	chat       *supervisor.Manager
	supervisor *supervisor.Supervisor
}

// New validates cfg and builds the bus and chat connection managers.
func New(cfg Config) (*Relay, error) {
	switch {
	case cfg.Routes == nil:
		return nil, errors.Join(ErrIncomplete, errors.New("routes"))
	case cfg.Translator == nil:
		return nil, errors.Join(ErrIncomplete, errors.New("translator"))
	case cfg.Queues == nil:
		return nil, errors.Join(ErrIncomplete, errors.New("queues"))
	case cfg.Dial == nil:
		return nil, errors.Join(ErrIncomplete, errors.New("bus dialer"))
	case cfg.Sender == nil:
		return nil, errors.Join(ErrIncomplete, errors.New("chat sender"))
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observe.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		routes:         cfg.Routes,
		queues:         cfg.Queues,
		pipeline:       NewPipeline(cfg.Routes, cfg.Translator, cfg.Queues, recorder),
		dial:           cfg.Dial,
		qos:            cfg.QoS,
		sender:         cfg.Sender,
		recorder:       recorder,
		connectMessage: cfg.ConnectMessage,
		logger:         logger,
	}

	onTransition := func(t supervisor.Transition) {
		for _, e := range transitionEvents(t) {
			recorder.Record(context.Background(), e)
		}
	}

	r.bus = supervisor.NewManager(supervisor.Config{
		Name:         observe.ConnectionBus,
		Backoff:      cfg.Reconnect,
		StableAfter:  cfg.StableAfter,
		OnTransition: onTransition,
	}, supervisor.RunnerFunc(r.runBus))
	r.bus.SetLogger(logger.With("component", "supervisor"))

	r.chat = supervisor.NewManager(supervisor.Config{
		Name:         observe.ConnectionChat,
		Backoff:      cfg.Reconnect,
		StableAfter:  cfg.StableAfter,
		OnTransition: onTransition,
	}, supervisor.RunnerFunc(r.runChat))
	r.chat.SetLogger(logger.With("component", "supervisor"))

	r.supervisor = &supervisor.Supervisor{
		Bus:       r.bus,
		Chat:      r.chat,
		Queue:     cfg.Queues,
		Grace:     cfg.Grace,
		OnDiscard: r.discarded,
		Logger:    logger,
	}

	return r, nil
}

// Run relays until ctx is cancelled, then drains the delivery queues.
//
// Returns:
//   - error: nil after a clean drain, or wraps supervisor.ErrShutdownTimeout
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay starting",
		"patterns", r.routes.Patterns(),
		"destinations", r.queues.Destinations(),
	)
	return r.supervisor.Run(ctx)
}

func (r *Relay) discarded(msgs []domain.ChatMessage) {
	for _, msg := range msgs {
		r.recorder.Record(context.Background(), observe.Dropped(observe.ReasonShutdownTimeout, msg, 0, supervisor.ErrShutdownTimeout))
	}
}

// Status is a snapshot for health and status reporting.
type Status struct {
	Bus    supervisor.Stats `json:"bus"`
	Chat   supervisor.Stats `json:"chat"`
	Queues []queue.Depth    `json:"queues"`

	// Pending is the total number of queued messages.
	Pending int `json:"pending"`
}

// Healthy reports whether both connections are up.
func (s Status) Healthy() bool {
	return s.Bus.State == domain.StateConnected && s.Chat.State == domain.StateConnected
}

// Status returns the current connection and queue state.
func (r *Relay) Status() Status {
	return Status{
		Bus:     r.bus.Stats(),
		Chat:    r.chat.Stats(),
		Queues:  r.queues.SortedDepths(),
		Pending: r.queues.Pending(),
	}
}

// transitionEvents maps a connection state change to zero or more events.
// Leaving Connected is a disconnect; entering Backoff is a backoff.
func transitionEvents(t supervisor.Transition) []observe.Event {
	var events []observe.Event
	if t.From == domain.StateConnected && t.To != domain.StateConnected {
		events = append(events, observe.Disconnected(t.Name, t.Err))
	}
	switch t.To {
	case domain.StateConnected:
		events = append(events, observe.Connected(t.Name))
	case domain.StateBackoff:
		events = append(events, observe.BackingOff(t.Name, t.Attempt, t.Delay, t.Err))
	}
	return events
}
