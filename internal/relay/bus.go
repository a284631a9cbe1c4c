package relay

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
)

// MessageSource yields bus messages in arrival order until the session ends.
type MessageSource interface {
	Next(ctx context.Context) (domain.BusMessage, error)
}

// BusSession is one connected broker session.
type BusSession interface {
	Subscribe(patterns []string, qos byte) (MessageSource, error)
	Close() error
}

// Dialer opens a new bus session. It is called on every (re)connect.
type Dialer func(ctx context.Context) (BusSession, error)

// MQTTDialer returns a Dialer backed by the MQTT client.
func MQTTDialer(cfg config.MQTTConfig, logger mqtt.Logger) Dialer {
	return func(ctx context.Context) (BusSession, error) {
		client, err := mqtt.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return mqttSession{client}, nil
	}
}

type mqttSession struct {
	*mqtt.Client
}

func (s mqttSession) Subscribe(patterns []string, qos byte) (MessageSource, error) {
	sub, err := s.Client.Subscribe(patterns, qos)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// runBus is the bus connection's supervisor.Runner: connect, subscribe to
// every pattern, then feed the pipeline until the session ends.
func (r *Relay) runBus(ctx context.Context, ready func()) error {
	session, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	source, err := session.Subscribe(r.routes.Patterns(), r.qos)
	if err != nil {
		return err
	}

	ready()
	r.logger.Info("subscribed to bus", "patterns", r.routes.Patterns(), "qos", r.qos)
	r.pipeline.Announce(ctx, r.connectMessage)

	for {
		msg, err := source.Next(ctx)
		if err != nil {
			if mqtt.IsSessionEnd(err) {
				return fmt.Errorf("bus session ended: %w", err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.pipeline.Handle(ctx, msg)
	}
}
