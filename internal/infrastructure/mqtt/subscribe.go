package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Subscribe registers every pattern with the broker in a single SUBSCRIBE.
//
// Patterns can include MQTT wildcards:
//   - + (single-level): "freezer/+" matches "freezer/status"
//   - # (multi-level): "sensors/#" matches everything under sensors
//
// The returned Subscription yields messages for all patterns in arrival
// order. It lives as long as this session: after a reconnect, call
// Subscribe again on the new Client.
//
// Parameters:
//   - patterns: Topic filters to subscribe to (at least one)
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//
// Returns:
//   - *Subscription: Sequence of inbound messages
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(patterns []string, qos byte) (*Subscription, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no topic filters", ErrSubscribeFailed)
	}
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}

	filters := make(map[string]byte, len(patterns))
	for _, p := range patterns {
		if err := ValidateFilter(p); err != nil {
			return nil, err
		}
		filters[p] = qos
	}

	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	sub := newSubscription(c.lost, c.Err)

	token := c.client.SubscribeMultiple(filters, c.wrapHandler(sub))

	timer := time.NewTimer(defaultSubscribeTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-c.lost:
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, c.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		for filter, code := range st.Result() {
			if code == subackFailure {
				return nil, fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, filter)
			}
		}
	}

	return sub, nil
}

// wrapHandler converts paho deliveries into BusMessages on sub, with panic
// recovery. Malformed frames are dropped and logged.
func (c *Client) wrapHandler(sub *Subscription) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		bm, err := toBusMessage(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained(), msg.Duplicate(), time.Now())
		if err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("dropping malformed MQTT message",
					"topic", msg.Topic(),
					"size", len(msg.Payload()),
					"error", err,
				)
			}
			return
		}

		sub.push(bm)
	}
}

// toBusMessage validates an inbound frame and copies it into a BusMessage.
func toBusMessage(topic string, payload []byte, qos byte, retained, duplicate bool, at time.Time) (domain.BusMessage, error) {
	if err := ValidateTopicName(topic); err != nil {
		return domain.BusMessage{}, err
	}
	if len(payload) > maxPayloadSize {
		return domain.BusMessage{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	return domain.BusMessage{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: at,
		QoS:        qos,
		Retained:   retained,
		Duplicate:  duplicate,
	}, nil
}

// Subscription is the lazy sequence of messages received for a set of
// topic filters during one session.
//
// The buffer is unbounded so the paho router never blocks on a slow
// consumer; the relay pipeline downstream is non-blocking, so in practice
// it stays near empty.
type Subscription struct {
	mu      sync.Mutex
	pending []domain.BusMessage
	notify  chan struct{}

	done  <-chan struct{}
	cause func() error
}

func newSubscription(done <-chan struct{}, cause func() error) *Subscription {
	return &Subscription{
		notify: make(chan struct{}, 1),
		done:   done,
		cause:  cause,
	}
}

// push appends msg and wakes a waiting Next.
func (s *Subscription) push(msg domain.BusMessage) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest pending message.
func (s *Subscription) pop() (domain.BusMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return domain.BusMessage{}, false
	}
	msg := s.pending[0]
	s.pending[0] = domain.BusMessage{}
	s.pending = s.pending[1:]
	return msg, true
}

// Next returns the next message in arrival order.
//
// It blocks until a message is available or ctx is cancelled. Messages
// received before the session dropped are still returned; once they are
// drained Next returns the session error (ErrConnectionLost or ErrClosed).
func (s *Subscription) Next(ctx context.Context) (domain.BusMessage, error) {
	for {
		if msg, ok := s.pop(); ok {
			return msg, nil
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return domain.BusMessage{}, ctx.Err()
		case <-s.done:
			// A push may have raced the drop.
			if msg, ok := s.pop(); ok {
				return msg, nil
			}
			if err := s.cause(); err != nil {
				return domain.BusMessage{}, err
			}
			return domain.BusMessage{}, ErrConnectionLost
		}
	}
}

// Pending returns the number of received messages not yet returned by Next.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsSessionEnd reports whether err from Next means the session is over,
// as opposed to the caller's context being cancelled.
func IsSessionEnd(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrClosed)
}
