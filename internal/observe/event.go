package observe

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// Kind identifies what happened.
type Kind string

// Event kinds.
const (
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindBackoff    Kind = "backoff"
	KindTranslated Kind = "message_translated"
	KindDelivered  Kind = "message_delivered"
	KindDropped    Kind = "message_dropped"
)

// Kinds returns every event kind.
func Kinds() []Kind {
	return []Kind{KindConnect, KindDisconnect, KindBackoff, KindTranslated, KindDelivered, KindDropped}
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindDisconnect, KindBackoff, KindTranslated, KindDelivered, KindDropped:
		return true
	}
	return false
}

// Reason explains why a message was dropped.
type Reason string

// Drop reasons.
const (
	ReasonNoRoute           Reason = "no_route"
	ReasonTranslationFailed Reason = "translation_failed"
	ReasonQueueOverflow     Reason = "queue_overflow"
	ReasonPermanentFailure  Reason = "permanent_failure"
	ReasonRetriesExhausted  Reason = "retries_exhausted"
	ReasonShutdownTimeout   Reason = "shutdown_timeout"
	ReasonCancelled         Reason = "cancelled"
)

// Connection names used in events.
const (
	ConnectionBus  = "bus"
	ConnectionChat = "chat"
)

// Event is one structured relay event. Payloads are never carried.
type Event struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Connection string        `json:"connection,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	ChatID     string        `json:"chat_id,omitempty"`
	Seq        uint64        `json:"seq,omitempty"`
	Reason     Reason        `json:"reason,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

func newEvent(kind Kind) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		At:   time.Now().UTC(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Connected reports that conn reached the connected state.
func Connected(conn string) Event {
	e := newEvent(KindConnect)
	e.Connection = conn
	return e
}

// Disconnected reports that conn left the connected state.
func Disconnected(conn string, err error) Event {
	e := newEvent(KindDisconnect)
	e.Connection = conn
	e.Error = errString(err)
	return e
}

// BackingOff reports a reconnect wait after the attempt-th consecutive
// failure.
func BackingOff(conn string, attempt int, delay time.Duration, err error) Event {
	e := newEvent(KindBackoff)
	e.Connection = conn
	e.Attempts = attempt
	e.Delay = delay
	e.Error = errString(err)
	return e
}

// Translated reports a chat message accepted into a delivery queue.
func Translated(msg domain.ChatMessage) Event {
	e := newEvent(KindTranslated)
	e.Topic = msg.Topic
	e.ChatID = msg.ChatID
	e.Seq = msg.Seq
	return e
}

// Delivered reports a chat message accepted by Telegram.
func Delivered(msg domain.ChatMessage, attempts int) Event {
	e := newEvent(KindDelivered)
	e.Topic = msg.Topic
	e.ChatID = msg.ChatID
	e.Seq = msg.Seq
	e.Attempts = attempts
	return e
}

// Dropped reports a chat message that will never be delivered.
func Dropped(reason Reason, msg domain.ChatMessage, attempts int, err error) Event {
	e := newEvent(KindDropped)
	e.Reason = reason
	e.Topic = msg.Topic
	e.ChatID = msg.ChatID
	e.Seq = msg.Seq
	e.Attempts = attempts
	e.Error = errString(err)
	return e
}

// DroppedBusMessage reports a bus message dropped before translation
// produced a chat message.
func DroppedBusMessage(reason Reason, topic, chatID string, err error) Event {
	e := newEvent(KindDropped)
	e.Reason = reason
	e.Topic = topic
	e.ChatID = chatID
	e.Error = errString(err)
	return e
}
