// Package domain holds the value types that flow through the relay pipeline.
//
// The types are deliberately free of behaviour so every other package
// (subscriber, translator, queue, sender, supervisor) can share them without
// import cycles.
package domain

import "time"

// TopicRoute maps an MQTT topic filter to one Telegram chat.
//
// Routes are loaded once at startup and never mutated afterwards.
type TopicRoute struct {
	// Pattern is an MQTT topic filter, e.g. "freezer/+" or "sensors/#".
	Pattern string

	// ChatID is the destination chat: a numeric chat ID ("12345",
	// "-100123456") or a public channel username ("@alerts").
	ChatID string

	// Template is optional. Supported placeholders: {topic}, {payload}.
	Template string
}

// BusMessage is a single delivery from the broker.
//
// Topic is always concrete (no wildcards).
type BusMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
	QoS        byte
	Retained   bool
	Duplicate  bool
}

// ChatMessage is a translated message waiting for delivery.
type ChatMessage struct {
	ChatID string
	Text   string

	// Topic is the concrete bus topic the message originated from.
	Topic string

	// Seq is assigned by the delivery queue at enqueue time and strictly
	// increases per ChatID.
	Seq uint64
}

// ConnectionState is the lifecycle state of a supervised connection.
type ConnectionState string

// Connection states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateBackoff      ConnectionState = "backoff"
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	return string(s)
}
