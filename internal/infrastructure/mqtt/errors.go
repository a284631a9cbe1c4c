package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is returned by a Subscription once the session dropped
	// and every message received before the drop has been consumed.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrClosed is returned by a Subscription after Close was called.
	ErrClosed = errors.New("mqtt: client closed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic name or one containing wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic name")

	// ErrInvalidFilter is returned for a malformed topic filter.
	ErrInvalidFilter = errors.New("mqtt: invalid topic filter")

	// ErrPayloadTooLarge is returned for inbound payloads over the size limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
