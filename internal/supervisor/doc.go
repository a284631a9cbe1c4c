// Package supervisor keeps the relay's two connections alive and drives
// the process lifecycle.
//
// A Manager owns one connection (bus or chat). It runs a Runner, marks
// the connection Connected when the Runner reports ready, and on failure
// moves to Backoff and retries with exponential, jittered, capped delays.
// The backoff resets once a connection stayed up for StableAfter.
//
//	Disconnected → Connecting → Connected
//	                   ↑            │ error
//	                   └─ Backoff ←─┘
//
// The Supervisor runs both Managers independently and performs the
// graceful shutdown sequence: stop the bus, close the delivery queue, let
// the chat side drain for the grace period, then stop the chat side and
// discard whatever is left.
package supervisor
