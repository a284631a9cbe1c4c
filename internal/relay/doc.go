// Package relay wires the MQTT bus to Telegram.
//
// Two supervised connections run side by side:
//
//	bus:  Dialer → Subscribe(all patterns) → Next → Pipeline.Handle
//	                                              route → translate → enqueue
//	chat: Sender.Connect → one worker per destination: Dequeue → Send
//
// The per-destination queues are the only state the two sides share. A bus
// outage does not stop delivery of what is already queued, and a chat
// outage does not stop reception; messages wait in the bounded queues and
// the oldest are evicted on overflow.
//
// On shutdown the bus stops first, the queues are closed and the workers
// drain them within the grace period.
package relay
