// Package observe defines the relay's structured events and the recorders
// that consume them.
//
// Every state change and every message outcome produces one Event:
//
//	connect, disconnect, backoff            connection lifecycle (bus, chat)
//	message_translated                      accepted into a delivery queue
//	message_delivered                       accepted by Telegram
//	message_dropped                         never delivered, with a Reason
//
// Recorders are composed with Multi. The log recorder is always present;
// the metrics, journal and InfluxDB recorders are added when enabled.
//
// Events never carry message payloads or text.
package observe
