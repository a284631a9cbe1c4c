// Package api provides the read-only HTTP status API for the relay.
//
// Endpoints:
//
//	GET /api/v1/health     200 when bus and chat are connected, 503 otherwise;
//	                       sink checks are reported but never fail it
//	GET /api/v1/status     connection stats, queue depths, event counters
//	GET /api/v1/events     journal page; filters kind, reason, chat_id,
//	                       connection, limit, offset
//	GET /api/v1/events/ws  live event stream; ?kinds= selects event kinds
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Message payloads are never exposed; the journal stores topics, chat IDs
// and outcomes only.
package api
