// Package logging provides the relay's structured logger, a thin wrapper
// over log/slog.
//
// Every entry carries service and version attributes. Components add their
// own with With:
//
//	logger := logging.New(cfg.Logging, version)
//	bus := logger.With("component", "mqtt")
//	bus.Warn("connection lost", "error", err)
//
// The level comes from logging.level or LOG_LEVEL (debug, info, warn,
// error); the format is json or text.
//
// Attributes named token, bot_token, password, pass or secret are written
// as [REDACTED]. Values embedded in messages or error strings are not
// inspected.
package logging
