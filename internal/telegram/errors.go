package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mymmrac/telego/telegoapi"
)

var (
	// ErrInvalidToken is returned by NewBot for a malformed bot token.
	ErrInvalidToken = errors.New("telegram: invalid bot token")

	// ErrConnectFailed is returned when the session cannot be verified.
	ErrConnectFailed = errors.New("telegram: connection failed")

	// ErrRetriesExhausted is returned when every attempt failed transiently.
	ErrRetriesExhausted = errors.New("telegram: retries exhausted")
)

// Kind classifies a send failure.
type Kind int

// Send failure kinds.
const (
	// Transient failures are retried: network errors, timeouts, 429, 5xx.
	Transient Kind = iota

	// Permanent failures are not retried: every other 4xx.
	Permanent
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// SendError is a classified failure of a single sendMessage call.
type SendError struct {
	Kind Kind

	// StatusCode is the Bot API error code, 0 for network errors.
	StatusCode int

	// RetryAfter is the server-requested wait for 429 responses.
	RetryAfter time.Duration

	// Network is true when no API response was received.
	Network bool

	Err error
}

// Error implements error.
func (e *SendError) Error() string {
	if e.Network {
		return fmt.Sprintf("telegram: %s network error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("telegram: %s error %d: %v", e.Kind, e.StatusCode, e.Err)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Err
}

// SessionLost reports whether the chat session itself is unusable: the
// token was rejected, or the API could not be reached at all.
func (e *SendError) SessionLost() bool {
	return e.Network || e.StatusCode == http.StatusUnauthorized
}

// Classify maps an error from the Bot API client to a SendError.
//
// API errors are classified by error code: 429 and 5xx are transient,
// any other code is permanent. Errors without an API response (DNS,
// connection refused, timeouts, undecodable bodies) are transient.
func Classify(err error) *SendError {
	if err == nil {
		return nil
	}

	var se *SendError
	if errors.As(err, &se) {
		return se
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		se = &SendError{
			Kind:       Permanent,
			StatusCode: apiErr.ErrorCode,
			Err:        err,
		}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			se.RetryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		switch {
		case apiErr.ErrorCode == http.StatusTooManyRequests,
			apiErr.ErrorCode >= http.StatusInternalServerError,
			apiErr.ErrorCode == 0:
			se.Kind = Transient
		}
		return se
	}

	return &SendError{
		Kind:    Transient,
		Network: true,
		Err:     err,
	}
}

// isCancelled reports whether err comes from the caller giving up rather
// than from the API.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
