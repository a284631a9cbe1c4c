package supervisor

import "errors"

// ErrShutdownTimeout is returned by Supervisor.Run when the chat side did
// not drain the delivery queue within the grace period.
var ErrShutdownTimeout = errors.New("supervisor: shutdown grace period exceeded")
