package queue

import "errors"

var (
	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is closed and drained.
	ErrClosed = errors.New("queue: closed")

	// ErrUnknownDestination is returned for a chat with no queue.
	ErrUnknownDestination = errors.New("queue: unknown destination")
)
