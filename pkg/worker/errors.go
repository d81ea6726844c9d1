package worker

import "errors"

// Sentinel errors for queue operations
var (
	// ErrQueueClosed indicates the queue no longer accepts tasks
	ErrQueueClosed = errors.New("task queue closed")

	// ErrNilTask indicates a nil task was submitted
	ErrNilTask = errors.New("task cannot be nil")
)
