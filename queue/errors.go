package queue

import "errors"

var (
	ErrQueueFull   = errors.New("outgoing queue is full")
	ErrQueueClosed = errors.New("outgoing queue is closed")
)
