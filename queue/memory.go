package queue

import (
	"sync"

	"github.com/axmq/broker/topic"
	"github.com/axmq/broker/types/message"
)

// Outbound is one delivery handed over by the router, carrying the
// per-recipient transforms it applied.
type Outbound struct {
	ClientID   string
	DUP        bool
	PacketID   uint16
	QoS        byte
	Retain     bool
	Identifier uint32
	Message    *message.Message
}

// MemoryQueueConfig configures the in-memory outgoing queue
type MemoryQueueConfig struct {
	// MaxQueued bounds the per-client backlog; 0 means unbounded
	MaxQueued int
}

// DefaultMemoryQueueConfig returns the default queue configuration
func DefaultMemoryQueueConfig() *MemoryQueueConfig {
	return &MemoryQueueConfig{
		MaxQueued: 1000,
	}
}

// MemoryQueue is a bounded per-client FIFO implementing
// topic.OutgoingQueue. The transport drains it with Pop or Drain; each
// queued entry holds a message reference, which Pop and Drain hand to the
// caller and Close releases.
type MemoryQueue struct {
	mu        sync.Mutex
	maxQueued int
	queues    map[string][]*Outbound
	closed    bool
}

// NewMemoryQueue creates a new in-memory outgoing queue
func NewMemoryQueue(config *MemoryQueueConfig) *MemoryQueue {
	if config == nil {
		config = DefaultMemoryQueueConfig()
	}
	return &MemoryQueue{
		maxQueued: config.MaxQueued,
		queues:    make(map[string][]*Outbound),
	}
}

// InsertOutgoing enqueues a delivery for the client. A full per-client
// backlog fails with ErrQueueFull; the router surfaces that to the
// publisher after finishing the node's remaining recipients.
func (q *MemoryQueue) InsertOutgoing(client *topic.Client, dup bool, mid uint16, qos byte, retain bool, msg *message.Message, identifier uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxQueued > 0 && len(q.queues[client.ID]) >= q.maxQueued {
		return ErrQueueFull
	}

	msg.Ref()
	q.queues[client.ID] = append(q.queues[client.ID], &Outbound{
		ClientID:   client.ID,
		DUP:        dup,
		PacketID:   mid,
		QoS:        qos,
		Retain:     retain,
		Identifier: identifier,
		Message:    msg,
	})
	return nil
}

// Pop removes and returns the oldest queued delivery for the client. The
// message reference transfers to the caller.
func (q *MemoryQueue) Pop(clientID string) (*Outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[clientID]
	if len(pending) == 0 {
		return nil, false
	}
	out := pending[0]
	pending[0] = nil
	if len(pending) == 1 {
		delete(q.queues, clientID)
	} else {
		q.queues[clientID] = pending[1:]
	}
	return out, true
}

// Drain removes and returns every queued delivery for the client
func (q *MemoryQueue) Drain(clientID string) []*Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[clientID]
	delete(q.queues, clientID)
	return pending
}

// Len returns the client's current backlog depth
func (q *MemoryQueue) Len(clientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[clientID])
}

// Close rejects further inserts and releases every held message reference
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.closed = true

	for id, pending := range q.queues {
		for _, out := range pending {
			out.Message.Unref()
		}
		delete(q.queues, id)
	}
	return nil
}
