package store

import (
	"context"
	"sync"
	"time"

	"github.com/axmq/broker/topic"
	"github.com/axmq/broker/types/message"
)

// RetainedMessage is a stored retained publish with its expiry deadline
type RetainedMessage struct {
	Message   *message.Message
	ExpiresAt time.Time
}

// retainedNode is a node in the retained-messages trie, keyed by level
type retainedNode struct {
	children map[string]*retainedNode
	message  *RetainedMessage
}

func newRetainedNode() *retainedNode {
	return &retainedNode{
		children: make(map[string]*retainedNode),
	}
}

// RetainedStore holds the last retained message per topic in a level trie
// so wildcard filters can be answered for retained resend. It implements
// topic.RetainedStore, so a router hands it every publish that carries the
// retain flag; a retained publish with an empty payload clears the topic.
type RetainedStore struct {
	mu     sync.RWMutex
	root   *retainedNode
	count  int64
	closed bool
}

// NewRetainedStore creates a new retained-message store
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{
		root: newRetainedNode(),
	}
}

// splitLevels splits a topic into levels by '/'
func splitLevels(topic string) []string {
	levels := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			levels = append(levels, topic[start:i])
			start = i + 1
		}
	}
	return append(levels, topic[start:])
}

// Retain implements topic.RetainedStore. It keeps a reference to the
// message until the topic is cleared or overwritten.
func (r *RetainedStore) Retain(topicName string, msg *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}

	if len(msg.Payload) == 0 {
		r.deleteLocked(topicName)
		return nil
	}

	retained := &RetainedMessage{Message: msg}
	if msg.MessageExpirySet && msg.ExpiryInterval > 0 {
		retained.ExpiresAt = msg.CreatedAt.Add(time.Duration(msg.ExpiryInterval) * time.Second)
	}

	node := r.root
	for _, level := range splitLevels(topicName) {
		child, ok := node.children[level]
		if !ok {
			child = newRetainedNode()
			node.children[level] = child
		}
		node = child
	}

	if node.message == nil {
		r.count++
	} else {
		node.message.Message.Unref()
	}
	msg.Ref()
	node.message = retained
	return nil
}

// Get returns the retained message for an exact topic
func (r *RetainedStore) Get(topicName string) (*message.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, false
	}

	node := r.root
	for _, level := range splitLevels(topicName) {
		child, ok := node.children[level]
		if !ok {
			return nil, false
		}
		node = child
	}
	if node.message == nil || expired(node.message) {
		return nil, false
	}
	return node.message.Message, true
}

// Delete removes the retained message for an exact topic
func (r *RetainedStore) Delete(topicName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.deleteLocked(topicName)
}

func (r *RetainedStore) deleteLocked(topicName string) {
	levels := splitLevels(topicName)

	path := make([]*retainedNode, 0, len(levels)+1)
	node := r.root
	path = append(path, node)
	for _, level := range levels {
		child, ok := node.children[level]
		if !ok {
			return
		}
		node = child
		path = append(path, node)
	}

	if node.message == nil {
		return
	}
	node.message.Message.Unref()
	node.message = nil
	r.count--

	// Prune empty branches bottom-up
	for i := len(path) - 1; i > 0; i-- {
		cur := path[i]
		if cur.message != nil || len(cur.children) > 0 {
			break
		}
		delete(path[i-1].children, levels[i-1])
	}
}

// Match returns every live retained message whose topic matches the
// filter under MQTT wildcard semantics.
func (r *RetainedStore) Match(filter string) []*message.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil
	}

	var matched []*message.Message
	r.matchRecursive(r.root, splitLevels(filter), true, &matched)
	return matched
}

func (r *RetainedStore) matchRecursive(node *retainedNode, filterLevels []string, first bool, matched *[]*message.Message) {
	if len(filterLevels) == 0 {
		if node.message != nil && !expired(node.message) {
			*matched = append(*matched, node.message.Message)
		}
		return
	}

	level := filterLevels[0]
	switch level {
	case "#":
		// '#' also matches the parent level itself
		if node.message != nil && !expired(node.message) {
			*matched = append(*matched, node.message.Message)
		}
		for name, child := range node.children {
			if first && len(name) > 0 && name[0] == '$' {
				continue
			}
			r.collectAll(child, matched)
		}
	case "+":
		for name, child := range node.children {
			if first && len(name) > 0 && name[0] == '$' {
				continue
			}
			r.matchRecursive(child, filterLevels[1:], false, matched)
		}
	default:
		if child, ok := node.children[level]; ok {
			r.matchRecursive(child, filterLevels[1:], false, matched)
		}
	}
}

func (r *RetainedStore) collectAll(node *retainedNode, matched *[]*message.Message) {
	if node.message != nil && !expired(node.message) {
		*matched = append(*matched, node.message.Message)
	}
	for _, child := range node.children {
		r.collectAll(child, matched)
	}
}

func expired(m *RetainedMessage) bool {
	return !m.ExpiresAt.IsZero() && time.Now().After(m.ExpiresAt)
}

// Count returns the number of retained topics
func (r *RetainedStore) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// CleanupExpired removes every expired retained message, returning how
// many were dropped.
func (r *RetainedStore) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	var topics []string
	collectExpired(r.root, "", &topics)
	for _, t := range topics {
		r.deleteLocked(t)
	}
	return len(topics)
}

func collectExpired(node *retainedNode, prefix string, topics *[]string) {
	for name, child := range node.children {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if child.message != nil && expired(child.message) {
			*topics = append(*topics, full)
		}
		collectExpired(child, full, topics)
	}
}

// Close releases every held message reference and rejects further use
func (r *RetainedStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}
	r.closed = true
	releaseAll(r.root)
	r.root = newRetainedNode()
	r.count = 0
	return nil
}

func releaseAll(node *retainedNode) {
	if node.message != nil {
		node.message.Message.Unref()
		node.message = nil
	}
	for _, child := range node.children {
		releaseAll(child)
	}
}

// RetainedEntry is the serializable snapshot form of a retained message
type RetainedEntry struct {
	Topic      string                 `json:"topic"`
	Payload    []byte                 `json:"payload"`
	QoS        byte                   `json:"qos"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at,omitempty"`
}

// SaveSnapshot writes every live retained message into dst, keyed by topic
func (r *RetainedStore) SaveSnapshot(ctx context.Context, dst Store[RetainedEntry]) error {
	entries := r.snapshot()
	for _, e := range entries {
		if err := dst.Save(ctx, e.Topic, e); err != nil {
			return err
		}
	}
	return nil
}

// RestoreSnapshot loads every entry from src into the store
func (r *RetainedStore) RestoreSnapshot(ctx context.Context, src Store[RetainedEntry]) error {
	keys, err := src.List(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		entry, err := src.Load(ctx, key)
		if err != nil {
			return err
		}

		msg := message.New(entry.Topic, entry.Payload, entry.QoS, true, entry.Properties)
		msg.CreatedAt = entry.CreatedAt
		if !entry.ExpiresAt.IsZero() {
			msg.MessageExpirySet = true
			msg.ExpiryInterval = uint32(entry.ExpiresAt.Sub(entry.CreatedAt) / time.Second)
		}

		if err := r.Retain(entry.Topic, msg); err != nil {
			return err
		}
		msg.Unref()
	}
	return nil
}

func (r *RetainedStore) snapshot() []RetainedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []RetainedEntry
	snapshotNode(r.root, "", &entries)
	return entries
}

func snapshotNode(node *retainedNode, prefix string, entries *[]RetainedEntry) {
	for name, child := range node.children {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if child.message != nil && !expired(child.message) {
			msg := child.message.Message
			*entries = append(*entries, RetainedEntry{
				Topic:      full,
				Payload:    msg.Payload,
				QoS:        msg.QoS,
				Properties: msg.Properties,
				CreatedAt:  msg.CreatedAt,
				ExpiresAt:  child.message.ExpiresAt,
			})
		}
		snapshotNode(child, full, entries)
	}
}

// compile-time interface check
var _ topic.RetainedStore = (*RetainedStore)(nil)
