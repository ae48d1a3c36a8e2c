package message

import (
	"sync/atomic"
	"time"
)

// Message is a stored publish shared between the routing core, the
// per-client outgoing queues and the retained store. The reference count
// keeps the payload alive while a publish is being routed; holders call
// Ref before handing the message to another component and Unref when done.
type Message struct {
	Topic            string
	Payload          []byte
	QoS              byte
	Retain           bool
	Properties       map[string]interface{}
	CreatedAt        time.Time
	ExpiryInterval   uint32
	MessageExpirySet bool

	refs atomic.Int32
}

// New creates a new stored message with a reference count of one
func New(topic string, payload []byte, qos byte, retain bool, properties map[string]interface{}) *Message {
	msg := &Message{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		Retain:     retain,
		Properties: properties,
		CreatedAt:  time.Now(),
	}
	msg.refs.Store(1)

	if properties != nil {
		if expiry, ok := properties["MessageExpiryInterval"].(uint32); ok {
			msg.ExpiryInterval = expiry
			msg.MessageExpirySet = true
		}
	}

	return msg
}

// Ref increments the reference count
func (m *Message) Ref() {
	m.refs.Add(1)
}

// Unref decrements the reference count and reports whether the message is
// still live. Once it returns false the payload must not be touched again.
func (m *Message) Unref() bool {
	return m.refs.Add(-1) > 0
}

// Refs returns the current reference count
func (m *Message) Refs() int {
	return int(m.refs.Load())
}

// IsExpired checks if the message has expired
func (m *Message) IsExpired() bool {
	if !m.MessageExpirySet || m.ExpiryInterval == 0 {
		return false
	}
	return time.Since(m.CreatedAt) >= time.Duration(m.ExpiryInterval)*time.Second
}

// RemainingExpiry returns the remaining expiry time in seconds
func (m *Message) RemainingExpiry() uint32 {
	if !m.MessageExpirySet || m.ExpiryInterval == 0 {
		return 0
	}
	elapsed := uint32(time.Since(m.CreatedAt).Seconds())
	if elapsed >= m.ExpiryInterval {
		return 0
	}
	return m.ExpiryInterval - elapsed
}

// Clone creates a deep copy of the message with a fresh reference count
func (m *Message) Clone() *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)

	var properties map[string]interface{}
	if m.Properties != nil {
		properties = make(map[string]interface{}, len(m.Properties))
		for k, v := range m.Properties {
			properties[k] = v
		}
	}

	clone := &Message{
		Topic:            m.Topic,
		Payload:          payload,
		QoS:              m.QoS,
		Retain:           m.Retain,
		Properties:       properties,
		CreatedAt:        m.CreatedAt,
		ExpiryInterval:   m.ExpiryInterval,
		MessageExpirySet: m.MessageExpirySet,
	}
	clone.refs.Store(1)
	return clone
}
