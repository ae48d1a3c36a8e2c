package session

import (
	"sync"
	"time"

	"github.com/axmq/broker/topic"
)

// Session is a client's broker-side state: identity, negotiated protocol
// revision, packet-id generation, and the subscription records that get
// persisted and replayed into the routing trie on startup.
type Session struct {
	mu sync.RWMutex

	ClientID        string
	CleanStart      bool
	ProtocolVersion byte
	CreatedAt       time.Time
	LastAccessedAt  time.Time

	// Subscriptions maps topic filter to the persisted subscription record
	Subscriptions map[string]*Subscription

	nextPacketID uint16

	client *topic.Client
}

// Subscription is the persisted record of one topic subscription
type Subscription struct {
	TopicFilter            string
	QoS                    byte
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
	SubscribedAt           time.Time
}

// New creates a new session
func New(clientID string, cleanStart bool, protocolVersion byte) *Session {
	now := time.Now()
	return &Session{
		ClientID:        clientID,
		CleanStart:      cleanStart,
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastAccessedAt:  now,
		Subscriptions:   make(map[string]*Subscription),
		nextPacketID:    1,
	}
}

// NextPacketID returns the next non-zero packet id, wrapping at 65535.
// It implements topic.PacketIDSource.
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextPacketID
	s.nextPacketID++
	if s.nextPacketID == 0 {
		s.nextPacketID = 1
	}
	return id
}

// Client returns the routing core's handle for this session. The handle is
// created once and reused, because the router keeps the client
// subscription index on it.
func (s *Session) Client() *topic.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		s.client = &topic.Client{
			ID:       s.ClientID,
			Protocol: topic.Protocol(s.ProtocolVersion),
			Mids:     s,
		}
	}
	return s.client
}

// AddSubscription records or replaces a subscription
func (s *Session) AddSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[sub.TopicFilter] = sub
	s.LastAccessedAt = time.Now()
}

// RemoveSubscription drops the record for a filter, reporting presence
func (s *Session) RemoveSubscription(topicFilter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.Subscriptions[topicFilter]
	if ok {
		delete(s.Subscriptions, topicFilter)
		s.LastAccessedAt = time.Now()
	}
	return ok
}

// GetSubscription retrieves the record for a filter
func (s *Session) GetSubscription(topicFilter string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.Subscriptions[topicFilter]
	return sub, ok
}

// SubscriptionCount returns the number of recorded subscriptions
func (s *Session) SubscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Subscriptions)
}

// ClearSubscriptions drops every subscription record
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
	s.LastAccessedAt = time.Now()
}

// Touch updates the last-accessed timestamp
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessedAt = time.Now()
}
