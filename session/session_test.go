package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/topic"
)

func TestNextPacketID(t *testing.T) {
	t.Run("starts at one and increments", func(t *testing.T) {
		s := New("c1", true, 5)
		assert.Equal(t, uint16(1), s.NextPacketID())
		assert.Equal(t, uint16(2), s.NextPacketID())
	})

	t.Run("wraps past 65535 skipping zero", func(t *testing.T) {
		s := New("c1", true, 5)
		s.nextPacketID = 65535
		assert.Equal(t, uint16(65535), s.NextPacketID())
		assert.Equal(t, uint16(1), s.NextPacketID())
	})
}

func TestSessionClientHandle(t *testing.T) {
	s := New("c1", true, 4)

	c := s.Client()
	require.NotNil(t, c)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, topic.ProtocolV311, c.Protocol)

	// the handle is stable: the router keeps per-client state on it
	assert.Same(t, c, s.Client())

	// the handle draws packet ids from the session
	assert.Equal(t, uint16(1), c.Mids.NextPacketID())
	assert.Equal(t, uint16(2), s.NextPacketID())
}

func TestSubscriptionRecords(t *testing.T) {
	s := New("c1", false, 5)

	s.AddSubscription(&Subscription{TopicFilter: "a/b", QoS: 1})
	s.AddSubscription(&Subscription{TopicFilter: "c/+", QoS: 2, NoLocal: true})
	assert.Equal(t, 2, s.SubscriptionCount())

	sub, ok := s.GetSubscription("c/+")
	require.True(t, ok)
	assert.Equal(t, byte(2), sub.QoS)
	assert.True(t, sub.NoLocal)

	// replacing keeps a single record
	s.AddSubscription(&Subscription{TopicFilter: "a/b", QoS: 0})
	assert.Equal(t, 2, s.SubscriptionCount())
	sub, _ = s.GetSubscription("a/b")
	assert.Equal(t, byte(0), sub.QoS)

	assert.True(t, s.RemoveSubscription("a/b"))
	assert.False(t, s.RemoveSubscription("a/b"))
	assert.Equal(t, 1, s.SubscriptionCount())

	s.ClearSubscriptions()
	assert.Equal(t, 0, s.SubscriptionCount())
}
