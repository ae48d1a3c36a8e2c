package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/types/message"
)

func retain(t *testing.T, r *RetainedStore, topic string, payload string) *message.Message {
	t.Helper()
	msg := message.New(topic, []byte(payload), 1, true, nil)
	require.NoError(t, r.Retain(topic, msg))
	return msg
}

func TestRetainedStoreSetGet(t *testing.T) {
	r := NewRetainedStore()

	retain(t, r, "home/temp", "21")
	msg, ok := r.Get("home/temp")
	require.True(t, ok)
	assert.Equal(t, []byte("21"), msg.Payload)
	assert.Equal(t, int64(1), r.Count())

	_, ok = r.Get("home/other")
	assert.False(t, ok)
}

func TestRetainedStoreOverwrite(t *testing.T) {
	r := NewRetainedStore()

	first := retain(t, r, "home/temp", "21")
	retain(t, r, "home/temp", "22")

	msg, ok := r.Get("home/temp")
	require.True(t, ok)
	assert.Equal(t, []byte("22"), msg.Payload)
	assert.Equal(t, int64(1), r.Count())
	// the replaced message's store reference was released
	assert.Equal(t, 1, first.Refs())
}

func TestRetainedStoreEmptyPayloadDeletes(t *testing.T) {
	r := NewRetainedStore()

	retain(t, r, "home/temp", "21")
	require.Equal(t, int64(1), r.Count())

	clear := message.New("home/temp", nil, 0, true, nil)
	require.NoError(t, r.Retain("home/temp", clear))

	_, ok := r.Get("home/temp")
	assert.False(t, ok)
	assert.Equal(t, int64(0), r.Count())
}

func TestRetainedStoreMatch(t *testing.T) {
	r := NewRetainedStore()
	retain(t, r, "home/kitchen/temp", "20")
	retain(t, r, "home/bedroom/temp", "18")
	retain(t, r, "home/kitchen/humidity", "40")
	retain(t, r, "$SYS/broker/uptime", "100")

	topics := func(msgs []*message.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Topic)
		}
		return out
	}

	t.Run("single-level wildcard", func(t *testing.T) {
		got := r.Match("home/+/temp")
		assert.ElementsMatch(t, []string{"home/kitchen/temp", "home/bedroom/temp"}, topics(got))
	})

	t.Run("multi-level wildcard", func(t *testing.T) {
		got := r.Match("home/kitchen/#")
		assert.ElementsMatch(t, []string{"home/kitchen/temp", "home/kitchen/humidity"}, topics(got))
	})

	t.Run("exact", func(t *testing.T) {
		got := r.Match("home/bedroom/temp")
		assert.ElementsMatch(t, []string{"home/bedroom/temp"}, topics(got))
	})

	t.Run("root wildcards skip dollar topics", func(t *testing.T) {
		got := r.Match("#")
		assert.NotContains(t, topics(got), "$SYS/broker/uptime")
		assert.Len(t, got, 3)
	})

	t.Run("dollar topics match literally", func(t *testing.T) {
		got := r.Match("$SYS/broker/uptime")
		assert.ElementsMatch(t, []string{"$SYS/broker/uptime"}, topics(got))
	})
}

func TestRetainedStoreDeletePrunes(t *testing.T) {
	r := NewRetainedStore()
	retain(t, r, "a/b/c", "1")
	retain(t, r, "a/x", "2")

	r.Delete("a/b/c")
	assert.Equal(t, int64(1), r.Count())
	got := r.Match("a/#")
	assert.Len(t, got, 1)
}

func TestRetainedStoreExpiry(t *testing.T) {
	r := NewRetainedStore()

	msg := message.New("soon/gone", []byte("p"), 0, true, map[string]interface{}{
		"MessageExpiryInterval": uint32(1),
	})
	msg.CreatedAt = time.Now().Add(-2 * time.Second)
	require.NoError(t, r.Retain("soon/gone", msg))

	_, ok := r.Get("soon/gone")
	assert.False(t, ok)
	assert.Empty(t, r.Match("soon/#"))

	dropped := r.CleanupExpired()
	assert.Equal(t, 1, dropped)
	assert.Equal(t, int64(0), r.Count())
}

func TestRetainedStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	r := NewRetainedStore()
	retain(t, r, "home/temp", "21")
	retain(t, r, "home/door", "open")

	backend := NewMemoryStore[RetainedEntry]()
	require.NoError(t, r.SaveSnapshot(ctx, backend))

	count, err := backend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	restored := NewRetainedStore()
	require.NoError(t, restored.RestoreSnapshot(ctx, backend))
	assert.Equal(t, int64(2), restored.Count())

	msg, ok := restored.Get("home/temp")
	require.True(t, ok)
	assert.Equal(t, []byte("21"), msg.Payload)
}

func TestRetainedStoreClose(t *testing.T) {
	r := NewRetainedStore()
	msg := retain(t, r, "a/b", "1")
	require.Equal(t, 2, msg.Refs())

	require.NoError(t, r.Close())
	assert.Equal(t, 1, msg.Refs())
	assert.ErrorIs(t, r.Retain("a/b", msg), ErrStoreClosed)
	assert.ErrorIs(t, r.Close(), ErrStoreClosed)
}
