package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/types/message"
)

type delivery struct {
	clientID   string
	dup        bool
	mid        uint16
	qos        byte
	retain     bool
	identifier uint32
	msg        *message.Message
}

// captureQueue records every routed delivery; failFor simulates a
// per-client queue failure.
type captureQueue struct {
	deliveries []delivery
	failFor    map[string]error
}

func (q *captureQueue) InsertOutgoing(client *Client, dup bool, mid uint16, qos byte, retain bool, msg *message.Message, identifier uint32) error {
	if err := q.failFor[client.ID]; err != nil {
		return err
	}
	q.deliveries = append(q.deliveries, delivery{
		clientID:   client.ID,
		dup:        dup,
		mid:        mid,
		qos:        qos,
		retain:     retain,
		identifier: identifier,
		msg:        msg,
	})
	return nil
}

func (q *captureQueue) clients() []string {
	ids := make([]string, 0, len(q.deliveries))
	for _, d := range q.deliveries {
		ids = append(ids, d.clientID)
	}
	return ids
}

type denyACL struct {
	denied map[string]bool
}

func (a *denyACL) ACLCheck(client *Client, topic string, payload []byte, qos byte, retain bool, access AccessType) error {
	if a.denied[client.ID] {
		return ErrACLDenied
	}
	return nil
}

type captureRetained struct {
	topics []string
}

func (r *captureRetained) Retain(topic string, msg *message.Message) error {
	r.topics = append(r.topics, topic)
	return nil
}

type capturePersist struct {
	deleted []string
}

func (p *capturePersist) SubscriptionDeleted(client *Client, topicFilter string) {
	p.deleted = append(p.deleted, client.ID+":"+topicFilter)
}

func newTestRouter() (*Router, *captureQueue) {
	q := &captureQueue{}
	return NewRouter(Config{Queue: q}), q
}

func client(id string) *Client {
	return &Client{ID: id, Protocol: ProtocolV5}
}

func sub(filter string, qos byte) Subscription {
	return Subscription{TopicFilter: filter, Options: SubOptions{QoS: qos}}
}

func pub(t *testing.T, r *Router, sourceID, topic string, qos byte) error {
	t.Helper()
	msg := message.New(topic, []byte("payload"), qos, false, nil)
	return r.Publish(sourceID, topic, qos, false, msg)
}

func TestRouterScenarios(t *testing.T) {
	t.Run("multi-level wildcard matches deep topic", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("sport/tennis/player1/#", 1)))

		require.NoError(t, pub(t, r, "", "sport/tennis/player1/ranking", 0))
		assert.Equal(t, []string{"a"}, q.clients())
	})

	t.Run("wildcards against empty first level", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("+/+", 1)))
		require.NoError(t, r.Subscribe(client("b"), sub("/+", 1)))
		require.NoError(t, r.Subscribe(client("c"), sub("+", 1)))

		require.NoError(t, pub(t, r, "", "/finance", 0))
		assert.ElementsMatch(t, []string{"a", "b"}, q.clients())
	})

	t.Run("dollar topics never match root wildcards", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("#", 1)))
		require.NoError(t, r.Subscribe(client("b"), sub("$SYS/#", 1)))

		require.NoError(t, pub(t, r, "", "$SYS/broker/uptime", 0))
		assert.Equal(t, []string{"b"}, q.clients())
	})

	t.Run("root plus does not match dollar topic", func(t *testing.T) {
		r, _ := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("+/broker", 1)))

		err := pub(t, r, "", "$SYS/broker", 0)
		assert.ErrorIs(t, err, ErrNoSubscribers)
	})

	t.Run("shared group round robin", func(t *testing.T) {
		r, q := newTestRouter()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, r.Subscribe(client(id), sub("$share/grp/orders/+", 1)))
		}

		for i := 0; i < 4; i++ {
			require.NoError(t, pub(t, r, "", "orders/new", 0))
		}
		assert.Equal(t, []string{"a", "b", "c", "a"}, q.clients())
	})

	t.Run("qos downgrade without upgrade option", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("a/b", 2)))

		require.NoError(t, pub(t, r, "", "a/b", 0))
		require.Len(t, q.deliveries, 1)
		assert.Equal(t, byte(0), q.deliveries[0].qos)
		assert.Equal(t, uint16(0), q.deliveries[0].mid)
	})

	t.Run("no-local suppresses echo to publisher", func(t *testing.T) {
		r, q := newTestRouter()
		a := client("a")
		require.NoError(t, r.Subscribe(a, Subscription{
			TopicFilter: "a/b",
			Options:     SubOptions{QoS: 1, NoLocal: true},
		}))

		require.NoError(t, pub(t, r, "a", "a/b", 0))
		assert.Empty(t, q.deliveries)

		// a different publisher still reaches the subscriber
		require.NoError(t, pub(t, r, "other", "a/b", 0))
		assert.Equal(t, []string{"a"}, q.clients())
	})
}

func TestRouterQoSAndIdentifiers(t *testing.T) {
	t.Run("min of publish and granted qos", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), sub("x", 1)))

		require.NoError(t, pub(t, r, "", "x", 2))
		require.Len(t, q.deliveries, 1)
		assert.Equal(t, byte(1), q.deliveries[0].qos)
		assert.NotZero(t, q.deliveries[0].mid)
	})

	t.Run("upgrade outgoing qos uses granted qos", func(t *testing.T) {
		q := &captureQueue{}
		r := NewRouter(Config{Queue: q, UpgradeOutgoingQoS: true})
		require.NoError(t, r.Subscribe(client("a"), sub("x", 2)))

		require.NoError(t, pub(t, r, "", "x", 0))
		require.Len(t, q.deliveries, 1)
		assert.Equal(t, byte(2), q.deliveries[0].qos)
	})

	t.Run("packet ids are distinct per delivery", func(t *testing.T) {
		r, q := newTestRouter()
		a := client("a")
		require.NoError(t, r.Subscribe(a, sub("x", 1)))

		require.NoError(t, pub(t, r, "", "x", 1))
		require.NoError(t, pub(t, r, "", "x", 1))
		require.Len(t, q.deliveries, 2)
		assert.NotEqual(t, q.deliveries[0].mid, q.deliveries[1].mid)
	})

	t.Run("subscription identifier is forwarded", func(t *testing.T) {
		r, q := newTestRouter()
		require.NoError(t, r.Subscribe(client("a"), Subscription{
			TopicFilter: "x",
			Options:     SubOptions{QoS: 0},
			Identifier:  42,
		}))

		require.NoError(t, pub(t, r, "", "x", 0))
		require.Len(t, q.deliveries, 1)
		assert.Equal(t, uint32(42), q.deliveries[0].identifier)
	})
}

func TestRouterRetainAsPublished(t *testing.T) {
	r, q := newTestRouter()
	require.NoError(t, r.Subscribe(client("rap"), Subscription{
		TopicFilter: "x",
		Options:     SubOptions{QoS: 0, RetainAsPublished: true},
	}))
	require.NoError(t, r.Subscribe(client("plain"), sub("x", 0)))

	msg := message.New("x", []byte("p"), 0, true, nil)
	require.NoError(t, r.Publish("", "x", 0, true, msg))

	require.Len(t, q.deliveries, 2)
	byClient := map[string]bool{}
	for _, d := range q.deliveries {
		byClient[d.clientID] = d.retain
	}
	assert.True(t, byClient["rap"])
	assert.False(t, byClient["plain"])
}

func TestRouterACL(t *testing.T) {
	t.Run("denied recipient is silently skipped", func(t *testing.T) {
		q := &captureQueue{}
		r := NewRouter(Config{Queue: q, ACL: &denyACL{denied: map[string]bool{"b": true}}})
		require.NoError(t, r.Subscribe(client("a"), sub("x", 0)))
		require.NoError(t, r.Subscribe(client("b"), sub("x", 0)))

		require.NoError(t, pub(t, r, "", "x", 0))
		assert.Equal(t, []string{"a"}, q.clients())
	})

	t.Run("denial everywhere is still success", func(t *testing.T) {
		q := &captureQueue{}
		r := NewRouter(Config{Queue: q, ACL: &denyACL{denied: map[string]bool{"a": true}}})
		require.NoError(t, r.Subscribe(client("a"), sub("x", 0)))

		err := pub(t, r, "", "x", 0)
		assert.NoError(t, err)
		assert.Empty(t, q.deliveries)
	})
}

func TestRouterQueueFailure(t *testing.T) {
	t.Run("error is surfaced after remaining recipients", func(t *testing.T) {
		q := &captureQueue{failFor: map[string]error{"a": assert.AnError}}
		r := NewRouter(Config{Queue: q})
		require.NoError(t, r.Subscribe(client("a"), sub("x", 0)))
		require.NoError(t, r.Subscribe(client("b"), sub("x", 0)))

		err := pub(t, r, "", "x", 0)
		assert.ErrorIs(t, err, assert.AnError)
		// b was still attempted even though a failed first
		assert.Equal(t, []string{"b"}, q.clients())
	})

	t.Run("failure still rotates the shared group", func(t *testing.T) {
		q := &captureQueue{failFor: map[string]error{"a": assert.AnError}}
		r := NewRouter(Config{Queue: q})
		for _, id := range []string{"a", "b"} {
			require.NoError(t, r.Subscribe(client(id), sub("$share/g/x", 0)))
		}

		err := pub(t, r, "", "x", 0)
		assert.ErrorIs(t, err, assert.AnError)

		// a failed but the head advanced, so b is next
		require.NoError(t, pub(t, r, "", "x", 0))
		assert.Equal(t, []string{"b"}, q.clients())
	})
}

func TestRouterNoSubscribers(t *testing.T) {
	r, _ := newTestRouter()
	require.NoError(t, r.Subscribe(client("a"), sub("a/b", 0)))

	err := pub(t, r, "", "c/d", 0)
	assert.ErrorIs(t, err, ErrNoSubscribers)

	err = pub(t, r, "", "a/b/c", 0)
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestRouterDeliveryOrderWithinNode(t *testing.T) {
	r, q := newTestRouter()
	require.NoError(t, r.Subscribe(client("s1"), sub("$share/g/x", 0)))
	require.NoError(t, r.Subscribe(client("d1"), sub("x", 0)))
	require.NoError(t, r.Subscribe(client("d2"), sub("x", 0)))

	require.NoError(t, pub(t, r, "", "x", 0))
	// share-group head first, then direct leaves in insertion order
	assert.Equal(t, []string{"s1", "d1", "d2"}, q.clients())
}

func TestRouterOverlappingFilters(t *testing.T) {
	r, q := newTestRouter()
	a := client("a")
	require.NoError(t, r.Subscribe(a, sub("x/y", 0)))
	require.NoError(t, r.Subscribe(a, sub("x/+", 0)))
	require.NoError(t, r.Subscribe(a, sub("x/#", 0)))

	require.NoError(t, pub(t, r, "", "x/y", 0))
	// one delivery per matching filter, not per client
	assert.Equal(t, []string{"a", "a", "a"}, q.clients())
}

func TestRouterRetainedHandOff(t *testing.T) {
	t.Run("retain flag stores the message", func(t *testing.T) {
		q := &captureQueue{}
		ret := &captureRetained{}
		r := NewRouter(Config{Queue: q, Retained: ret})

		msg := message.New("t/1", []byte("p"), 0, true, nil)
		err := r.Publish("", "t/1", 0, true, msg)
		assert.ErrorIs(t, err, ErrNoSubscribers)
		assert.Equal(t, []string{"t/1"}, ret.topics)
	})

	t.Run("non-retained publish is not stored", func(t *testing.T) {
		q := &captureQueue{}
		ret := &captureRetained{}
		r := NewRouter(Config{Queue: q, Retained: ret})

		_ = pub(t, r, "", "t/1", 0)
		assert.Empty(t, ret.topics)
	})
}

func TestRouterMessageRefCounting(t *testing.T) {
	r, _ := newTestRouter()
	require.NoError(t, r.Subscribe(client("a"), sub("x", 0)))

	msg := message.New("x", []byte("p"), 0, false, nil)
	require.Equal(t, 1, msg.Refs())

	require.NoError(t, r.Publish("", "x", 0, false, msg))
	assert.Equal(t, 1, msg.Refs())
}

func TestRouterCleanSession(t *testing.T) {
	r, q := newTestRouter()
	persist := &capturePersist{}
	r.persist = persist

	a := client("a")
	b := client("b")
	require.NoError(t, r.Subscribe(a, sub("x/y", 1)))
	require.NoError(t, r.Subscribe(a, sub("$share/g/z", 1)))
	require.NoError(t, r.Subscribe(b, sub("x/y", 1)))

	require.NoError(t, r.CleanSession(a))

	assert.Equal(t, 0, a.SubscriptionCount())
	assert.Equal(t, int64(1), r.Count())
	assert.Equal(t, int64(0), r.SharedCount())
	assert.ElementsMatch(t, []string{"a:x/y", "a:$share/g/z"}, persist.deleted)

	// b's subscription still routes
	require.NoError(t, pub(t, r, "", "x/y", 0))
	assert.Equal(t, []string{"b"}, q.clients())

	// a's shared branch was pruned away
	err := pub(t, r, "", "z", 0)
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestRouterSysTreePublish(t *testing.T) {
	q := &captureQueue{}
	var topics []string
	var payloads []string
	r := NewRouter(Config{Queue: q, SysPublish: func(topic string, payload []byte) {
		topics = append(topics, topic)
		payloads = append(payloads, string(payload))
	}})

	require.NoError(t, r.Subscribe(client("a"), sub("sport/tennis", 0)))
	require.Equal(t, []string{"$SYS/broker/subscribed_topics/sport/tennis"}, topics)
	require.Equal(t, []string{"1"}, payloads)

	_, err := r.Unsubscribe(client("a"), "sport/tennis")
	require.NoError(t, err)
	assert.Equal(t, "0", payloads[len(payloads)-1])
}
