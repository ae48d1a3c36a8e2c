package topic

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/axmq/broker/pkg/logger"
	"github.com/axmq/broker/types/message"
)

// AccessType is the kind of topic access an ACL check covers
type AccessType byte

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessReadWrite
)

// ACLChecker decides whether a client may receive (or publish) a message.
// Returning ErrACLDenied suppresses the delivery silently; any other error
// is treated as an application failure and propagated.
type ACLChecker interface {
	ACLCheck(client *Client, topic string, payload []byte, qos byte, retain bool, access AccessType) error
}

// OutgoingQueue receives every routed delivery. A non-nil error is
// recorded by the dispatcher and surfaced to the publisher after the
// remaining recipients of the node have been attempted.
type OutgoingQueue interface {
	InsertOutgoing(client *Client, dup bool, mid uint16, qos byte, retain bool, msg *message.Message, identifier uint32) error
}

// PersistNotifier is told when a subscription is deleted as part of a
// clean-session teardown, so the session store can drop its record.
type PersistNotifier interface {
	SubscriptionDeleted(client *Client, topicFilter string)
}

// RetainedStore receives publishes that carry the retain flag
type RetainedStore interface {
	Retain(topic string, msg *message.Message) error
}

// SysPublisher publishes broker telemetry topics
type SysPublisher func(topic string, payload []byte)

// Config wires the router to its collaborators. Queue is required;
// everything else may be nil.
type Config struct {
	Queue      OutgoingQueue
	ACL        ACLChecker
	Persist    PersistNotifier
	Retained   RetainedStore
	SysPublish SysPublisher

	// UpgradeOutgoingQoS forces every delivery to the subscriber's granted
	// QoS instead of min(publish QoS, granted QoS).
	UpgradeOutgoingQoS bool

	Logger logger.Logger
}

// Router owns the subscription trie and the per-client subscription
// indexes, and routes publishes to matching subscribers.
//
// Every operation takes the single writer lock: there are no read-only
// paths, because routing rotates share groups.
type Router struct {
	mu   sync.Mutex
	root *node

	queue      OutgoingQueue
	acl        ACLChecker
	persist    PersistNotifier
	retained   RetainedStore
	sysPublish SysPublisher
	upgradeQoS bool
	log        logger.Logger

	subscriptionCount atomic.Int64
	sharedCount       atomic.Int64
}

// NewRouter creates a router from the given configuration
func NewRouter(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Router{
		root:       newNode(nil, ""),
		queue:      cfg.Queue,
		acl:        cfg.ACL,
		persist:    cfg.Persist,
		retained:   cfg.Retained,
		sysPublish: cfg.SysPublish,
		upgradeQoS: cfg.UpgradeOutgoingQoS,
		log:        log,
	}
}

// publish is the per-call routing context
type publish struct {
	sourceID string
	topic    string
	qos      byte
	retain   bool
	msg      *message.Message
}

// Subscribe adds a subscription for the client, walking or creating the
// trie path for its filter. A repeated (client, filter) pair overwrites
// the options and identifier in place and returns ErrSubscriptionExists
// for MQTT 3.1 and 5.0 clients; 3.1.1 swallows it, because that revision
// signals retained-message resend through the success code.
func (r *Router) Subscribe(c *Client, sub Subscription) error {
	levels, share, err := tokenizeFilter(sub.TopicFilter)
	if err != nil {
		return err
	}

	if c == nil || c.ID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.navigate(levels)

	var existed bool
	if share != "" {
		existed = r.addShared(c, sub, sub.TopicFilter, share, n)
	} else {
		existed = r.addNormal(c, sub, sub.TopicFilter, n)
	}

	if existed {
		if c.Protocol == ProtocolV311 {
			return nil
		}
		return ErrSubscriptionExists
	}

	r.log.Debug("subscription added", "client", c.ID, "filter", sub.TopicFilter, "share", share)
	return nil
}

// Reason is the per-filter unsubscribe outcome, using the UNSUBACK reason
// code values.
type Reason byte

const (
	UnsubscribeSuccess    Reason = 0x00
	NoSubscriptionExisted Reason = 0x11
)

// Unsubscribe removes the client's subscription for the filter and prunes
// any branch it leaves empty. A filter that was never subscribed is not an
// error; it reports NoSubscriptionExisted.
func (r *Router) Unsubscribe(c *Client, filter string) (Reason, error) {
	levels, share, err := tokenizeFilter(filter)
	if err != nil {
		return NoSubscriptionExisted, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.descend(levels)
	if n == nil {
		return NoSubscriptionExisted, nil
	}

	var l *leaf
	if share != "" {
		if g, ok := n.shared[share]; ok {
			l = findLeaf(g.subs, c.ID)
		}
	} else {
		l = findLeaf(n.subs, c.ID)
	}
	if l == nil {
		return NoSubscriptionExisted, nil
	}

	r.detach(l)
	r.pruneUp(n)

	r.log.Debug("subscription removed", "client", c.ID, "filter", filter)
	return UnsubscribeSuccess, nil
}

// Publish routes a stored message to every matching subscription and, when
// the retain flag is set, hands it to the retained store afterwards.
// sourceID identifies the publishing client for no-local filtering; pass
// "" for messages that do not originate from a client.
//
// ErrNoSubscribers reports that nothing matched. A queue failure at any
// recipient is returned after the remaining recipients of that node were
// attempted.
func (r *Router) Publish(sourceID, topicName string, qos byte, retain bool, msg *message.Message) error {
	levels, err := tokenizeTopic(topicName)
	if err != nil {
		return err
	}

	// Hold a reference for the duration of the traversal so no delivery
	// can observe a freed payload.
	msg.Ref()
	defer msg.Unref()

	pub := &publish{
		sourceID: sourceID,
		topic:    topicName,
		qos:      qos,
		retain:   retain,
		msg:      msg,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A leading '$' level is matched only literally: root-level '+' and
	// '#' subscriptions never see $SYS-style topics.
	skipWild := levels[0] != "" && levels[0][0] == '$'

	rc := r.search(r.root, levels, pub, skipWild)

	if retain && r.retained != nil {
		if err := r.retained.Retain(topicName, msg); err != nil {
			rc = err
		}
	}

	return rc
}

// search recursively matches levels against the children of n: the literal
// child first, then '+', each dispatched when the matched child consumed
// the final level, and '#' at every step regardless of remaining levels.
func (r *Router) search(n *node, levels []string, pub *publish, skipWild bool) error {
	var delivered bool

	if len(levels) > 0 {
		if branch, ok := n.children[levels[0]]; ok {
			rc := r.search(branch, levels[1:], pub, false)
			if rc == nil {
				delivered = true
			} else if !errors.Is(rc, ErrNoSubscribers) {
				return rc
			}
			if len(levels) == 1 {
				rc = r.process(branch, pub)
				if rc == nil {
					delivered = true
				} else if !errors.Is(rc, ErrNoSubscribers) {
					return rc
				}
			}
		}

		if !skipWild {
			if branch, ok := n.children["+"]; ok {
				rc := r.search(branch, levels[1:], pub, false)
				if rc == nil {
					delivered = true
				} else if !errors.Is(rc, ErrNoSubscribers) {
					return rc
				}
				if len(levels) == 1 {
					rc = r.process(branch, pub)
					if rc == nil {
						delivered = true
					} else if !errors.Is(rc, ErrNoSubscribers) {
						return rc
					}
				}
			}
		}
	}

	if !skipWild {
		// A '#' node never has children by subscribe-time validation; the
		// check mirrors the matching rule anyway.
		if branch, ok := n.children["#"]; ok && len(branch.children) == 0 {
			rc := r.process(branch, pub)
			if rc == nil {
				delivered = true
			} else if !errors.Is(rc, ErrNoSubscribers) {
				return rc
			}
		}
	}

	if delivered {
		return nil
	}
	return ErrNoSubscribers
}

// process dispatches the publish at a matched node: one member per share
// group with the head rotated to the tail on every attempt, then the
// direct leaves in insertion order.
func (r *Router) process(n *node, pub *publish) error {
	var failed error

	for _, g := range n.shared {
		err := r.send(g.subs[0], pub)
		g.rotate()
		if err != nil && failed == nil {
			failed = err
		}
	}

	for _, l := range n.subs {
		if pub.sourceID != "" && (l.client.ID == "" || (l.options.NoLocal && l.client.ID == pub.sourceID)) {
			continue
		}
		if err := r.send(l, pub); err != nil && failed == nil {
			failed = err
		}
	}

	if len(n.subs) == 0 && len(n.shared) == 0 {
		return ErrNoSubscribers
	}
	return failed
}

// send performs one delivery: ACL read check, QoS resolution, packet id
// allocation, retain-as-published rewrite, queue hand-off.
func (r *Router) send(l *leaf, pub *publish) error {
	if r.acl != nil {
		err := r.acl.ACLCheck(l.client, pub.topic, pub.msg.Payload, pub.msg.QoS, pub.msg.Retain, AccessRead)
		if errors.Is(err, ErrACLDenied) {
			return nil
		} else if err != nil {
			return err
		}
	}

	clientQoS := l.options.QoS
	msgQoS := pub.qos
	if r.upgradeQoS {
		msgQoS = clientQoS
	} else if msgQoS > clientQoS {
		msgQoS = clientQoS
	}

	var mid uint16
	if msgQoS > 0 {
		mid = l.client.nextPacketID()
	}

	retain := false
	if l.options.RetainAsPublished {
		retain = pub.retain
	}

	if err := r.queue.InsertOutgoing(l.client, false, mid, msgQoS, retain, pub.msg, l.identifier); err != nil {
		r.log.Error("outgoing insert failed", "client", l.client.ID, "topic", pub.topic, "error", err)
		return err
	}
	return nil
}

// CleanSession removes every subscription the client holds, walking the
// client index instead of the trie, notifying the persistence layer per
// filter and pruning emptied branches.
func (r *Router) CleanSession(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range c.subs {
		if l == nil || l.node == nil {
			continue
		}

		if r.persist != nil {
			r.persist.SubscriptionDeleted(c, l.topicFilter)
		}

		n := l.node
		r.detach(l)
		r.pruneUp(n)
		c.subs[i] = nil
	}

	c.subs = nil
	c.subsCount = 0

	r.log.Debug("session cleaned", "client", c.ID)
	return nil
}

// Count returns the number of direct subscriptions
func (r *Router) Count() int64 {
	return r.subscriptionCount.Load()
}

// SharedCount returns the number of shared-subscription members
func (r *Router) SharedCount() int64 {
	return r.sharedCount.Load()
}

const subscribedTopicsPrefix = "$SYS/broker/subscribed_topics"

// publishSubscribedTopics emits the per-node direct subscriber count under
// the subscribed_topics telemetry prefix. Caller holds the router lock.
func (r *Router) publishSubscribedTopics(n *node) {
	if r.sysPublish == nil {
		return
	}
	r.sysPublish(subscribedTopicsPrefix+"/"+n.fullTopic(), []byte(strconv.Itoa(len(n.subs))))
}
