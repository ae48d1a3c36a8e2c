package topic

// SubOptions carries the per-subscription delivery options from the
// SUBSCRIBE packet.
type SubOptions struct {
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

// Subscription is a subscribe request: the original filter (which may carry
// a $share/<group>/ prefix), the options and the optional subscription
// identifier (0 = absent).
type Subscription struct {
	TopicFilter string
	Options     SubOptions
	Identifier  uint32
}

// leaf is one client's subscription attached to a trie node. A leaf lives
// either in its node's direct list or in one share group, never both.
type leaf struct {
	client      *Client
	options     SubOptions
	identifier  uint32
	topicFilter string
	node        *node
	group       *sharedGroup // nil for a direct subscription
}

// sharedGroup is a named bucket of leaves at one trie node. subs[0] is the
// next recipient; dispatch rotates the head to the tail after every
// attempt, delivered or not, so a failing member cannot starve the group.
type sharedGroup struct {
	name string
	subs []*leaf
}

func (g *sharedGroup) rotate() {
	if len(g.subs) < 2 {
		return
	}
	head := g.subs[0]
	copy(g.subs, g.subs[1:])
	g.subs[len(g.subs)-1] = head
}

// findLeaf returns the member owned by the given client id, if any
func findLeaf(subs []*leaf, clientID string) *leaf {
	for _, l := range subs {
		if l.client != nil && l.client.ID == clientID {
			return l
		}
	}
	return nil
}

// removeLeaf deletes l from subs preserving order, reporting success
func removeLeaf(subs []*leaf, l *leaf) ([]*leaf, bool) {
	for i, cur := range subs {
		if cur == l {
			copy(subs[i:], subs[i+1:])
			subs[len(subs)-1] = nil
			return subs[:len(subs)-1], true
		}
	}
	return subs, false
}
