package topic

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// node is one level of the subscription trie. The root carries an empty
// token and is never pruned; every other node is removed bottom-up as soon
// as it has no children, no direct leaves and no share groups.
type node struct {
	topic    string
	parent   *node
	children map[string]*node
	subs     []*leaf
	shared   map[string]*sharedGroup
}

func newNode(parent *node, topic string) *node {
	return &node{
		topic:  topic,
		parent: parent,
	}
}

func (n *node) empty() bool {
	return len(n.children) == 0 && len(n.subs) == 0 && len(n.shared) == 0
}

// navigate walks the trie along levels, creating missing nodes, and
// returns the terminal node.
func (r *Router) navigate(levels []string) *node {
	n := r.root
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			child = newNode(n, level)
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			n.children[level] = child
		}
		n = child
	}
	return n
}

// descend walks the trie along exact levels without creating anything.
// Returns nil if any level is missing.
func (r *Router) descend(levels []string) *node {
	n := r.root
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// addNormal adds or refreshes a direct subscription at n. When the client
// already holds a leaf here only the options and identifier change.
func (r *Router) addNormal(c *Client, sub Subscription, filter string, n *node) (existed bool) {
	if l := findLeaf(n.subs, c.ID); l != nil {
		l.options = sub.Options
		l.identifier = sub.Identifier
		return true
	}

	l := &leaf{
		client:      c,
		options:     sub.Options,
		identifier:  sub.Identifier,
		topicFilter: filter,
		node:        n,
	}
	n.subs = append(n.subs, l)
	c.attachLeaf(l)
	r.subscriptionCount.Add(1)
	r.publishSubscribedTopics(n)
	return false
}

// addShared adds or refreshes a shared subscription at n under the named
// group, creating the group on first use.
func (r *Router) addShared(c *Client, sub Subscription, filter, share string, n *node) (existed bool) {
	g, ok := n.shared[share]
	if !ok {
		g = &sharedGroup{name: share}
		if n.shared == nil {
			n.shared = make(map[string]*sharedGroup)
		}
		n.shared[share] = g
	}

	if l := findLeaf(g.subs, c.ID); l != nil {
		l.options = sub.Options
		l.identifier = sub.Identifier
		return true
	}

	l := &leaf{
		client:      c,
		options:     sub.Options,
		identifier:  sub.Identifier,
		topicFilter: filter,
		node:        n,
		group:       g,
	}
	g.subs = append(g.subs, l)
	c.attachLeaf(l)
	r.sharedCount.Add(1)
	return false
}

// detach unlinks a leaf from its node or share group and from the owning
// client's index, keeping both sides of the dual index consistent. The
// caller prunes afterwards.
func (r *Router) detach(l *leaf) {
	if l.group != nil {
		l.group.subs, _ = removeLeaf(l.group.subs, l)
		if len(l.group.subs) == 0 {
			delete(l.node.shared, l.group.name)
		}
		r.sharedCount.Add(-1)
	} else {
		l.node.subs, _ = removeLeaf(l.node.subs, l)
		r.subscriptionCount.Add(-1)
		r.publishSubscribedTopics(l.node)
	}
	l.client.detachLeaf(l)
}

// pruneUp removes n and then each newly-empty ancestor, stopping at the
// first non-empty node or the root.
func (r *Router) pruneUp(n *node) {
	for n != nil && n.parent != nil && n.empty() {
		parent := n.parent
		delete(parent.children, n.topic)
		n.parent = nil
		n = parent
	}
}

// fullTopic reconstructs the '/'-joined path from the root to n
func (n *node) fullTopic() string {
	if n.parent == nil {
		return n.topic
	}
	var levels []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		levels = append(levels, cur.topic)
	}
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	return strings.Join(levels, "/")
}

// DumpTree writes an indented diagnostic dump of the trie. Each node line
// shows its level token followed by "(clientID, qos)" per direct leaf.
func (r *Router) DumpTree(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dumpNodes(w, r.root.children, 0)
}

func dumpNodes(w io.Writer, children map[string]*node, level int) {
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		branch := children[k]
		fmt.Fprintf(w, "%s%s", strings.Repeat(" ", (level+2)*2), branch.topic)
		for _, l := range branch.subs {
			fmt.Fprintf(w, " (%s, %d)", l.client.ID, l.options.QoS)
		}
		for _, g := range branch.shared {
			for _, l := range g.subs {
				fmt.Fprintf(w, " ($share/%s: %s, %d)", g.name, l.client.ID, l.options.QoS)
			}
		}
		fmt.Fprintln(w)
		dumpNodes(w, branch.children, level+1)
	}
}
