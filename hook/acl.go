package hook

import (
	"sync"

	"github.com/axmq/broker/topic"
)

// ACLRule grants an access level on a topic filter to one client or, with
// an empty ClientID, to every client.
type ACLRule struct {
	ClientID string
	Filter   string
	Access   topic.AccessType
}

// FilterACLHook is a rule-based access-control hook. A client may access
// a topic if any rule for it (or for all clients) covers the topic under
// MQTT filter matching. With no rules for a client the default policy
// applies.
type FilterACLHook struct {
	*Base
	mu           sync.RWMutex
	rules        []ACLRule
	defaultAllow bool
}

// NewFilterACLHook creates an ACL hook with the given default policy
func NewFilterACLHook(defaultAllow bool) *FilterACLHook {
	return &FilterACLHook{
		Base:         NewHookBase("filter-acl"),
		defaultAllow: defaultAllow,
	}
}

// Provides indicates this hook performs ACL checks
func (h *FilterACLHook) Provides(event Event) bool {
	return event == OnACLCheck
}

// Allow adds a rule granting access on the filter to the client ("" = all)
func (h *FilterACLHook) Allow(clientID, filter string, access topic.AccessType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules = append(h.rules, ACLRule{ClientID: clientID, Filter: filter, Access: access})
}

// Clear removes all rules
func (h *FilterACLHook) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules = nil
}

// RuleCount returns the number of registered rules
func (h *FilterACLHook) RuleCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rules)
}

// OnACLCheck allows the access if a matching rule exists; otherwise the
// default policy decides, except that a client with rules but no match is
// denied.
func (h *FilterACLHook) OnACLCheck(client *topic.Client, topicName string, access topic.AccessType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientID := ""
	if client != nil {
		clientID = client.ID
	}

	ruled := false
	for _, rule := range h.rules {
		if rule.ClientID != "" && rule.ClientID != clientID {
			continue
		}
		ruled = true
		if rule.Access != access && rule.Access != topic.AccessReadWrite {
			continue
		}
		if topic.MatchFilter(rule.Filter, topicName) {
			return true
		}
	}

	if ruled {
		return false
	}
	return h.defaultAllow
}
