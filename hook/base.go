package hook

import "github.com/axmq/broker/topic"

// Base provides a default no-op implementation of the Hook interface
// Users can embed this in their custom hooks and override only the methods they need
type Base struct {
	id string
}

// NewHookBase creates a new base hook with the given ID
func NewHookBase(id string) *Base {
	return &Base{id: id}
}

// ID returns the unique identifier for this hook
func (h *Base) ID() string {
	return h.id
}

// Provides determines if the hook provides the given event
func (h *Base) Provides(event Event) bool {
	return false
}

// Init initializes the hook with the given config
func (h *Base) Init(config any) error {
	return nil
}

// Stop stops the hook
func (h *Base) Stop() error {
	return nil
}

// OnACLCheck allows all access by default
func (h *Base) OnACLCheck(client *topic.Client, topicName string, access topic.AccessType) bool {
	return true
}

// OnSubscribe is called before a subscription is added
func (h *Base) OnSubscribe(client *topic.Client, sub *topic.Subscription) error {
	return nil
}

// OnSubscribed is called after a subscription is added
func (h *Base) OnSubscribed(client *topic.Client, sub *topic.Subscription) error {
	return nil
}

// OnUnsubscribed is called after a subscription is removed
func (h *Base) OnUnsubscribed(client *topic.Client, topicFilter string) error {
	return nil
}

// OnSubscriptionDeleted is called when clean-session drops a subscription
func (h *Base) OnSubscriptionDeleted(client *topic.Client, topicFilter string) error {
	return nil
}
