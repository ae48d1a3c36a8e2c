package hook

import (
	"github.com/axmq/broker/topic"
)

// Event represents hook event types
type Event byte

const (
	OnACLCheck Event = iota
	OnSubscribe
	OnSubscribed
	OnUnsubscribed
	OnSubscriptionDeleted
)

// String returns the string representation of the event
func (e Event) String() string {
	names := [...]string{
		"OnACLCheck",
		"OnSubscribe",
		"OnSubscribed",
		"OnUnsubscribed",
		"OnSubscriptionDeleted",
	}
	if e < Event(len(names)) {
		return names[e]
	}
	return "Unknown"
}

// Hook is the interface the subscription core invokes at its lifecycle
// points. Embed Base and override only the events of interest.
type Hook interface {
	// ID returns a unique identifier for this hook
	ID() string

	// Provides indicates if the hook provides implementation for the given event
	Provides(event Event) bool

	// Init initializes the hook with the given configuration
	Init(config any) error

	// Stop stops the hook
	Stop() error

	// OnACLCheck decides whether the client may access the topic
	OnACLCheck(client *topic.Client, topicName string, access topic.AccessType) bool

	// OnSubscribe is called before a subscription is added
	OnSubscribe(client *topic.Client, sub *topic.Subscription) error

	// OnSubscribed is called after a subscription is added
	OnSubscribed(client *topic.Client, sub *topic.Subscription) error

	// OnUnsubscribed is called after a subscription is removed
	OnUnsubscribed(client *topic.Client, topicFilter string) error

	// OnSubscriptionDeleted is called when clean-session drops a subscription,
	// so persistence can delete its record
	OnSubscriptionDeleted(client *topic.Client, topicFilter string) error
}
