package session

import (
	"context"
	"errors"

	"github.com/axmq/broker/topic"
)

// Rebuild reconstructs the subscription trie on broker startup by
// replaying every persisted session's subscription set through the
// router. It returns the loaded sessions keyed by client ID.
//
// The trie itself is never persisted; the session store is the single
// source of truth for subscriptions.
func Rebuild(ctx context.Context, store Store, router *topic.Router) (map[string]*Session, error) {
	clientIDs, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	sessions := make(map[string]*Session, len(clientIDs))
	for _, clientID := range clientIDs {
		sess, err := store.Load(ctx, clientID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}

		client := sess.Client()
		for _, sub := range sess.Subscriptions {
			err := router.Subscribe(client, topic.Subscription{
				TopicFilter: sub.TopicFilter,
				Options: topic.SubOptions{
					QoS:               sub.QoS,
					NoLocal:           sub.NoLocal,
					RetainAsPublished: sub.RetainAsPublished,
					RetainHandling:    sub.RetainHandling,
				},
				Identifier: sub.SubscriptionIdentifier,
			})
			if err != nil && !errors.Is(err, topic.ErrSubscriptionExists) {
				return nil, err
			}
		}

		sessions[clientID] = sess
	}

	return sessions, nil
}
