package eventbus

import "context"

// Topics published by the services
const (
	TopicScheduleCreated        = "schedule.created"
	TopicJournalPosted          = "journal.posted"
	TopicConnectionDisconnected = "xero.connection.disconnected"
)

// EventBus publishes domain events and delivers them to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event interface{}) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error)
	Close() error
}

// EventHandler processes one decoded event
type EventHandler func(ctx context.Context, event map[string]interface{}) error

// Subscription represents an event subscription
type Subscription interface {
	ID() string
	Topic() string
	Unsubscribe() error
}

// Nop discards every event. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, topic string, event interface{}) error { return nil }

func (Nop) Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error) {
	return nopSubscription{topic: topic}, nil
}

func (Nop) Close() error { return nil }

type nopSubscription struct{ topic string }

func (s nopSubscription) ID() string         { return "" }
func (s nopSubscription) Topic() string      { return s.topic }
func (s nopSubscription) Unsubscribe() error { return nil }
