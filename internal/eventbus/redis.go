package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultGroup is the consumer group subscribers join
const DefaultGroup = "prepaidly-workers"

// RedisEventBus carries events over Redis streams, one stream per topic.
// Subscribers read through a consumer group so each event is handled once
// per group.
type RedisEventBus struct {
	client      *redis.Client
	group       string
	logger      *zap.Logger
	subscribers map[string]*RedisSubscription
	mutex       sync.Mutex
	wg          sync.WaitGroup
}

// RedisSubscription is a running stream consumer
type RedisSubscription struct {
	id       string
	topic    string
	handler  EventHandler
	eventBus *RedisEventBus
	cancel   context.CancelFunc
}

// NewRedisEventBus creates an event bus on client. An empty group uses
// DefaultGroup.
func NewRedisEventBus(client *redis.Client, group string, logger *zap.Logger) *RedisEventBus {
	if group == "" {
		group = DefaultGroup
	}
	return &RedisEventBus{
		client:      client,
		group:       group,
		logger:      logger,
		subscribers: make(map[string]*RedisSubscription),
	}
}

// Publish appends event to the topic stream as a JSON payload
func (r *RedisEventBus) Publish(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"payload": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer for topic. Messages are acknowledged only
// when handler succeeds.
func (r *RedisEventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error) {
	// BUSYGROUP means the group already exists.
	if err := r.client.XGroupCreateMkStream(ctx, topic, r.group, "0").Err(); err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &RedisSubscription{
		id:       uuid.New().String(),
		topic:    topic,
		handler:  handler,
		eventBus: r,
		cancel:   cancel,
	}

	r.mutex.Lock()
	r.subscribers[sub.id] = sub
	r.mutex.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consumeStream(subCtx, sub)
	}()

	r.logger.Info("Started stream consumer",
		zap.String("topic", topic),
		zap.String("group", r.group))
	return sub, nil
}

func (r *RedisEventBus) consumeStream(ctx context.Context, sub *RedisSubscription) {
	consumer := "consumer-" + sub.id
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: consumer,
			Streams:  []string{sub.topic, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				r.logger.Error("Failed to read stream", zap.String("topic", sub.topic), zap.Error(err))
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := r.handleMessage(ctx, sub, msg); err != nil {
					// Left pending for redelivery.
					r.logger.Error("Failed to process message",
						zap.String("topic", sub.topic),
						zap.String("msg_id", msg.ID),
						zap.Error(err))
					continue
				}
				r.client.XAck(ctx, sub.topic, r.group, msg.ID)
			}
		}
	}
}

func (r *RedisEventBus) handleMessage(ctx context.Context, sub *RedisSubscription, msg redis.XMessage) error {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return fmt.Errorf("invalid payload format")
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		event = map[string]interface{}{"data": payload}
	}
	event["_msg_id"] = msg.ID

	return sub.handler(ctx, event)
}

func (r *RedisEventBus) unsubscribe(id string) {
	r.mutex.Lock()
	sub, ok := r.subscribers[id]
	delete(r.subscribers, id)
	r.mutex.Unlock()
	if ok {
		sub.cancel()
	}
}

// Close stops every consumer. The Redis client is owned by the caller.
func (r *RedisEventBus) Close() error {
	r.mutex.Lock()
	for id, sub := range r.subscribers {
		sub.cancel()
		delete(r.subscribers, id)
	}
	r.mutex.Unlock()
	r.wg.Wait()
	return nil
}

func (s *RedisSubscription) ID() string    { return s.id }
func (s *RedisSubscription) Topic() string { return s.topic }

// Unsubscribe stops the consumer
func (s *RedisSubscription) Unsubscribe() error {
	s.eventBus.unsubscribe(s.id)
	return nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
