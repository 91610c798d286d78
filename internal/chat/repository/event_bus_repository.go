package repository

import (
	"context"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// UserChannel is the per-actor global channel, subscribed for the lifetime of
// a session.
func UserChannel(actorID string) string { return "chat:user:" + actorID }

// ConversationChannel is the per-conversation channel, subscribed only while
// that conversation is active.
func ConversationChannel(convID string) string { return "chat:conversation:" + convID }

func presenceKey(convID string) string { return "chat:presence:" + convID }

// Subscription is an open channel subscription; Close tears it down.
type Subscription interface {
	Close()
}

// EventBus is the publish/subscribe transport of the sync engine. Presence is
// snapshot-authoritative: TrackPresence always broadcasts the complete typing
// map, never a delta.
type EventBus interface {
	Publish(ctx context.Context, channel string, ev domain.BusEvent) error
	Subscribe(ctx context.Context, channel string, handler func(domain.BusEvent)) (Subscription, error)
	TrackPresence(ctx context.Context, convID, actorID string, typing bool) (map[string]bool, error)
}

// RedisEventBus definition redis pub/sub event bus
type RedisEventBus struct {
	client      *redis.Client
	presenceTTL time.Duration
}

// NewRedisEventBus create RedisEventBus. presenceTTL bounds how long a typing
// flag survives without a refresh (0 picks a default of 30s).
func NewRedisEventBus(client *redis.Client, presenceTTL time.Duration) *RedisEventBus {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	return &RedisEventBus{client: client, presenceTTL: presenceTTL}
}

// Publish serializes the event and publishes it on channel.
func (r *RedisEventBus) Publish(ctx context.Context, channel string, ev domain.BusEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

type redisSubscription struct {
	sub    *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Close() {
	s.cancel()
	s.sub.Close()
}

// Subscribe starts a subscriber goroutine on channel. The handler is
// recover-guarded: a panic inside it must not kill the subscription.
func (r *RedisEventBus) Subscribe(ctx context.Context, channel string, handler func(domain.BusEvent)) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := r.client.Subscribe(subCtx, channel)

	// confirm the subscription before returning so no event can slip past
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		sub.Close()
		return nil, err
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				ev, err := domain.DecodeBusEvent([]byte(m.Payload))
				if err != nil {
					logger.Log.Error("bus event decode failed",
						zap.String("channel", channel), zap.Error(err))
					continue
				}
				safeHandle(channel, handler, ev)
			case <-subCtx.Done():
				logger.Log.Info(channel + " , sub close")
				sub.Close()
				return
			}
		}
	}()
	return &redisSubscription{sub: sub, cancel: cancel}, nil
}

func safeHandle(channel string, handler func(domain.BusEvent), ev domain.BusEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("bus handler panic",
				zap.String("channel", channel), zap.Any("panic", rec))
		}
	}()
	handler(ev)
}

// TrackPresence updates the actor's typing flag in the conversation's
// presence hash, reads the full snapshot back and broadcasts it on the
// conversation channel. The hash carries a TTL so presence always clears on
// disconnect.
func (r *RedisEventBus) TrackPresence(ctx context.Context, convID, actorID string, typing bool) (map[string]bool, error) {
	key := presenceKey(convID)

	if typing {
		if err := r.client.HSet(ctx, key, actorID, "1").Err(); err != nil {
			return nil, err
		}
	} else {
		if err := r.client.HDel(ctx, key, actorID).Err(); err != nil {
			return nil, err
		}
	}
	if err := r.client.Expire(ctx, key, r.presenceTTL).Err(); err != nil {
		return nil, err
	}

	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]bool, len(raw))
	for actor, v := range raw {
		snapshot[actor] = v == "1"
	}

	err = r.Publish(ctx, ConversationChannel(convID), domain.BusEvent{
		Type:           domain.EventPresenceSync,
		ConversationID: convID,
		Presence:       snapshot,
	})
	return snapshot, err
}
