package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge fans local events out to other instances over a Redis channel
// and replays their events on the local dispatcher.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	local   Dispatcher
	logger  *zap.Logger
}

// NewRedisBridge wires the bridge to local. Call Run to receive remote
// events.
func NewRedisBridge(client *redis.Client, channel string, local Dispatcher, logger *zap.Logger) *RedisBridge {
	b := &RedisBridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  logger,
	}
	local.SubscribeAll(b.forward)
	return b
}

// Origin identifies this instance on the channel.
func (b *RedisBridge) Origin() string {
	return b.origin
}

func (b *RedisBridge) forward(ctx context.Context, event Event) error {
	if event.Origin != "" {
		return nil
	}
	event.Origin = b.origin
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.logger.Warn("redis publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Run relays remote events until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, []byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		b.logger.Warn("dropping malformed remote event", zap.Error(err))
		return
	}
	if event.Origin == "" || event.Origin == b.origin {
		return
	}
	if err := b.local.Publish(ctx, event); err != nil {
		b.logger.Warn("remote event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
