package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/syncpad/syncpad/internal/models"
	"go.uber.org/zap"
)

// eventsChannel is the single Redis pub/sub channel all instances share.
// Per-session fan-out happens locally; Redis only has to get the event to
// every process.
const eventsChannel = "syncpad.events"

// wireEvent is the cross-instance envelope. InstanceID lets the publishing
// process recognize and skip its own message when it comes back around —
// without it, an event would be delivered to local subscribers twice.
type wireEvent struct {
	InstanceID uuid.UUID          `json:"instance_id"`
	Event      models.ChangeEvent `json:"event"`
}

// RedisBridge replicates accepted events across server instances. It is
// optional: a Broker without one is a correct single-instance deployment.
//
// Delivery through the bridge is at-least-once and preserves per-session
// publish order (one channel, one subscriber goroutine per process).
type RedisBridge struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBridge(rdb *redis.Client, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{rdb: rdb, logger: logger}
}

// AttachRedis wires the bridge into the broker and starts forwarding remote
// events into the local subscriber set. Blocks until ctx is cancelled, so
// run it on its own goroutine.
func (b *Broker) AttachRedis(ctx context.Context, bridge *RedisBridge) error {
	b.mu.Lock()
	b.bridge = bridge
	b.mu.Unlock()

	sub := bridge.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	// Fail fast if Redis is unreachable rather than silently running
	// single-instance.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", eventsChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				bridge.logger.Warn("malformed feed event from redis", zap.Error(err))
				continue
			}
			if we.InstanceID == b.instanceID {
				continue
			}
			b.deliver(we.Event)
		}
	}
}

func (br *RedisBridge) publish(instanceID uuid.UUID, ev models.ChangeEvent) {
	payload, err := json.Marshal(wireEvent{InstanceID: instanceID, Event: ev})
	if err != nil {
		br.logger.Error("marshal feed event", zap.Error(err))
		return
	}
	// Fire-and-forget: a Redis hiccup must not fail the write that produced
	// the event. Local subscribers were already served.
	if err := br.rdb.Publish(context.Background(), eventsChannel, payload).Err(); err != nil {
		br.logger.Warn("publish feed event to redis", zap.Error(err))
	}
}
