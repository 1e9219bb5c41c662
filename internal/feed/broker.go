package feed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/models"
	"go.uber.org/zap"
)

// subscriberQueueCap bounds each subscriber's event queue. A subscriber
// that can't drain 64 events is not keeping up; we drop its oldest event
// rather than let it stall the writer path or its neighbors. Dropping is
// safe because document events carry full content (the newest one wins
// anyway) and chat backlog is re-fetchable via ListFrom.
const subscriberQueueCap = 64

// Broker fans accepted ChangeEvents out to every live subscriber of a
// session. Delivery is fire-and-forget per subscriber: Publish never
// blocks on a slow consumer.
//
// Ordering: Publish is called while the caller holds the session's
// mutation lock, so events enter each subscriber's queue in the per-session
// order the store accepted them (FIFO). There is no cross-session ordering.
type Broker struct {
	logger *zap.Logger

	// instanceID distinguishes this process on the Redis channel so it can
	// ignore the echo of its own publishes. Same tagged-origin idea the
	// per-client echo filter uses, one level up.
	instanceID uuid.UUID

	bridge *RedisBridge

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Subscription]struct{}
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		logger:     logger,
		instanceID: uuid.New(),
		sessions:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscription is one live feed. Events() yields the per-session ordered
// event stream until Close. Close is idempotent and releases the queue
// immediately — a dropped subscription leaks nothing.
type Subscription struct {
	broker    *Broker
	sessionID uuid.UUID
	events    chan models.ChangeEvent
	closeOnce sync.Once
}

func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		if subs, ok := s.broker.sessions[s.sessionID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.broker.sessions, s.sessionID)
			}
		}
		// Safe to close here: every send happens under the same lock.
		close(s.events)
	})
}

func (b *Broker) Subscribe(sessionID uuid.UUID) *Subscription {
	sub := &Subscription{
		broker:    b,
		sessionID: sessionID,
		events:    make(chan models.ChangeEvent, subscriberQueueCap),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to local subscribers and, when a Redis bridge is
// attached, to every other instance's subscribers too.
func (b *Broker) Publish(ev models.ChangeEvent) {
	b.deliver(ev)
	b.mu.RLock()
	bridge := b.bridge
	b.mu.RUnlock()
	if bridge != nil {
		bridge.publish(b.instanceID, ev)
	}
}

func (b *Broker) deliver(ev models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.sessions[ev.SessionID] {
		select {
		case sub.events <- ev:
			continue
		default:
		}
		// Queue full: drop oldest events until the newest fits. Looped
		// because a concurrent drain can steal the freed slot for another
		// publisher — the newest event must land regardless.
		for {
			select {
			case sub.events <- ev:
			default:
				select {
				case <-sub.events:
				default:
				}
				continue
			}
			break
		}
		b.logger.Warn("slow feed subscriber, dropped oldest event",
			zap.String("session_id", ev.SessionID.String()),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// SubscriberCount reports live subscriptions for a session. Used by tests
// and the health endpoint.
func (b *Broker) SubscriberCount(sessionID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}
