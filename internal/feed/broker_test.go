package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/syncpad/syncpad/internal/models"
	"go.uber.org/zap"
)

func docEvent(sessionID uuid.UUID, origin uuid.UUID, content string) models.ChangeEvent {
	return models.ChangeEvent{
		SessionID: sessionID,
		Kind:      models.KindDocumentChanged,
		OriginID:  origin,
		Document:  &models.Document{Content: content},
	}
}

func collect(t *testing.T, sub *Subscription, n int) []models.ChangeEvent {
	t.Helper()
	out := make([]models.ChangeEvent, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestBroker_DeliversInPublishOrder(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()
	writer := uuid.New()

	sub := b.Subscribe(sessionID)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(docEvent(sessionID, writer, fmt.Sprintf("v%d", i)))
	}

	events := collect(t, sub, 10)
	for i, ev := range events {
		require.Equal(t, fmt.Sprintf("v%d", i), ev.Document.Content)
	}
}

func TestBroker_FansOutToAllSubscribers(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()

	subA := b.Subscribe(sessionID)
	defer subA.Close()
	subB := b.Subscribe(sessionID)
	defer subB.Close()

	b.Publish(docEvent(sessionID, uuid.New(), "hello"))

	require.Equal(t, "hello", collect(t, subA, 1)[0].Document.Content)
	require.Equal(t, "hello", collect(t, subB, 1)[0].Document.Content)
}

func TestBroker_NoCrossSessionDelivery(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionA := uuid.New()
	sessionB := uuid.New()

	sub := b.Subscribe(sessionA)
	defer sub.Close()

	b.Publish(docEvent(sessionB, uuid.New(), "other session"))

	select {
	case ev := <-sub.Events():
		t.Fatalf("received event for foreign session: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_SlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()
	writer := uuid.New()

	sub := b.Subscribe(sessionID)
	defer sub.Close()

	// Nobody drains: overflow the queue by one.
	for i := 0; i <= subscriberQueueCap; i++ {
		b.Publish(docEvent(sessionID, writer, fmt.Sprintf("v%d", i)))
	}

	// v0 was dropped to make room; order of the survivors is intact, and
	// the newest event made it in — full content means the client still
	// converges.
	events := collect(t, sub, subscriberQueueCap)
	require.Equal(t, "v1", events[0].Document.Content)
	require.Equal(t, fmt.Sprintf("v%d", subscriberQueueCap), events[len(events)-1].Document.Content)
}

func TestBroker_NewestEventSurvivesOverflowWithConcurrentDrain(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()
	writer := uuid.New()

	sub := b.Subscribe(sessionID)
	defer sub.Close()

	// A consumer draining while the queue overflows races the publisher for
	// the slot freed by each drop. Whatever interleaving happens, the final
	// publish must come out the other end — drop-oldest never sacrifices
	// the newest event.
	total := subscriberQueueCap * 8
	go func() {
		for i := 0; i < total; i++ {
			b.Publish(docEvent(sessionID, writer, fmt.Sprintf("v%d", i)))
		}
	}()

	last := fmt.Sprintf("v%d", total-1)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Document.Content == last {
				return
			}
		case <-deadline:
			t.Fatalf("newest event %s never delivered", last)
		}
	}
}

func TestBroker_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()
	writer := uuid.New()

	slow := b.Subscribe(sessionID)
	defer slow.Close()
	fast := b.Subscribe(sessionID)
	defer fast.Close()

	total := subscriberQueueCap * 2
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			b.Publish(docEvent(sessionID, writer, fmt.Sprintf("v%d", i)))
		}
	}()

	// The fast subscriber sees everything even though slow never drains.
	seen := 0
	for seen < total {
		select {
		case <-fast.Events():
			seen++
		case <-time.After(2 * time.Second):
			t.Fatalf("fast subscriber starved at %d of %d", seen, total)
		}
	}
	<-done
}

func TestSubscription_CloseIsIdempotentAndReleases(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()

	sub := b.Subscribe(sessionID)
	require.Equal(t, 1, b.SubscriberCount(sessionID))

	sub.Close()
	sub.Close() // second close must be a no-op

	require.Equal(t, 0, b.SubscriberCount(sessionID))

	// Channel is closed — ranging over it terminates.
	_, ok := <-sub.Events()
	require.False(t, ok)

	// Publishing after close must not panic or deliver.
	b.Publish(docEvent(sessionID, uuid.New(), "after close"))
}

func TestBroker_ResubscribeReceivesSubsequentEvents(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sessionID := uuid.New()
	writer := uuid.New()

	first := b.Subscribe(sessionID)
	b.Publish(docEvent(sessionID, writer, "before disconnect"))
	first.Close()

	// Events published while disconnected are not replayed; the client
	// reconciles from a snapshot instead.
	b.Publish(docEvent(sessionID, writer, "while away"))

	second := b.Subscribe(sessionID)
	defer second.Close()
	b.Publish(docEvent(sessionID, writer, "after resubscribe"))

	events := collect(t, second, 1)
	require.Equal(t, "after resubscribe", events[0].Document.Content)
}
