package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/syncpad/syncpad/internal/feed"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

// fakeChatRepo mimics the Postgres store: global monotonic seq, message id
// as a unique key.
type fakeChatRepo struct {
	mu      sync.Mutex
	nextSeq int64
	byID    map[uuid.UUID]models.ChatMessage
	order   []uuid.UUID
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{byID: make(map[uuid.UUID]models.ChatMessage)}
}

func (r *fakeChatRepo) Append(_ context.Context, msg models.ChatMessage) (*models.ChatMessage, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[msg.ID]; ok {
		return &existing, false, nil
	}
	r.nextSeq++
	msg.Seq = r.nextSeq
	msg.SentAt = time.Now()
	r.byID[msg.ID] = msg
	r.order = append(r.order, msg.ID)
	return &msg, true, nil
}

func (r *fakeChatRepo) ListFrom(_ context.Context, sessionID uuid.UUID, sinceSeq int64, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatMessage, 0)
	for _, id := range r.order {
		msg := r.byID[id]
		if msg.SessionID == sessionID && msg.Seq > sinceSeq && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func newTestLog(t *testing.T) (*Log, *feed.Broker) {
	t.Helper()
	broker := feed.NewBroker(zap.NewNop())
	log := NewLog(newFakeChatRepo(), broker, session.NewLocks(), zap.NewNop())
	return log, broker
}

func TestLog_AppendAssignsOrdinalAndPublishes(t *testing.T) {
	log, broker := newTestLog(t)
	sessionID := uuid.New()
	sender := uuid.New()

	sub := broker.Subscribe(sessionID)
	defer sub.Close()

	msg, err := log.Append(context.Background(), sessionID, sender, "Ada", "hello there", uuid.Nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, msg.ID)
	require.Equal(t, int64(1), msg.Seq)
	require.Equal(t, "Ada", msg.SenderName)

	select {
	case ev := <-sub.Events():
		require.Equal(t, models.KindChatMessageAppended, ev.Kind)
		require.Equal(t, sender, ev.OriginID)
		require.Equal(t, "hello there", ev.Message.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat event published")
	}
}

func TestLog_RejectsEmptyBody(t *testing.T) {
	log, _ := newTestLog(t)

	_, err := log.Append(context.Background(), uuid.New(), uuid.New(), "Ada", "", uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = log.Append(context.Background(), uuid.New(), uuid.New(), "Ada", "   \n\t ", uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestLog_RejectsOverLengthBodyBeforeStore(t *testing.T) {
	repo := newFakeChatRepo()
	broker := feed.NewBroker(zap.NewNop())
	log := NewLog(repo, broker, session.NewLocks(), zap.NewNop())

	// 501 characters: rejected client-side of the store, no round trip.
	body := strings.Repeat("x", models.MaxChatBodyLen+1)
	_, err := log.Append(context.Background(), uuid.New(), uuid.New(), "Ada", body, uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
	require.Empty(t, repo.byID, "invalid message must never reach the repository")

	// Exactly 500 is fine.
	_, err = log.Append(context.Background(), uuid.New(), uuid.New(), "Ada", strings.Repeat("x", models.MaxChatBodyLen), uuid.Nil)
	require.NoError(t, err)
}

func TestLog_MultibyteBodyCountedInRunes(t *testing.T) {
	log, _ := newTestLog(t)

	// 500 multi-byte runes exceed 500 bytes but are still a valid message.
	body := strings.Repeat("é", models.MaxChatBodyLen)
	_, err := log.Append(context.Background(), uuid.New(), uuid.New(), "Ada", body, uuid.Nil)
	require.NoError(t, err)
}

func TestLog_RetryWithSameKeyDoesNotDuplicate(t *testing.T) {
	log, broker := newTestLog(t)
	sessionID := uuid.New()
	sender := uuid.New()
	key := uuid.New()

	sub := broker.Subscribe(sessionID)
	defer sub.Close()

	first, err := log.Append(context.Background(), sessionID, sender, "Ada", "sent once", key)
	require.NoError(t, err)

	// The client timed out and retried with the same idempotency key.
	second, err := log.Append(context.Background(), sessionID, sender, "Ada", "sent once", key)
	require.NoError(t, err)
	require.Equal(t, first.Seq, second.Seq)

	backlog, err := log.ListFrom(context.Background(), sessionID, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 1)

	// Exactly one announcement.
	<-sub.Events()
	select {
	case extra := <-sub.Events():
		t.Fatalf("duplicate chat event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLog_ObserversSeeProgramOrder(t *testing.T) {
	log, broker := newTestLog(t)
	sessionID := uuid.New()
	sender := uuid.New()

	sub := broker.Subscribe(sessionID)
	defer sub.Close()

	bodies := []string{"first", "second", "third", "fourth"}
	for _, body := range bodies {
		_, err := log.Append(context.Background(), sessionID, sender, "Ada", body, uuid.Nil)
		require.NoError(t, err)
	}

	// append(a) returned before append(b) started, so every subscriber
	// observes a before b.
	for _, want := range bodies {
		select {
		case ev := <-sub.Events():
			require.Equal(t, want, ev.Message.Body)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing chat event %q", want)
		}
	}
}

func TestLog_ListFromReturnsBacklogAfterOrdinal(t *testing.T) {
	log, _ := newTestLog(t)
	sessionID := uuid.New()
	sender := uuid.New()

	var lastSeen int64
	for _, body := range []string{"one", "two", "three"} {
		msg, err := log.Append(context.Background(), sessionID, sender, "Ada", body, uuid.Nil)
		require.NoError(t, err)
		if body == "one" {
			lastSeen = msg.Seq
		}
	}

	// Reconnecting client saw "one"; the backlog resumes after it.
	backlog, err := log.ListFrom(context.Background(), sessionID, lastSeen)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	require.Equal(t, "two", backlog[0].Body)
	require.Equal(t, "three", backlog[1].Body)
}
