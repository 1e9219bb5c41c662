package session

import (
	"sync"

	"github.com/google/uuid"
)

// Locks serializes mutations per session. Every mutating path — document
// writes, join, leave, chat append — runs inside the session's lock so the
// feed sees mutations in a single per-session order (the FIFO guarantee),
// while sessions never contend with each other.
//
// Shared between the session store and the chat log: chat appends are a
// different feed kind but the same serialization domain.
type Locks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[uuid.UUID]*sessionLock)}
}

// Do runs fn while holding the session's lock. The lock entry is reference
// counted and removed when idle, so abandoned sessions don't accumulate
// mutexes for the life of the process.
func (l *Locks) Do(sessionID uuid.UUID, fn func() error) error {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	err := fn()
	sl.Unlock()

	l.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()

	return err
}
