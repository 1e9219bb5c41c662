package coalesce

import (
	"sync"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/models"
)

// EchoFilter decides whether an incoming document event should be applied
// to the local editing buffer.
//
// A DocumentChanged event authored by this client (its own echo) must not
// be re-applied: it would clobber keystrokes typed since the flush and
// could loop back through the coalescer forever. The origin tag on the
// event is what makes this a pure comparison instead of a mutable
// "currently updating" flag racing against deliveries.
//
// The very first snapshot after subscribing always applies, regardless of
// origin — that's the bootstrap of initial state.
type EchoFilter struct {
	self uuid.UUID

	mu           sync.Mutex
	bootstrapped bool
	lastApplied  string
	hasApplied   bool
}

func NewEchoFilter(self uuid.UUID) *EchoFilter {
	return &EchoFilter{self: self}
}

// ShouldApply reports whether the event's document content belongs in the
// local buffer, and records it as applied when it does. Non-document
// events always pass — presence and chat never touch the editing buffer.
func (f *EchoFilter) ShouldApply(ev models.ChangeEvent) bool {
	switch ev.Kind {
	case models.KindSnapshot:
		if ev.Snapshot == nil {
			return false
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.bootstrapped {
			f.bootstrapped = true
			f.lastApplied = ev.Snapshot.Session.Document.Content
			f.hasApplied = true
			return true
		}
		// A later snapshot (resubscribe) is reconciliation, same rules as
		// a change: apply only if it differs from what we show.
		if f.lastApplied == ev.Snapshot.Session.Document.Content {
			return false
		}
		f.lastApplied = ev.Snapshot.Session.Document.Content
		return true

	case models.KindDocumentChanged:
		if ev.Document == nil {
			return false
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if ev.OriginID == f.self {
			return false
		}
		if f.hasApplied && ev.Document.Content == f.lastApplied {
			// Remote write that matches what is already displayed —
			// applying again would only force a redundant re-render.
			return false
		}
		f.lastApplied = ev.Document.Content
		f.hasApplied = true
		return true

	default:
		return true
	}
}

// ObserveLocalWrite records content this client itself flushed, so a
// matching remote event is recognized as already displayed.
func (f *EchoFilter) ObserveLocalWrite(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastApplied = content
	f.hasApplied = true
}
