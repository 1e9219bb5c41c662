package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/syncpad/syncpad/internal/coalesce"
	"github.com/syncpad/syncpad/internal/models"
	"go.uber.org/zap"
)

// Editor is one editing buffer attached to a session: a live feed
// connection on the read side, a coalescer on the write side, and an echo
// filter in between deciding which incoming document events actually touch
// the buffer.
//
// The first frame off the feed is the snapshot; Editor applies it, seeds
// the coalescer's acknowledged content from it, and only then starts
// surfacing live events on Events().
type Editor struct {
	client    *Client
	sessionID uuid.UUID
	conn      *websocket.Conn
	coalescer *coalesce.Coalescer
	filter    *coalesce.EchoFilter
	logger    *zap.Logger

	events chan models.ChangeEvent
	errs   chan error
	quit   chan struct{}

	mu       sync.Mutex
	content  string
	fileName string
	closed   bool

	closeOnce sync.Once
}

// EditorOption forwards tuning to the underlying coalescer; tests shrink
// the quiescence window with coalesce.WithInterval.
type EditorOption = coalesce.Option

// OpenEditor connects to the session's change feed and blocks until the
// initial snapshot arrives, so the returned Editor already holds current
// content. Close the editor to release the connection and discard pending
// writes.
func (c *Client) OpenEditor(ctx context.Context, sessionID uuid.UUID, opts ...EditorOption) (*Editor, error) {
	if c.token == "" {
		return nil, ErrUnauthenticated
	}

	feedURL, err := c.feedURL(sessionID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	e := &Editor{
		client:    c,
		sessionID: sessionID,
		conn:      conn,
		filter:    coalesce.NewEchoFilter(c.userID),
		logger:    c.logger,
		events:    make(chan models.ChangeEvent, 16),
		errs:      make(chan error, 1),
		quit:      make(chan struct{}),
	}
	// The server-advertised quiescence window is the default; explicit
	// options are applied after it and win.
	base := []coalesce.Option{coalesce.WithErrorFunc(e.flushFailed)}
	if c.coalesceInterval > 0 {
		base = append(base, coalesce.WithInterval(c.coalesceInterval))
	}
	e.coalescer = coalesce.New(e.flush, c.logger, append(base, opts...)...)

	var first models.ChangeEvent
	if err := conn.ReadJSON(&first); err != nil {
		e.Close()
		return nil, fmt.Errorf("read snapshot frame: %w", err)
	}
	if first.Kind != models.KindSnapshot || first.Snapshot == nil {
		e.Close()
		return nil, fmt.Errorf("unexpected first frame kind %q", first.Kind)
	}
	e.filter.ShouldApply(first)
	e.mu.Lock()
	e.content = first.Snapshot.Session.Document.Content
	e.fileName = first.Snapshot.Session.Document.Name
	e.mu.Unlock()
	e.coalescer.Acknowledge(first.Snapshot.Session.Document.Content)

	go e.readLoop()
	return e, nil
}

// Events yields the live feed after the snapshot. Document events that the
// echo filter rejected (own echoes, already-displayed content) are not
// delivered. The channel closes when the connection drops or the editor is
// closed; Err() then reports why.
func (e *Editor) Events() <-chan models.ChangeEvent {
	return e.events
}

// Err reports a write failure that survived the retry, or nil. Buffered:
// only the first failure is kept.
func (e *Editor) Err() <-chan error {
	return e.errs
}

// Content is the buffer as this editor currently shows it.
func (e *Editor) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content
}

// Type records a local edit. Writes go out coalesced — one per quiescence
// window, carrying whatever content the last Type call left.
func (e *Editor) Type(content string) {
	e.mu.Lock()
	e.content = content
	e.mu.Unlock()
	e.coalescer.Update(content)
}

// Upload replaces the buffer with a file's content and flushes
// immediately — one deliberate action, no debounce.
func (e *Editor) Upload(fileName, content string) {
	e.mu.Lock()
	e.content = content
	e.fileName = fileName
	e.mu.Unlock()
	e.coalescer.FlushNow(content)
}

// Close drops the feed connection and discards any pending coalesced
// write. Safe to call more than once.
func (e *Editor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		// quit releases a read loop parked on a full events channel;
		// closing the connection only unblocks one parked in ReadJSON.
		close(e.quit)
		e.coalescer.Close()
		e.conn.Close()
	})
}

func (e *Editor) flush(ctx context.Context, content string) error {
	e.mu.Lock()
	fileName := e.fileName
	e.mu.Unlock()

	_, err := e.client.WriteDocument(ctx, e.sessionID, fileName, content)
	if err != nil {
		return err
	}
	e.filter.ObserveLocalWrite(content)
	return nil
}

func (e *Editor) flushFailed(content string, err error) {
	e.logger.Warn("document write failed after retry",
		zap.String("session_id", e.sessionID.String()), zap.Error(err))
	select {
	case e.errs <- err:
	default:
	}
}

func (e *Editor) readLoop() {
	defer close(e.events)
	for {
		var ev models.ChangeEvent
		if err := e.conn.ReadJSON(&ev); err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if !closed {
				e.logger.Warn("feed connection lost",
					zap.String("session_id", e.sessionID.String()), zap.Error(err))
			}
			return
		}

		if !e.filter.ShouldApply(ev) {
			continue
		}
		switch ev.Kind {
		case models.KindDocumentChanged:
			e.mu.Lock()
			e.content = ev.Document.Content
			e.fileName = ev.Document.Name
			e.mu.Unlock()
			// Remote content is now what the buffer shows; an identical
			// local flush would be redundant.
			e.coalescer.Acknowledge(ev.Document.Content)
		case models.KindSnapshot:
			e.mu.Lock()
			e.content = ev.Snapshot.Session.Document.Content
			e.fileName = ev.Snapshot.Session.Document.Name
			e.mu.Unlock()
			e.coalescer.Acknowledge(ev.Snapshot.Session.Document.Content)
		}
		select {
		case e.events <- ev:
		case <-e.quit:
			return
		}
	}
}
