// Package coalesce is the client-side half of the write path: it batches a
// keystroke-frequency edit stream into one authoritative write per
// quiescence window, and decides which incoming document events a client
// should apply to its buffer.
package coalesce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the quiescence window: a write goes out only after
// the editor has been quiet this long.
const DefaultInterval = 1000 * time.Millisecond

// DefaultRetryBackoff is the pause before a failed flush's single retry.
const DefaultRetryBackoff = 250 * time.Millisecond

// FlushFunc performs the authoritative write of the latest content. It is
// called from the coalescer's own goroutine, never concurrently with
// itself.
type FlushFunc func(ctx context.Context, content string) error

// ErrorFunc receives the content that could not be written after the retry.
// The content is never discarded by the coalescer — surfacing it here lets
// the editor keep the user's unsaved work.
type ErrorFunc func(content string, err error)

// Coalescer implements the Idle → Pending(timer) → Flushing → Idle state
// machine. Each Update supersedes the pending content and restarts the
// timer; when the timer fires, the latest content is flushed as one write.
// At most one flush is in flight; an edit arriving mid-flight re-enters
// Pending and is scheduled after the flight completes.
//
// One Coalescer per editing buffer, client-local. No cross-client
// coordination happens at this layer.
type Coalescer struct {
	flush    FlushFunc
	onError  ErrorFunc
	interval time.Duration
	backoff  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	timer      *time.Timer
	pending    string
	hasPending bool
	immediate  bool
	inflight   bool
	lastAcked  string
	hasAcked   bool
	closed     bool
}

// Option tweaks a Coalescer. Tests shrink the interval; production keeps
// the defaults.
type Option func(*Coalescer)

func WithInterval(d time.Duration) Option {
	return func(c *Coalescer) { c.interval = d }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(c *Coalescer) { c.backoff = d }
}

func WithErrorFunc(fn ErrorFunc) Option {
	return func(c *Coalescer) { c.onError = fn }
}

func New(flush FlushFunc, logger *zap.Logger, opts ...Option) *Coalescer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coalescer{
		flush:    flush,
		onError:  func(string, error) {},
		interval: DefaultInterval,
		backoff:  DefaultRetryBackoff,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update records the latest buffer content and (re)starts the quiescence
// timer. Call it on every local edit; only the content present when the
// timer finally fires is written.
func (c *Coalescer) Update(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = content
	c.hasPending = true
	c.immediate = false
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	} else {
		c.timer.Reset(c.interval)
	}
}

// FlushNow bypasses the quiescence timer — the file-upload path, where the
// user performed one deliberate action rather than a keystroke burst. If a
// flush is already in flight the content goes out immediately after it.
func (c *Coalescer) FlushNow(content string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = content
	c.hasPending = true
	c.immediate = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.fire()
}

// Acknowledge records content the editor already holds as saved — applied
// remote content or the initial snapshot — so an identical local flush is
// skipped without a network call.
func (c *Coalescer) Acknowledge(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAcked = content
	c.hasAcked = true
}

// Close stops the timer and discards any pending write. A coalesced write
// whose session has been left is best-effort — dropped, not retried.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.hasPending = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.cancel()
}

// fire moves Pending → Flushing. Runs on the timer goroutine (or the
// FlushNow caller); the actual write happens inline so at most one flush
// is ever in flight.
func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.closed || !c.hasPending || c.inflight {
		// In-flight flush: the completion path re-schedules the pending
		// content, so the newer edit is never lost.
		c.mu.Unlock()
		return
	}
	content := c.pending
	c.hasPending = false
	c.immediate = false
	if c.hasAcked && content == c.lastAcked {
		// Byte-identical to the last acknowledged write — skip the call.
		c.mu.Unlock()
		return
	}
	c.inflight = true
	c.mu.Unlock()

	c.doFlush(content)
}

func (c *Coalescer) doFlush(content string) {
	err := c.flush(c.ctx, content)
	if err != nil && c.ctx.Err() == nil {
		c.logger.Warn("flush failed, retrying once", zap.Error(err))
		select {
		case <-time.After(c.backoff):
			err = c.flush(c.ctx, content)
		case <-c.ctx.Done():
			err = c.ctx.Err()
		}
	}

	c.mu.Lock()
	c.inflight = false
	if err == nil {
		c.lastAcked = content
		c.hasAcked = true
	} else if c.ctx.Err() == nil {
		// Both attempts failed: keep the content pending so the user's
		// edits survive, but don't re-arm the timer — the failure is
		// surfaced and the next local edit reschedules naturally.
		if !c.hasPending {
			c.pending = content
			c.hasPending = true
		}
		c.mu.Unlock()
		c.onError(content, err)
		return
	}

	// An edit arrived while we were flushing — schedule it.
	if c.hasPending && !c.closed {
		if c.immediate {
			go c.fire()
		} else if c.timer == nil {
			c.timer = time.AfterFunc(c.interval, c.fire)
		} else {
			c.timer.Reset(c.interval)
		}
	}
	c.mu.Unlock()
}
