// Package streambuf implements the consumer-side accumulation buffer for
// generation streams. Incoming deltas are coalesced so rendering code is
// notified at most once per frame tick instead of once per token.
package streambuf

import (
	"strings"
	"sync"
	"time"
)

// Scheduler schedules a single pending flush. Implementations decide what
// a "frame" is; the contract is at most one scheduled callback at a time,
// Cancel drops a not-yet-fired one. Keeping this explicit makes the
// coalescing contract testable without real frame timing.
type Scheduler interface {
	Schedule(fn func())
	Cancel()
}

// TimerScheduler approximates an animation frame with a short timer.
type TimerScheduler struct {
	Interval time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{Interval: 16 * time.Millisecond}
}

func (s *TimerScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	s.timer = time.AfterFunc(interval, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

func (s *TimerScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Listener receives the full accumulated content on every flush, never
// just the delta, so a missed notification can't leave it out of sync.
type Listener func(content string)

// Buffer is one explicit per-consumer session object. Construct one per
// active generation view and discard it after finalize/cancel; nothing
// here is process-global, so concurrent chats each own their buffer.
type Buffer struct {
	mu        sync.Mutex
	sched     Scheduler
	active    bool
	content   strings.Builder
	pending   []string
	listeners map[int]Listener
	nextSub   int
}

func NewBuffer(sched Scheduler) *Buffer {
	if sched == nil {
		sched = NewTimerScheduler()
	}
	return &Buffer{
		sched:     sched,
		listeners: make(map[int]Listener),
	}
}

// StartSession arms the buffer for a new stream, clearing any leftovers.
func (b *Buffer) StartSession() {
	b.mu.Lock()
	b.active = true
	b.content.Reset()
	b.pending = nil
	b.mu.Unlock()
	b.sched.Cancel()
}

// AppendChunk queues a delta and schedules at most one coalesced flush.
// Chunks arriving after the session ended are dropped; late network
// events for a finished stream are expected, not an error.
func (b *Buffer) AppendChunk(text string) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, text)
	b.mu.Unlock()
	b.sched.Schedule(b.flush)
}

// GetContent flushes pending chunks synchronously first; callers never
// observe a value that depends on frame timing.
func (b *Buffer) GetContent() string {
	b.mu.Lock()
	b.drainLocked()
	out := b.content.String()
	b.mu.Unlock()
	return out
}

// SetContent replaces the buffer wholesale and notifies immediately. Used
// to reconcile after a reconnect, where the server's full accumulated
// content is fetched instead of replaying chunks.
func (b *Buffer) SetContent(text string) {
	b.sched.Cancel()
	b.mu.Lock()
	b.pending = nil
	b.content.Reset()
	b.content.WriteString(text)
	listeners, content := b.snapshotLocked()
	b.mu.Unlock()
	notify(listeners, content)
}

// FinalizeSession flushes synchronously, notifies every listener with the
// complete final content exactly once, and deactivates the buffer.
func (b *Buffer) FinalizeSession() string {
	return b.endSession()
}

// CancelSession mirrors FinalizeSession; the buffer does not distinguish
// how the stream ended, only that it did.
func (b *Buffer) CancelSession() string {
	return b.endSession()
}

func (b *Buffer) endSession() string {
	b.sched.Cancel()
	b.mu.Lock()
	b.drainLocked()
	b.active = false
	listeners, content := b.snapshotLocked()
	b.mu.Unlock()
	notify(listeners, content)
	return content
}

// SubscribeToContent registers a listener and returns its unsubscribe.
func (b *Buffer) SubscribeToContent(l Listener) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.listeners[id] = l
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Active reports whether a session is in progress.
func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// flush is the scheduled coalesced notification.
func (b *Buffer) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.drainLocked()
	listeners, content := b.snapshotLocked()
	b.mu.Unlock()
	notify(listeners, content)
}

func (b *Buffer) drainLocked() {
	for _, chunk := range b.pending {
		b.content.WriteString(chunk)
	}
	b.pending = nil
}

func (b *Buffer) snapshotLocked() ([]Listener, string) {
	out := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, l)
	}
	return out, b.content.String()
}

func notify(listeners []Listener, content string) {
	for _, l := range listeners {
		l(content)
	}
}
