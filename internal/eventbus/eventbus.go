// Package eventbus implements the typed, in-process pub/sub used to connect
// watchers, the local store, and the upload queue to observers (the optional
// dashboard, the optional websocket diagnostic sink). It is a headless
// adaptation of the teacher's bubbletea-Cmd-based bridge.EventBus: the shape
// (mutex-guarded map of event-type to listener slice, snapshot-then-invoke
// Publish) is unchanged, but listeners are plain callbacks instead of
// tea.Cmd, since there is no TUI runtime driving delivery here.
package eventbus

import "sync"

// Type identifies a kind of event on the bus.
type Type string

const (
	SessionCreated   Type = "session-created"
	SessionUpdated   Type = "session-updated"
	SessionCompleted Type = "session-completed"
	SessionSynced    Type = "session-synced"
	SessionSyncFailed Type = "session-sync-failed"
	ProjectUpdated   Type = "project-updated"
	RescanProgress   Type = "rescan-progress"
)

// Event is a single published occurrence. Data carries enough information
// (usually just an id) for subscribers to re-query authoritative state
// rather than trust the event payload as a snapshot of truth.
type Event struct {
	Type Type
	Data any
}

// Listener receives published events. Delivery is at-least-once within the
// process and listeners must not block for long - Publish invokes them
// synchronously, outside the bus's lock.
type Listener func(Event)

// Bus is a typed, in-process pub/sub hub.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Type][]Listener
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{listeners: make(map[Type][]Listener)}
}

// Subscribe registers a listener for an event type. It returns an
// unsubscribe function.
func (b *Bus) Subscribe(t Type, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], l)
	idx := len(b.listeners[t]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[t]
		if idx < len(ls) {
			ls[idx] = nil
		}
	}
}

// Publish snapshots the listener slice for t under a read lock, then invokes
// each non-nil listener outside the lock so a listener can itself call
// Subscribe/Publish without deadlocking.
func (b *Bus) Publish(t Type, data any) {
	b.mu.RLock()
	ls := make([]Listener, len(b.listeners[t]))
	copy(ls, b.listeners[t])
	b.mu.RUnlock()

	ev := Event{Type: t, Data: data}
	for _, l := range ls {
		if l != nil {
			l(ev)
		}
	}
}

// Clear removes all listeners. Used by tests and by ResetSessionSyncProgress
// when a full re-subscribe is about to happen.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Type][]Listener)
}
