package query

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies the state change an Event describes.
type EventKind int

const (
	// EventLoading is emitted when a fetch marks its key as loading.
	EventLoading EventKind = iota
	// EventSuccess is emitted when a fetch stores a value.
	EventSuccess
	// EventError is emitted when a fetch stores its final error.
	EventError
	// EventInvalidated is emitted when a single key is removed.
	EventInvalidated
	// EventCleared is emitted when every key is removed.
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventLoading:
		return "loading"
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	case EventInvalidated:
		return "invalidated"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event describes one change to the cache.
type Event struct {
	Kind EventKind
	// Key is empty for EventCleared.
	Key string
	// Entry is the entry after the change. It is the zero Entry for removals.
	Entry Entry
}

// Listener receives cache events. Listeners are called synchronously, outside the
// cache lock, on the goroutine that made the change.
type Listener func(Event)

type listeners struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]Listener
}

func (l *listeners) add(fn Listener) func() {
	id := uuid.New()
	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[uuid.UUID]Listener)
	}
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.RLock()
	fns := make([]Listener, 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
