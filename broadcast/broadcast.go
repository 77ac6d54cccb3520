// Package broadcast delivers change notifications between database
// handles that share a store.
//
// Delivery is best effort: publishing never blocks, and a subscriber whose
// buffer is full misses the event. Receivers treat an event as a hint that
// their cached view of a collection is stale.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when publishing on a closed broadcaster.
var ErrClosed = errors.New("broadcast: closed")

// Type names a change.
type Type string

// Change types.
const (
	DocumentAdded     Type = "documentAdded"
	DocumentUpdated   Type = "documentUpdated"
	DocumentDeleted   Type = "documentDeleted"
	CollectionCleared Type = "collectionCleared"
)

// Event is a change notification.
type Event struct {
	Type         Type   `json:"type"`
	CollectionID string `json:"collectionId"`
	DocumentID   string `json:"documentId,omitempty"`

	// Origin identifies the publishing handle so it can ignore its own
	// events.
	Origin string `json:"origin,omitempty"`
}

// Broadcaster publishes events and fans them out to subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, e Event) error

	// Subscribe returns a channel of events for collectionID, or for every
	// collection when collectionID is empty. The returned function cancels
	// the subscription and closes the channel.
	Subscribe(collectionID string) (<-chan Event, func())

	Close() error
}

// Options configures a broadcaster.
type Options struct {
	// Buffer is the channel capacity of each subscriber.
	Buffer int
}

// DefaultOptions are the default broadcaster options.
var DefaultOptions = Options{Buffer: 64}

// Compile time check to ensure Local satisfies the Broadcaster interface.
var _ Broadcaster = (*Local)(nil)

type subscriber struct {
	collection string
	ch         chan Event
}

// Local is an in-process hub.
type Local struct {
	opts Options

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Uint64
}

// NewLocal returns an empty hub.
func NewLocal(optFns ...func(o *Options)) *Local {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Buffer <= 0 {
		opts.Buffer = DefaultOptions.Buffer
	}

	return &Local{opts: opts, subs: make(map[*subscriber]struct{})}
}

// Publish delivers e to every matching subscriber without blocking.
func (l *Local) Publish(_ context.Context, e Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrClosed
	}

	for s := range l.subs {
		if s.collection != "" && s.collection != e.CollectionID {
			continue
		}

		select {
		case s.ch <- e:
		default:
			l.dropped.Add(1)
		}
	}

	return nil
}

// Subscribe registers a subscriber.
func (l *Local) Subscribe(collectionID string) (<-chan Event, func()) {
	s := &subscriber{collection: collectionID, ch: make(chan Event, l.opts.Buffer)}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		close(s.ch)
		return s.ch, func() {}
	}

	l.subs[s] = struct{}{}

	var once sync.Once

	return s.ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()

			if _, ok := l.subs[s]; ok {
				delete(l.subs, s)
				close(s.ch)
			}
		})
	}
}

// Dropped returns the number of events lost to full buffers.
func (l *Local) Dropped() uint64 { return l.dropped.Load() }

// Close closes every subscriber channel.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	for s := range l.subs {
		delete(l.subs, s)
		close(s.ch)
	}

	return nil
}
