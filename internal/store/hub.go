package store

import (
	"context"
	"sync"
)

// Hub fans change notifications out to live subscriptions. Producers
// (local writes and the sync layer) call Notify after every applied change;
// each subscription re-queries its view of the database and re-emits.
//
// Notify never blocks: each subscriber holds a signal channel with a buffer
// of one, so rapid bursts coalesce into a single re-emission.
type Hub struct {
	mu   sync.RWMutex
	subs map[hubKey]map[chan struct{}]struct{}
}

type hubKey struct {
	ownerID    string
	collection string
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[hubKey]map[chan struct{}]struct{}),
	}
}

// Notify signals every subscriber of (ownerID, collection) that the
// underlying rows changed.
func (h *Hub) Notify(ownerID, collection string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[hubKey{ownerID, collection}] {
		select {
		case ch <- struct{}{}:
		default:
			// Signal already pending; the subscriber will re-query anyway.
		}
	}
}

// register adds a subscriber signal channel.
func (h *Hub) register(ownerID, collection string) chan struct{} {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	defer h.mu.Unlock()

	k := hubKey{ownerID, collection}
	if h.subs[k] == nil {
		h.subs[k] = make(map[chan struct{}]struct{})
	}
	h.subs[k][ch] = struct{}{}
	return ch
}

// unregister removes a subscriber signal channel.
func (h *Hub) unregister(ownerID, collection string, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := hubKey{ownerID, collection}
	delete(h.subs[k], ch)
	if len(h.subs[k]) == 0 {
		delete(h.subs, k)
	}
}

// Subscription is a live, restartable view of some slice of local storage.
// It emits the current value immediately on attach and re-emits after every
// change notification. It never completes on its own; call Cancel (or
// cancel the context it was created with) to detach.
type Subscription[V any] struct {
	ch     chan V
	cancel context.CancelFunc
	done   chan struct{}
}

// Updates returns the value channel. It is closed after Cancel.
func (s *Subscription[V]) Updates() <-chan V {
	return s.ch
}

// Cancel detaches the subscription and closes the value channel. Safe to
// call more than once.
func (s *Subscription[V]) Cancel() {
	s.cancel()
	<-s.done
}

// watch runs the subscription loop: load and emit the current value, then
// once per coalesced change signal until the context is cancelled.
//
// A slow consumer blocks only its own subscription goroutine, never the
// writer that called Notify.
func watch[V any](ctx context.Context, h *Hub, ownerID, collection string,
	load func(context.Context) (V, error)) (*Subscription[V], error) {

	// Validate the query once before spawning the loop so obviously broken
	// subscriptions fail at the call site.
	first, err := load(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[V]{
		ch:     make(chan V, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	signal := h.register(ownerID, collection)

	go func() {
		defer close(sub.done)
		defer close(sub.ch)
		defer h.unregister(ownerID, collection, signal)

		// Initial emission.
		select {
		case sub.ch <- first:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}

			v, err := load(ctx)
			if err != nil {
				// Local read failures end the subscription; the consumer
				// observes the closed channel and may re-attach.
				return
			}

			select {
			case sub.ch <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
