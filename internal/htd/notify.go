package htd

import (
	"fmt"
	"sync"
)

// Subscription is an opaque handle returned by Subscribe.
type Subscription uint64

// Notifier fans zone state changes out to subscribers.
//
// Notify may be called from the read pipeline and from the link state
// path (stale marking on an outage); deliverMu serializes whole
// fan-outs so notifications for the same zone stay strictly ordered.
// No ordering is guaranteed across subscribers.
//
// Subscribe and Unsubscribe are safe at any time, including from within a
// notification callback: mutations during a fan-out are deferred until
// the fan-out completes.
type Notifier struct {
	// deliverMu is held for the full duration of a fan-out. mu guards
	// the subscriber bookkeeping and is never held across a callback.
	deliverMu sync.Mutex

	mu        sync.Mutex
	subs      map[Subscription]func(Zone)
	order     []Subscription
	next      Subscription
	notifying bool

	pendingAdd    map[Subscription]func(Zone)
	pendingRemove []Subscription

	logger   Logger
	loggerMu sync.RWMutex
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs:       make(map[Subscription]func(Zone)),
		pendingAdd: make(map[Subscription]func(Zone)),
	}
}

// SetLogger sets the logger used to report callback panics.
func (n *Notifier) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	n.logger = logger
	n.loggerMu.Unlock()
}

// Subscribe registers a callback for zone state changes.
// If called during a fan-out, the callback takes effect afterwards.
func (n *Notifier) Subscribe(fn func(Zone)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	handle := n.next

	if n.notifying {
		n.pendingAdd[handle] = fn
	} else {
		n.subs[handle] = fn
		n.order = append(n.order, handle)
	}
	return handle
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
// If called during a fan-out, removal takes effect afterwards.
func (n *Notifier) Unsubscribe(handle Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.notifying {
		delete(n.pendingAdd, handle)
		n.pendingRemove = append(n.pendingRemove, handle)
		return
	}
	n.remove(handle)
}

func (n *Notifier) remove(handle Subscription) {
	if _, ok := n.subs[handle]; !ok {
		return
	}
	delete(n.subs, handle)
	for i, h := range n.order {
		if h == handle {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Notify delivers a zone snapshot to every current subscriber. Panics in
// callbacks are recovered and logged; one misbehaving subscriber never
// breaks delivery to the rest. Concurrent callers are serialized, so
// two fan-outs never interleave.
func (n *Notifier) Notify(z Zone) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	n.mu.Lock()
	n.notifying = true
	handles := make([]Subscription, len(n.order))
	copy(handles, n.order)
	n.mu.Unlock()

	for _, h := range handles {
		n.mu.Lock()
		fn := n.subs[h]
		n.mu.Unlock()
		if fn == nil {
			continue
		}
		n.invoke(fn, z)
	}

	n.mu.Lock()
	n.notifying = false
	for _, h := range n.pendingRemove {
		n.remove(h)
	}
	n.pendingRemove = n.pendingRemove[:0]
	for h, fn := range n.pendingAdd {
		n.subs[h] = fn
		n.order = append(n.order, h)
		delete(n.pendingAdd, h)
	}
	n.mu.Unlock()
}

func (n *Notifier) invoke(fn func(Zone), z Zone) {
	defer func() {
		if r := recover(); r != nil {
			n.loggerMu.RLock()
			logger := n.logger
			n.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("subscriber callback panic", "error", fmt.Sprintf("%v", r))
			}
		}
	}()
	fn(z)
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
