package airctrl

import (
	"sync"
)

// StateHandler receives every normalized state, in report order
type StateHandler func(State)

// eventBus fans states out to subscribers. Handlers run synchronously on the
// publishing goroutine so that every subscriber sees states in emission order.
type eventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]StateHandler
	order    []uint64
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[uint64]StateHandler)}
}

// subscribe registers h and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *eventBus) subscribe(h StateHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// publish delivers s to a snapshot of the current subscribers
func (b *eventBus) publish(s State) int {
	b.mu.RLock()
	hs := make([]StateHandler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(s)
	}
	return len(hs)
}

func (b *eventBus) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
