package kernel

import (
	"sync"

	"github.com/seantiz/kernelgate/internal/model"
)

// Broker routes events to the handlers subscribed to their cell id.
// It is safe for concurrent use.
//
// Handlers run synchronously on the publishing goroutine, in publish order,
// so a single publisher preserves the kernel's emission order. Events for a
// cell with no subscribers are dropped.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]Handler
	order  []int
	nextID int
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe registers h for cellID and returns an unsubscribe function.
// Calling the unsubscribe function more than once is harmless.
func (b *Broker) Subscribe(cellID string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[cellID]
	if !ok {
		t = &eventTopic{subs: make(map[int]Handler)}
		b.topics[cellID] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = h
	t.order = append(t.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(cellID, id) })
	}
}

func (b *Broker) unsubscribe(cellID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[cellID]
	if !ok {
		return
	}
	delete(t.subs, id)
	for i, sid := range t.order {
		if sid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if len(t.subs) == 0 {
		delete(b.topics, cellID)
	}
}

// Publish delivers ev to every handler subscribed to cellID, in
// subscription order. It reports whether anyone was subscribed.
func (b *Broker) Publish(cellID string, ev model.Event) bool {
	b.mu.Lock()
	t, ok := b.topics[cellID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	handlers := make([]Handler, 0, len(t.order))
	for _, id := range t.order {
		handlers = append(handlers, t.subs[id])
	}
	b.mu.Unlock()

	// Handlers may unsubscribe, so they run without the lock held.
	for _, h := range handlers {
		h(ev)
	}
	return true
}

// Subscribers reports how many handlers are registered for cellID.
func (b *Broker) Subscribers(cellID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[cellID]; ok {
		return len(t.subs)
	}
	return 0
}
