package event

import (
	"sync"
)

// Sink consumes progress records. Emit is called synchronously from the
// engine's dispatch loop; slow sinks slow the run.
type Sink interface {
	Emit(r Record)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(r Record)

// Emit implements Sink.
func (f SinkFunc) Emit(r Record) { f(r) }

// Bus fans records out to subscribed sinks. Subscriptions may filter by
// kind; an empty kind list receives everything.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	kinds map[Kind]bool // nil = all kinds
	sink  Sink
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a sink for the given kinds. An empty kinds slice
// subscribes to every record. The returned function unsubscribes.
func (b *Bus) Subscribe(sink Sink, kinds ...Kind) (unsubscribe func()) {
	var filter map[Kind]bool
	if len(kinds) > 0 {
		filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{kinds: filter, sink: sink}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit delivers the record to every matching sink.
func (b *Bus) Emit(r Record) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kinds == nil || sub.kinds[r.Kind] {
			sinks = append(sinks, sub.sink)
		}
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(r)
	}
}

// Collector is a sink that retains every record it sees, in order.
// Useful in tests and for post-run inspection.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit implements Sink.
func (c *Collector) Emit(r Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Records returns a copy of all collected records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// OfKind returns collected records of the given kind.
func (c *Collector) OfKind(kind Kind) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, r := range c.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of collected records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
