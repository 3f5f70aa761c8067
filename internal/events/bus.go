// Package events provides the in-process pub/sub router for the trading
// core. Events are dispatched by ascending priority with FIFO ordering
// between equal priorities, on a single dispatch goroutine so handlers for
// one kind never run concurrently with each other.
package events

import (
	"container/heap"
	"log"
	"sync"
	"sync/atomic"
)

// Handler consumes a single event. Handlers run on the dispatch goroutine
// and must not block for long; a panicking handler is logged and does not
// stop dispatch for the remaining subscribers.
type Handler func(Event)

type queuedEvent struct {
	Event
	seq uint64
}

// eventHeap orders by (priority, seq): lower priority value first, then
// publish order.
type eventHeap []queuedEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(queuedEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Bus routes published events to subscribed handlers.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    eventHeap
	handlers map[Kind][]Handler
	running  bool
	stopped  chan struct{}
	seq      uint64

	dispatched uint64
	errors     uint64
}

// NewBus creates an event bus. Call Start before publishing is expected to
// be delivered; Publish before Start only enqueues.
func NewBus() *Bus {
	b := &Bus{handlers: make(map[Kind][]Handler)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers a handler for a kind. Multiple handlers per kind are
// invoked in registration order.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues an event for asynchronous dispatch. Safe to call from any
// goroutine, including from inside a handler.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.seq++
	heap.Push(&b.queue, queuedEvent{Event: e, seq: b.seq})
	b.mu.Unlock()
	b.cond.Signal()
}

// Start launches the dispatch loop. Calling Start on a running bus is a
// logged no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		log.Println("events: bus already running")
		return
	}
	b.running = true
	b.stopped = make(chan struct{})
	b.mu.Unlock()

	go b.dispatchLoop()
}

// Stop drains nothing: it halts dispatch after the in-flight event and
// returns once the loop has exited. Queued events survive for a later Start.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopped := b.stopped
	b.mu.Unlock()
	b.cond.Broadcast()
	<-stopped
}

func (b *Bus) dispatchLoop() {
	for {
		b.mu.Lock()
		for b.running && b.queue.Len() == 0 {
			b.cond.Wait()
		}
		if !b.running {
			close(b.stopped)
			b.mu.Unlock()
			return
		}
		qe := heap.Pop(&b.queue).(queuedEvent)
		handlers := b.handlers[qe.Kind]
		b.mu.Unlock()

		for _, h := range handlers {
			b.invoke(h, qe.Event)
		}
		atomic.AddUint64(&b.dispatched, 1)
	}
}

// invoke runs one handler with panic isolation so a failing subscriber
// cannot halt dispatch for the others.
func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.errors, 1)
			log.Printf("events: handler panic for %s: %v", e.Kind, r)
		}
	}()
	h(e)
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Running    bool   `json:"running"`
	QueueDepth int    `json:"queue_depth"`
	Dispatched uint64 `json:"dispatched"`
	Errors     uint64 `json:"errors"`
}

// GetStats returns current counters.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	running := b.running
	depth := b.queue.Len()
	b.mu.Unlock()
	return Stats{
		Running:    running,
		QueueDepth: depth,
		Dispatched: atomic.LoadUint64(&b.dispatched),
		Errors:     atomic.LoadUint64(&b.errors),
	}
}
