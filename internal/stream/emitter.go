package stream

import (
	"sync"
)

// Emitter receives events as agents produce them.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Sink writes one already-ordered event to the wire.
type Sink func(Event) error

// Buffered decouples event emission from the consumer's read rate. Events
// pass through a single channel so emission order is preserved; when the
// channel is full, droppable events are discarded and guaranteed events
// wait. A sink error stops delivery but Emit keeps accepting (and
// discarding) events so agents never block on a dead connection.
type Buffered struct {
	ch   chan Event
	quit chan struct{} // closed by Close
	dead chan struct{} // closed when the sink fails

	mu     sync.Mutex
	closed bool

	wg sync.WaitGroup
}

func NewBuffered(sink Sink, size int) *Buffered {
	if size <= 0 {
		size = 64
	}
	b := &Buffered{
		ch:   make(chan Event, size),
		quit: make(chan struct{}),
		dead: make(chan struct{}),
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev := <-b.ch:
				if err := sink(ev); err != nil {
					close(b.dead)
					return
				}
			case <-b.quit:
				// Flush whatever is already buffered, then stop.
				for {
					select {
					case ev := <-b.ch:
						if err := sink(ev); err != nil {
							close(b.dead)
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	return b
}

func (b *Buffered) Emit(ev Event) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	if ev.Droppable() {
		select {
		case b.ch <- ev:
		default:
			// Status updates are best effort under backpressure.
		}
		return
	}
	// Guaranteed events wait for room unless the stream is gone.
	select {
	case b.ch <- ev:
	case <-b.dead:
	case <-b.quit:
	}
}

// Close flushes buffered events and stops the writer goroutine.
func (b *Buffered) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.quit)
	b.mu.Unlock()
	b.wg.Wait()
}

// Collector records events for tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Collector) ByType(eventType string) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
