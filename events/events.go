// Package events routes pass lifecycle and progress events to
// caller-registered handlers, under one of two delivery policies fixed
// for the duration of a pass.
package events

import (
	"sync"

	"github.com/packthread/packthread/pack"
)

// ItemStarted fires before an item's content is first requested.
type ItemStarted struct {
	Entry *pack.Entry
}

// Progress fires per engine tick. Delta is the bytes processed since
// the previous tick; Completed/Total give the cumulative position.
type Progress struct {
	Delta     int64
	Completed int64
	Total     int64
}

// ItemFinished fires once an item's content has been fully delivered
// and its source or destination released. Skipped items fire it
// immediately, with zero bytes.
type ItemFinished struct {
	Entry *pack.Entry
	Bytes int64
}

// PassFinished fires exactly once per pass, from a guaranteed-cleanup
// block, whatever the outcome.
type PassFinished struct {
	Err       error
	Cancelled bool
}

// ItemStarting fires as extraction of an item is announced. Handlers
// may set Cancel (abort the whole pass) or Skip (omit this item).
// It is always delivered inline, whatever the dispatch policy:
// a control decision delivered late is no decision at all.
type ItemStarting struct {
	Entry  *pack.Entry
	Cancel bool
	Skip   bool
}

// DestinationExists fires before an existing destination path is
// overwritten during extraction.
type DestinationExists struct {
	Entry *pack.Entry
	Path  string
}

// Policy selects how handlers run relative to the engine's thread.
type Policy int

const (
	// Sync runs handlers inline, blocking the engine callback until
	// they return.
	Sync Policy = iota
	// Deferred queues events and delivers them from a separate pump
	// goroutine, FIFO, decoupling engine throughput from handler
	// latency.
	Deferred
)

// Handler receives events. Do not retain pointers past the call in
// Deferred mode.
type Handler func(ev interface{})

type subscription struct {
	id int64
	fn Handler
}

// A Dispatcher delivers events for one pass. The zero value is not
// usable; make one with NewDispatcher.
type Dispatcher struct {
	policy Policy

	mu     sync.Mutex
	subs   []subscription
	nextID int64

	queue   []interface{}
	cond    *sync.Cond
	pumping bool
	busy    bool
	closed  bool
}

func NewDispatcher(policy Policy) *Dispatcher {
	d := &Dispatcher{
		policy: policy,
	}
	d.cond = sync.NewCond(&d.mu)

	if policy == Deferred {
		d.pumping = true
		go d.pump()
	}
	return d
}

// Subscribe registers a handler and returns its cancel func. Pass
// drivers defer the cancel so subscriptions never outlive a pass.
func (d *Dispatcher) Subscribe(fn Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, sub := range d.subs {
			if sub.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				break
			}
		}
	}
}

func (d *Dispatcher) handlers() []Handler {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := make([]Handler, len(d.subs))
	for i, sub := range d.subs {
		res[i] = sub.fn
	}
	return res
}

func (d *Dispatcher) deliver(ev interface{}) {
	for _, fn := range d.handlers() {
		fn(ev)
	}
}

// Emit routes ev per the dispatcher's policy.
func (d *Dispatcher) Emit(ev interface{}) {
	if d.policy == Sync {
		d.deliver(ev)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Broadcast()
	d.mu.Unlock()
}

// EmitControl delivers ev inline regardless of policy, so handlers can
// mutate it before the pass moves on.
func (d *Dispatcher) EmitControl(ev interface{}) {
	d.deliver(ev)
}

func (d *Dispatcher) pump() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.pumping = false
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}

		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.busy = true
		d.mu.Unlock()

		d.deliver(ev)

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// Flush blocks until every queued event has been delivered. A no-op
// under Sync.
func (d *Dispatcher) Flush() {
	if d.policy == Sync {
		return
	}

	d.mu.Lock()
	for (len(d.queue) > 0 || d.busy) && d.pumping {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// Close drains the queue and stops the pump. Emit after Close drops
// events silently.
func (d *Dispatcher) Close() {
	if d.policy == Sync {
		return
	}

	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	for d.pumping {
		d.cond.Wait()
	}
	d.mu.Unlock()
}
