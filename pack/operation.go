package pack

import (
	"context"
	"sync"
)

// An Operation tracks one background pass. The underlying engine call
// is synchronous and cannot be interrupted: cancelling the context
// passed to Wait only abandons the wait and keeps the completion
// callback from firing.
type Operation struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	err       error
	onDone    func(error)
	abandoned bool
}

// NewOperation makes an Operation. onDone may be nil; when set it runs
// once, on the goroutine that finishes the pass, unless the operation
// was abandoned first.
func NewOperation(onDone func(error)) *Operation {
	return &Operation{
		done:   make(chan struct{}),
		onDone: onDone,
	}
}

// Finish records the pass outcome and signals completion. Safe to call
// once per pass; later calls are ignored.
func (o *Operation) Finish(err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.err = err
		onDone := o.onDone
		if o.abandoned {
			onDone = nil
		}
		o.mu.Unlock()

		if onDone != nil {
			onDone(err)
		}
		close(o.done)
	})
}

// Abandon gives up interest in the operation: the in-flight engine
// call keeps running, but the completion callback won't fire.
func (o *Operation) Abandon() {
	o.mu.Lock()
	o.abandoned = true
	o.mu.Unlock()
}

// Done is closed when the pass has finished, success or not.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Err returns the pass outcome. Only meaningful after Done is closed.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait blocks until the pass finishes or ctx is cancelled. On
// cancellation the operation is abandoned and ctx.Err() is returned.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		o.Abandon()
		return ctx.Err()
	}
}
