package bridge

import (
	"context"
	"sync"
)

// Call is the pending result of an asynchronous bridge operation. It settles
// at most once, either resolved with a value or rejected with an error.
type Call[T any] struct {
	once      sync.Once
	done      chan struct{}
	val       T
	err       error
	abandon   sync.Once
	abandoned chan struct{}
}

// NewCall returns an unsettled call.
func NewCall[T any]() *Call[T] {
	return &Call[T]{done: make(chan struct{}), abandoned: make(chan struct{})}
}

// Resolved returns a call already resolved with v.
func Resolved[T any](v T) *Call[T] {
	c := NewCall[T]()
	c.Resolve(v)
	return c
}

// Rejected returns a call already rejected with err.
func Rejected[T any](err error) *Call[T] {
	c := NewCall[T]()
	c.Reject(err)
	return c
}

// Resolve settles the call with v. It reports false if the call was
// already settled.
func (c *Call[T]) Resolve(v T) bool {
	settled := false
	c.once.Do(func() {
		c.val = v
		close(c.done)
		settled = true
	})
	return settled
}

// Reject settles the call with err. It reports false if the call was
// already settled.
func (c *Call[T]) Reject(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

// Done is closed once the call settles.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Abandon marks a call that will never settle. It does not settle the call;
// Await keeps blocking until its context is done.
func (c *Call[T]) Abandon() {
	c.abandon.Do(func() { close(c.abandoned) })
}

// Abandoned is closed once the producer has given up on the call.
func (c *Call[T]) Abandoned() <-chan struct{} { return c.abandoned }

// Settled reports whether the call has settled.
func (c *Call[T]) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Await blocks until the call settles or ctx is done.
func (c *Call[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
