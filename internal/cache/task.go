package cache

import (
	"context"
	"sync"
)

// Task is a shared, memoizing handle to the eventual result of a cached
// computation. Any number of holders may await it; the value and error are
// immutable once Done is closed.
type Task[V any] struct {
	done  chan struct{}
	once  sync.Once
	value V
	err   error
}

func newTask[V any]() *Task[V] {
	return &Task[V]{done: make(chan struct{})}
}

// ReadyTask returns a task already resolved with v.
func ReadyTask[V any](v V) *Task[V] {
	t := newTask[V]()
	t.complete(v, nil)
	return t
}

// FailedTask returns a task already resolved with err.
func FailedTask[V any](err error) *Task[V] {
	t := newTask[V]()
	var zero V
	t.complete(zero, err)
	return t
}

func (t *Task[V]) complete(v V, err error) {
	t.once.Do(func() {
		t.value, t.err = v, err
		close(t.done)
	})
}

// Done is closed once the task has a result.
func (t *Task[V]) Done() <-chan struct{} {
	return t.done
}

// Await blocks until the task resolves or ctx is done. Cancelling ctx only
// abandons the wait; the computation keeps running for other holders.
func (t *Task[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-t.done:
		return t.value, t.err
	default:
	}
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the outcome without blocking. done is false while the task
// is still running.
func (t *Task[V]) Peek() (value V, done bool, err error) {
	select {
	case <-t.done:
		return t.value, true, t.err
	default:
		var zero V
		return zero, false, nil
	}
}

// erasedTask is the view of a Task stored in untyped cache records.
type erasedTask interface {
	Done() <-chan struct{}
	resultAny() (any, error)
}

func (t *Task[V]) resultAny() (any, error) {
	return t.value, t.err
}
