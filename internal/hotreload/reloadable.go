// Package hotreload keeps a policy current while its file changes on disk.
package hotreload

import (
	"sync"
	"sync/atomic"
)

// Reloadable holds a value that can be replaced atomically.
type Reloadable[T any] struct {
	value   atomic.Pointer[T]
	mu      sync.Mutex
	version atomic.Int64
}

// NewReloadable creates a new reloadable value.
func NewReloadable[T any](initial *T) *Reloadable[T] {
	r := &Reloadable[T]{}
	if initial != nil {
		r.value.Store(initial)
	}
	return r
}

// Get returns the current value.
func (r *Reloadable[T]) Get() *T {
	return r.value.Load()
}

// Swap atomically swaps the value and returns the old one.
func (r *Reloadable[T]) Swap(next *T) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.value.Swap(next)
	r.version.Add(1)
	return old
}

// Version returns the number of swaps so far.
func (r *Reloadable[T]) Version() int64 {
	return r.version.Load()
}

// PolicyLoader loads a policy file and makes it active. On error the
// previously active policy stays in effect.
type PolicyLoader interface {
	LoadFromPath(path string) error
}

// LoaderFunc loads a policy value from path.
type LoaderFunc[T any] func(path string) (*T, error)

// SwapLoader is a PolicyLoader storing successful loads in a Reloadable.
type SwapLoader[T any] struct {
	load   LoaderFunc[T]
	target *Reloadable[T]
}

// NewSwapLoader returns a loader that swaps target on every successful load.
func NewSwapLoader[T any](load LoaderFunc[T], target *Reloadable[T]) *SwapLoader[T] {
	return &SwapLoader[T]{load: load, target: target}
}

// LoadFromPath implements PolicyLoader.
func (l *SwapLoader[T]) LoadFromPath(path string) error {
	v, err := l.load(path)
	if err != nil {
		return err
	}
	l.target.Swap(v)
	return nil
}
