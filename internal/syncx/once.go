package syncx

import "sync"

// Once is a single-assignment cell. The first Set wins; later calls are no-ops.
type Once[T any] struct {
	mu    sync.Mutex
	set   bool
	value T
	done  chan struct{}
	mk    sync.Once
}

func (o *Once[T]) ch() chan struct{} {
	o.mk.Do(func() { o.done = make(chan struct{}) })
	return o.done
}

// Set stores v if the cell is empty and reports whether it did.
func (o *Once[T]) Set(v T) bool {
	ch := o.ch()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set {
		return false
	}
	o.set = true
	o.value = v
	close(ch)
	return true
}

// Done is closed once a value has been set.
func (o *Once[T]) Done() <-chan struct{} { return o.ch() }

// Value returns the stored value and whether one was set.
func (o *Once[T]) Value() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.set
}
