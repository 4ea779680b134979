package common

import "sync"

// Window holds the last n samples added. Safe for concurrent use.
type Window[T any] struct {
	mu      sync.Mutex
	samples []T
	next    int
	full    bool
}

func NewWindow[T any](n int) *Window[T] {
	if n < 1 {
		n = 1
	}
	return &Window[T]{samples: make([]T, n)}
}

// Add records v, dropping the oldest sample once the window is full.
func (w *Window[T]) Add(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Values returns a copy of the samples, oldest first.
func (w *Window[T]) Values() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		return append([]T(nil), w.samples[:w.next]...)
	}
	out := make([]T, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	return append(out, w.samples[:w.next]...)
}

func (w *Window[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Last returns the newest sample and false when the window is empty.
func (w *Window[T]) Last() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero T
	if !w.full && w.next == 0 {
		return zero, false
	}
	i := w.next - 1
	if i < 0 {
		i = len(w.samples) - 1
	}
	return w.samples[i], true
}

func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.samples)
	w.next, w.full = 0, false
}
