package persist

import (
	"sync"

	"forestfocus/internal/storage"
)

// Record is one persisted value of type T with an always-valid in-memory
// mirror. It is the only surface consumers need: Value, SetValue,
// RemoveValue, Err and StorageAvailable.
type Record[T any] struct {
	layer    *Layer
	key      string
	fallback T

	mu          sync.Mutex
	value       T
	lastErr     *storage.StorageError
	subscribers []chan T
	closed      bool
}

// NewRecord loads the record called name from layer, falling back to
// fallback when it is absent or unreadable.
func NewRecord[T any](layer *Layer, name string, fallback T) *Record[T] {
	r := &Record[T]{
		layer:    layer,
		key:      layer.Key(name),
		fallback: fallback,
	}
	r.value, r.lastErr = Read(layer, r.key, fallback)
	layer.register(r.key, r)
	return r
}

// Key returns the full storage key.
func (r *Record[T]) Key() string {
	return r.key
}

func (r *Record[T]) Value() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// SetValue updates the mirror first, then tries to persist it.
func (r *Record[T]) SetValue(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
	r.lastErr = Write(r.layer, r.key, value)
	r.publishLocked()
}

// Update applies fn to the current value and stores the result.
func (r *Record[T]) Update(fn func(T) T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = fn(r.value)
	r.lastErr = Write(r.layer, r.key, r.value)
	r.publishLocked()
	return r.value
}

// RemoveValue deletes the stored value and resets the mirror to the fallback.
func (r *Record[T]) RemoveValue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = r.fallback
	r.lastErr = Remove(r.layer, r.key)
	r.publishLocked()
}

// Read reloads the value from storage.
func (r *Record[T]) Read() T {
	value, storageErr := Read(r.layer, r.key, r.fallback)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
	if storageErr != nil {
		r.lastErr = storageErr
	}
	r.publishLocked()
	return value
}

// Err returns the last storage failure, or nil.
func (r *Record[T]) Err() *storage.StorageError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Record[T]) StorageAvailable() bool {
	return r.layer.Available()
}

// Subscribe returns a channel receiving every new value. Values are dropped
// when the buffer is full.
func (r *Record[T]) Subscribe(buffer int) <-chan T {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Close detaches the record from change notifications and closes subscribers.
func (r *Record[T]) Close() {
	r.layer.unregister(r.key, r)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}

func (r *Record[T]) applyExternal(change storage.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if change.Deleted {
		r.value = r.fallback
	} else {
		value, storageErr := decode(r.key, change.Value, r.fallback)
		r.value = value
		if storageErr != nil {
			r.lastErr = storageErr
		}
	}
	r.publishLocked()
}

func (r *Record[T]) clearError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = nil
}

func (r *Record[T]) hasError() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr != nil
}

func (r *Record[T]) publishLocked() {
	for _, ch := range r.subscribers {
		select {
		case ch <- r.value:
		default:
		}
	}
}
