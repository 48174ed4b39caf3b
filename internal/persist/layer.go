// Package persist wraps a fallible storage.Backend so callers always get a
// usable value. Failures are recovered locally and surfaced as a
// *storage.StorageError next to the value, never returned as a hard error.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"forestfocus/internal/storage"
)

const (
	DefaultNamespace        = "forestfocus-"
	DefaultRecoveryInterval = 30 * time.Second
	DefaultCleanupLimit     = 3

	probeKey = "__storage_test__"
)

// Options configures a Layer.
type Options struct {
	// Namespace prefixes every record key. Quota cleanup only evicts keys
	// carrying this prefix.
	Namespace        string
	RecoveryInterval time.Duration
	CleanupLimit     int
}

// Layer mediates all records stored in one backend. The in-memory substitute
// is private to the Layer and keyed by the full storage key.
type Layer struct {
	backend storage.Backend
	opts    Options

	probeOnce sync.Once

	mu        sync.Mutex
	available bool
	records   map[string][]listener

	memMu  sync.Mutex
	memory map[string]any
}

type listener interface {
	applyExternal(change storage.Change)
	clearError()
	hasError() bool
}

func NewLayer(backend storage.Backend, opts Options) *Layer {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = DefaultRecoveryInterval
	}
	if opts.CleanupLimit <= 0 {
		opts.CleanupLimit = DefaultCleanupLimit
	}
	return &Layer{
		backend: backend,
		opts:    opts,
		records: make(map[string][]listener),
		memory:  make(map[string]any),
	}
}

// Key returns the full storage key for a record name.
func (l *Layer) Key(name string) string {
	return l.opts.Namespace + name
}

// Available reports whether the durable backend accepts writes. The first
// call probes the backend; later calls return the cached answer until
// Recover succeeds.
func (l *Layer) Available() bool {
	l.probeOnce.Do(func() {
		err := l.probe()
		if err != nil {
			log.Printf("persist: storage is not available, using in-memory fallback: %v", err)
		}
		l.mu.Lock()
		l.available = err == nil
		l.mu.Unlock()
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Degraded reports whether the backend is unavailable or any record holds an error.
func (l *Layer) Degraded() bool {
	if !l.Available() {
		return true
	}
	for _, r := range l.listeners() {
		if r.hasError() {
			return true
		}
	}
	return false
}

// Recover re-probes a degraded backend. On success the backend is marked
// available and every record's error is cleared so later writes go to
// durable storage again.
func (l *Layer) Recover() bool {
	if !l.Degraded() {
		return false
	}
	if err := l.probe(); err != nil {
		log.Printf("persist: storage still not available: %v", err)
		return false
	}
	l.mu.Lock()
	l.available = true
	l.mu.Unlock()
	for _, r := range l.listeners() {
		r.clearError()
	}
	log.Println("persist: storage recovery successful")
	return true
}

// RunRecovery calls Recover every RecoveryInterval until ctx is done.
func (l *Layer) RunRecovery(ctx context.Context) {
	ticker := time.NewTicker(l.opts.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Recover()
		}
	}
}

// Watch forwards external backend changes to the records registered for
// the changed keys. It blocks until ctx is done.
func (l *Layer) Watch(ctx context.Context) error {
	watcher, ok := l.backend.(storage.Watcher)
	if !ok {
		return storage.ErrWatchUnsupported
	}
	if !l.Available() {
		return storage.ErrUnavailable
	}
	return watcher.Watch(ctx, l.dispatch)
}

func (l *Layer) dispatch(change storage.Change) {
	l.mu.Lock()
	targets := append([]listener(nil), l.records[change.Key]...)
	l.mu.Unlock()
	for _, r := range targets {
		r.applyExternal(change)
	}
}

func (l *Layer) register(key string, r listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = append(l.records[key], r)
}

func (l *Layer) unregister(key string, r listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.records[key]
	for i, candidate := range current {
		if candidate == r {
			l.records[key] = append(current[:i], current[i+1:]...)
			break
		}
	}
	if len(l.records[key]) == 0 {
		delete(l.records, key)
	}
}

func (l *Layer) listeners() []listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []listener
	for _, rs := range l.records {
		all = append(all, rs...)
	}
	return all
}

func (l *Layer) probe() error {
	if err := l.backend.Set(probeKey, "test"); err != nil {
		return err
	}
	return l.backend.Remove(probeKey)
}

// probeQuota checks that value fits by writing it under a scratch key.
func (l *Layer) probeQuota(key, value string) error {
	testKey := "__quota_test_" + key + "__"
	if err := l.backend.Set(testKey, value); err != nil {
		return err
	}
	if err := l.backend.Remove(testKey); err != nil {
		log.Printf("persist: failed to remove quota probe %q: %v", testKey, err)
	}
	return nil
}

// cleanup evicts up to CleanupLimit other namespaced entries, oldest first.
func (l *Layer) cleanup(keep string) {
	keys, err := l.backend.Keys()
	if err != nil {
		log.Printf("persist: cannot list keys for cleanup: %v", err)
		return
	}
	removed := 0
	for _, key := range keys {
		if removed >= l.opts.CleanupLimit {
			break
		}
		if key == keep || !strings.HasPrefix(key, l.opts.Namespace) {
			continue
		}
		if err := l.backend.Remove(key); err != nil {
			log.Printf("persist: failed to evict %q: %v", key, err)
			continue
		}
		log.Printf("persist: evicted %q to free space", key)
		removed++
	}
}

func (l *Layer) memGet(key string) (any, bool) {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	value, ok := l.memory[key]
	return value, ok
}

func (l *Layer) memSet(key string, value any) {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	l.memory[key] = value
}

func (l *Layer) memDelete(key string) {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	delete(l.memory, key)
}

// Read returns the value stored under key, or fallback. It never panics:
// unreadable or corrupt data yields fallback plus a StorageError. A value
// held in memory after a failed write is newer than the durable copy and
// wins.
func Read[T any](l *Layer, key string, fallback T) (T, *storage.StorageError) {
	if value, ok := l.memGet(key); ok {
		if typed, ok := value.(T); ok {
			return typed, nil
		}
	}
	if !l.Available() {
		return fallback, nil
	}
	raw, ok, err := l.backend.Get(key)
	if err != nil {
		storageErr := storage.NewError(storage.KindAccessDenied, fmt.Sprintf("error reading key %q", key), err)
		log.Printf("persist: %v", storageErr)
		return fallback, storageErr
	}
	if !ok {
		return fallback, nil
	}
	return decode(key, raw, fallback)
}

// Write stores value under key. The value is kept in memory whenever it
// cannot be made durable.
func Write[T any](l *Layer, key string, value T) *storage.StorageError {
	if !l.Available() {
		l.memSet(key, value)
		return storage.NewError(storage.KindUnavailable, "storage unavailable, value kept in memory only", storage.ErrUnavailable)
	}

	serialized, err := json.Marshal(value)
	if err != nil {
		storageErr := storage.NewError(storage.KindUnknown, "failed to serialize data for storage", err)
		log.Printf("persist: %v", storageErr)
		l.memSet(key, value)
		return storageErr
	}

	if err := l.probeQuota(key, string(serialized)); err != nil {
		storageErr := storage.NewError(storage.KindQuotaExceeded, "storage quota exceeded, consider clearing old data", err)
		log.Printf("persist: %v", storageErr)
		l.cleanup(key)
		if err := l.backend.Set(key, string(serialized)); err != nil {
			log.Printf("persist: failed to save %q even after cleanup: %v", key, err)
			l.memSet(key, value)
		} else {
			log.Printf("persist: saved %q after cleanup", key)
			l.memDelete(key)
		}
		return storageErr
	}

	if err := l.backend.Set(key, string(serialized)); err != nil {
		kind := storage.KindAccessDenied
		if errors.Is(err, storage.ErrQuotaExceeded) {
			kind = storage.KindQuotaExceeded
		}
		storageErr := storage.NewError(kind, fmt.Sprintf("error setting key %q", key), err)
		log.Printf("persist: %v", storageErr)
		l.memSet(key, value)
		return storageErr
	}
	l.memDelete(key)
	return nil
}

// Remove deletes key from durable storage and from the in-memory substitute.
func Remove(l *Layer, key string) *storage.StorageError {
	l.memDelete(key)
	if !l.Available() {
		return nil
	}
	if err := l.backend.Remove(key); err != nil {
		storageErr := storage.NewError(storage.KindAccessDenied, fmt.Sprintf("error removing key %q", key), err)
		log.Printf("persist: %v", storageErr)
		return storageErr
	}
	return nil
}

func decode[T any](key, raw string, fallback T) (T, *storage.StorageError) {
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		storageErr := storage.NewError(storage.KindParseError,
			fmt.Sprintf("failed to parse stored data for %q, using fallback value", key), err)
		log.Printf("persist: %v", storageErr)
		return fallback, storageErr
	}
	return value, nil
}
