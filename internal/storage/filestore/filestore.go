// Package filestore keeps key-value entries in a single YAML document.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"forestfocus/internal/storage"
)

type entry struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type document struct {
	Entries []entry `yaml:"entries"`
}

// Store is a Backend persisted to a YAML file. Entries keep insertion order.
type Store struct {
	fs         afero.Fs
	path       string
	quotaBytes int
	mu         sync.Mutex

	// own holds the last change this Store wrote per key, so Watch can
	// tell its own saves from other writers.
	own map[string]storage.Change
}

// New returns a Store writing to path on fs. A positive quotaBytes limits
// the total bytes of keys plus values.
func New(fs afero.Fs, path string, quotaBytes int) *Store {
	return &Store{fs: fs, path: path, quotaBytes: quotaBytes, own: make(map[string]storage.Change)}
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	for _, e := range doc.Entries {
		if e.Key == key {
			return e.Value, true, nil
		}
	}
	return "", false, nil
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}

	used := len(key) + len(value)
	found := false
	for i, e := range doc.Entries {
		if e.Key == key {
			doc.Entries[i].Value = value
			found = true
			continue
		}
		used += len(e.Key) + len(e.Value)
	}
	if s.quotaBytes > 0 && used > s.quotaBytes {
		return storage.ErrQuotaExceeded
	}
	if !found {
		doc.Entries = append(doc.Entries, entry{Key: key, Value: value})
	}
	if err := s.save(doc); err != nil {
		return err
	}
	s.own[key] = storage.Change{Key: key, Value: value}
	return nil
}

func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	kept := doc.Entries[:0]
	for _, e := range doc.Entries {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(doc.Entries) {
		return nil
	}
	doc.Entries = kept
	if err := s.save(doc); err != nil {
		return err
	}
	s.own[key] = storage.Change{Key: key, Deleted: true}
	return nil
}

func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Watch reports writes made to the file by other processes. Changes that
// match this Store's own last write for a key are not reported. It needs the
// real filesystem; other afero filesystems return ErrWatchUnsupported.
func (s *Store) Watch(ctx context.Context, notify func(storage.Change)) error {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return storage.ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	// Watch the directory: atomic replacement swaps the file's inode.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	snapshot, _, err := s.changesSince(nil)
	if err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			next, changes, err := s.changesSince(snapshot)
			if err != nil {
				log.Printf("filestore watch: %v", err)
				continue
			}
			for _, change := range changes {
				notify(change)
			}
			snapshot = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("filestore watch error: %v", err)
		}
	}
}

// changesSince reads the file and diffs it against prev, dropping changes
// this Store made itself. Reading and filtering share the lock so a local
// Set cannot land in between.
func (s *Store) changesSince(prev map[string]string) (map[string]string, []storage.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	next := make(map[string]string, len(doc.Entries))
	for _, e := range doc.Entries {
		next[e.Key] = e.Value
	}
	if prev == nil {
		return next, nil, nil
	}
	var changes []storage.Change
	for _, change := range storage.Diff(prev, next) {
		if own, ok := s.own[change.Key]; ok {
			if own == change {
				continue
			}
			// Another writer took over the key.
			delete(s.own, change.Key)
		}
		changes = append(changes, change)
	}
	return next, changes, nil
}

func (s *Store) load() (document, error) {
	var doc document
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read store file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse store yaml: %w", err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	serialized, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal store yaml: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, serialized, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
