// Package kv provides the byte stores behind the kv_read and kv_write nodes.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KVStore is safe for concurrent use. Get returns a copy the caller may
// modify.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type InMemoryKVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryKVStore() *InMemoryKVStore {
	return &InMemoryKVStore{data: make(map[string][]byte)}
}

func (s *InMemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(value), nil
}

func (s *InMemoryKVStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.data[key] = slices.Clone(value)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryKVStore) Close() error { return nil }

// FileBasedKVStore serves reads from memory and persists the whole table
// as a JSON object after every mutation. Values are base64 in the file.
type FileBasedKVStore struct {
	InMemoryKVStore
	path string
}

// NewFileBasedKVStore loads path if it exists; otherwise the file is
// created on the first write.
func NewFileBasedKVStore(path string) (*FileBasedKVStore, error) {
	s := &FileBasedKVStore{path: path}
	s.data = make(map[string][]byte)
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load kv file %s: %w", path, err)
	case len(raw) == 0:
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("load kv file %s: %w", path, err)
	}
	return s, nil
}

// Put and Delete leave the table unchanged when the file cannot be written.
func (s *FileBasedKVStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.data[key]
	s.data[key] = slices.Clone(value)
	if err := s.persistLocked(); err != nil {
		s.restoreLocked(key, previous, existed)
		return err
	}
	return nil
}

func (s *FileBasedKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	if err := s.persistLocked(); err != nil {
		s.restoreLocked(key, previous, true)
		return err
	}
	return nil
}

func (s *FileBasedKVStore) restoreLocked(key string, value []byte, existed bool) {
	if existed {
		s.data[key] = value
		return
	}
	delete(s.data, key)
}

// Close flushes the table once more.
func (s *FileBasedKVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked replaces the file through a rename so readers never see a
// partial write. Callers hold s.mu.
func (s *FileBasedKVStore) persistLocked() error {
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
