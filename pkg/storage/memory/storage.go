// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-jsign.
//
// go-jsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package memory provides an in-memory storage.Backend. It is used for
// ephemeral sessions (no configuration directory) and by tests.
package memory

import (
	"sync"

	"github.com/jeremyhahn/go-jsign/pkg/storage"
)

// Storage keeps values in a map. Values are copied on the way in and out.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	// PutHook, when set, runs before each Put and can veto it.
	PutHook func(key string, value []byte) error
}

// New creates an empty in-memory backend.
func New() *Storage {
	return &Storage{
		data: make(map[string][]byte),
	}
}

// NewWith creates a backend pre-populated with seed.
func NewWith(seed map[string][]byte) *Storage {
	s := New()
	for k, v := range seed {
		s.data[k] = clone(v)
	}
	return s
}

func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(value), nil
}

// Put replaces the value for key. A vetoed Put leaves the previous value.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	if s.PutHook != nil {
		if err := s.PutHook(key, value); err != nil {
			return err
		}
	}
	s.data[key] = clone(value)
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if _, ok := s.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// Close drops all values. Later calls return storage.ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
