// Package kv defines the key-value persistence layer used to snapshot small
// pieces of client state (the local user's last known presence, config
// values) between runs.
package kv

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store. Implementations must tolerate
// concurrent use.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Memory is an in-process Store used in tests and as a fallback when no
// database is available.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}
