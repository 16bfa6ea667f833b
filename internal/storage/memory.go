package storage

import (
	"context"
	"sync"

	"kvserver/internal/wire"
)

const shardCount = 64

// Memory is an in-process Backend. Tables are sharded by an FNV hash of
// their name so concurrent writers to different tables usually lock
// different mutexes; tables whose names hash to the same shard share one.
type Memory struct {
	shards [shardCount]*tableShard
}

type tableShard struct {
	mu     sync.RWMutex
	tables map[string]map[string]wire.Value
}

// NewMemory constructs an empty in-memory Backend.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &tableShard{tables: make(map[string]map[string]wire.Value)}
	}
	return m
}

func (m *Memory) shardFor(table string) *tableShard {
	return m.shards[fnv32(table)%shardCount]
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func (m *Memory) Get(_ context.Context, table, key string) (wire.Value, error) {
	s := m.shardFor(table)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return wire.NoneValue(), ErrNotFound
	}
	v, ok := t[key]
	if !ok {
		return wire.NoneValue(), ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, table, key string, value wire.Value) (wire.Value, error) {
	s := m.shardFor(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]wire.Value)
		s.tables[table] = t
	}
	prior, ok := t[key]
	if !ok {
		prior = wire.NoneValue()
	}
	t[key] = value
	return prior, nil
}

func (m *Memory) Contains(_ context.Context, table, key string) (bool, error) {
	s := m.shardFor(table)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return false, nil
	}
	_, ok = t[key]
	return ok, nil
}

func (m *Memory) Del(_ context.Context, table, key string) (wire.Value, error) {
	s := m.shardFor(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return wire.NoneValue(), nil
	}
	prior, existed := t[key]
	if !existed {
		return wire.NoneValue(), nil
	}
	delete(t, key)
	return prior, nil
}

func (m *Memory) Iter(_ context.Context, table string) ([]Entry, error) {
	s := m.shardFor(table)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, nil
	}
	out := make([]Entry, 0, len(t))
	for k, v := range t {
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
