package storage

import (
	"context"
	"testing"

	"kvserver/internal/wire"
)

func TestMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "users", "ada"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}

	prior, err := m.Set(ctx, "users", "ada", wire.StringValue("lovelace"))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if prior.Kind != wire.KindNone {
		t.Fatalf("first set must report a None prior, got %+v", prior)
	}

	prior, err = m.Set(ctx, "users", "ada", wire.StringValue("byron"))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if prior.Str != "lovelace" {
		t.Fatalf("second set must report the prior value, got %+v", prior)
	}

	v, err := m.Get(ctx, "users", "ada")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Str != "byron" {
		t.Fatalf("got %q want byron", v.Str)
	}

	ok, err := m.Contains(ctx, "users", "ada")
	if err != nil || !ok {
		t.Fatalf("expected contains true, got %v %v", ok, err)
	}

	prior, err = m.Del(ctx, "users", "ada")
	if err != nil || prior.Str != "byron" {
		t.Fatalf("expected del to return prior value, got %+v %v", prior, err)
	}

	prior, err = m.Del(ctx, "users", "ada")
	if err != nil || prior.Kind != wire.KindNone {
		t.Fatalf("expected second del to return None, got %+v %v", prior, err)
	}
}

func TestMemoryIterSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if entries, err := m.Iter(ctx, "missing"); err != nil || entries != nil {
		t.Fatalf("expected nil, nil for missing table, got %v %v", entries, err)
	}

	_, _ = m.Set(ctx, "users", "a", wire.IntValue(1))
	_, _ = m.Set(ctx, "users", "b", wire.IntValue(2))

	entries, err := m.Iter(ctx, "users")
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Mutating after the snapshot must not change what was returned.
	_, _ = m.Set(ctx, "users", "c", wire.IntValue(3))
	if len(entries) != 2 {
		t.Fatalf("snapshot changed after mutation")
	}
}

func TestMemoryLazyTableCreation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if ok, _ := m.Contains(ctx, "never-written", "x"); ok {
		t.Fatalf("expected false for never-written table")
	}
	if _, err := m.Set(ctx, "brand-new", "x", wire.BoolValue(true)); err != nil {
		t.Fatalf("set into brand new table: %v", err)
	}
	if ok, _ := m.Contains(ctx, "brand-new", "x"); !ok {
		t.Fatalf("expected true after set")
	}
}
