package capacity

import "testing"

func TestMaxSubstreamsBounds(t *testing.T) {
	if got := MaxSubstreams(0); got != 10000 {
		t.Fatalf("no detected limit should give the conservative default, got %d", got)
	}
	if got := MaxSubstreams(64 * 1024 * 1024); got != 100 {
		t.Fatalf("tiny limit should clamp to the floor, got %d", got)
	}
	if got := MaxSubstreams(1 << 40); got != 100000 {
		t.Fatalf("huge limit should clamp to the ceiling, got %d", got)
	}

	mid := MaxSubstreams(512 * 1024 * 1024)
	if mid <= 100 || mid >= 100000 {
		t.Fatalf("512MB should land between the clamps, got %d", mid)
	}
}

func TestLimiterConcurrencyCap(t *testing.T) {
	l := NewLimiter(2, 0)
	if !l.Acquire() || !l.Acquire() {
		t.Fatalf("expected two slots")
	}
	if l.Acquire() {
		t.Fatalf("expected third acquire to fail")
	}
	l.Release()
	if !l.Acquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
	if l.Current() != 2 {
		t.Fatalf("expected 2 current, got %d", l.Current())
	}
}
