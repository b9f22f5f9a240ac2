package broker

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	type doc struct {
		ID string `json:"id"`
		N  int    `json:"n"`
	}
	if err := m.SetJSON(ctx, "job:1", doc{ID: "1", N: 7}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got doc
	ok, err := m.GetJSON(ctx, "job:1", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.N != 7 {
		t.Fatalf("got %+v", got)
	}

	if ok, _ := m.GetJSON(ctx, "job:absent", &got); ok {
		t.Fatalf("expected miss for absent key")
	}
	if err := m.Delete(ctx, "job:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := m.GetJSON(ctx, "job:1", &got); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SetJSON(ctx, "job:ttl", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	var s string
	if ok, _ := m.GetJSON(ctx, "job:ttl", &s); !ok {
		t.Fatalf("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := m.GetJSON(ctx, "job:ttl", &s); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestMemoryKeysPattern(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SetJSON(ctx, "job:a", 1, 0)
	_ = m.SetJSON(ctx, "job:b", 2, 0)
	_ = m.SetJSON(ctx, "other", 3, 0)

	keys, err := m.Keys(ctx, "job:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestMemoryListFIFOAndExclusivePop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.RPush(ctx, "submissions", "a", "b", "c"); err != nil {
		t.Fatalf("rpush: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		v, ok, err := m.LPop(ctx, "submissions")
		if err != nil || !ok {
			t.Fatalf("lpop %d: ok=%v err=%v", i, ok, err)
		}
		if seen[v] {
			t.Fatalf("value %q popped twice", v)
		}
		seen[v] = true
	}
	if _, ok, _ := m.LPop(ctx, "submissions"); ok {
		t.Fatalf("expected empty list")
	}
}

func TestMemoryLRem(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.RPush(ctx, "l", "a", "b", "c")

	n, err := m.LRem(ctx, "l", "b")
	if err != nil || n != 1 {
		t.Fatalf("lrem: n=%d err=%v", n, err)
	}
	if n, _ = m.LRem(ctx, "l", "b"); n != 0 {
		t.Fatalf("second lrem removed %d", n)
	}
	v, _, _ := m.LPop(ctx, "l")
	if v != "a" {
		t.Fatalf("head = %q", v)
	}
	v, _, _ = m.LPop(ctx, "l")
	if v != "c" {
		t.Fatalf("next = %q", v)
	}
}
