package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

func TestResultStorePutGet(t *testing.T) {
	s, err := newResultStore(t.TempDir(), time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.stop()

	s.put(types.RequestStatus{RequestID: "r1", Status: types.StateCompleted, Result: "v"})
	st, ok := s.get("r1")
	if !ok || st.Result != "v" {
		t.Fatalf("get: ok=%v st=%+v", ok, st)
	}
	if st.ExpiresAt == "" {
		t.Fatalf("expiry not stamped")
	}
	if _, err := os.Stat(s.path("r1")); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	if _, ok := s.get("absent"); ok {
		t.Fatalf("expected miss")
	}
}

func TestResultStoreReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := newResultStore(dir, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	s1.put(types.RequestStatus{RequestID: "r1", Status: types.StateCompleted, Result: "v"})
	s1.stop()

	s2, err := newResultStore(dir, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s2.stop()
	st, ok := s2.get("r1")
	if !ok || st.Result != "v" {
		t.Fatalf("get from disk: ok=%v st=%+v", ok, st)
	}
}

func TestResultStoreExpiredFileRemoved(t *testing.T) {
	dir := t.TempDir()
	s, err := newResultStore(dir, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.stop()

	stale := types.RequestStatus{
		RequestID: "old",
		Status:    types.StateCompleted,
		ExpiresAt: time.Now().Add(-time.Minute).Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, "old.json"), b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := s.get("old"); ok {
		t.Fatalf("expired snapshot served")
	}
	if _, err := os.Stat(filepath.Join(dir, "old.json")); !os.IsNotExist(err) {
		t.Fatalf("expired file not removed")
	}
}

func TestResultStoreSweep(t *testing.T) {
	dir := t.TempDir()
	s, err := newResultStore(dir, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.stop()

	s.put(types.RequestStatus{RequestID: "fresh", Status: types.StateCompleted})
	stale := types.RequestStatus{
		RequestID: "old",
		Status:    types.StateCompleted,
		ExpiresAt: time.Now().Add(-time.Minute).Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(stale)
	_ = os.WriteFile(filepath.Join(dir, "old.json"), b, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0o644)

	if n := s.sweep(); n != 2 {
		t.Fatalf("swept %d files", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh.json")); err != nil {
		t.Fatalf("fresh snapshot removed: %v", err)
	}
}
