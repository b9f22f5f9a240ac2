package broker

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"
)

// Memory is an in-process Broker for tests and single-process deployments.
// It honors per-key TTLs lazily, on read.
type Memory struct {
	mu    sync.Mutex
	kv    map[string]memoryItem
	lists map[string][]string
}

type memoryItem struct {
	raw     []byte
	expires time.Time // zero = no expiry
}

func NewMemory() *Memory {
	return &Memory{
		kv:    make(map[string]memoryItem),
		lists: make(map[string][]string),
	}
}

func (m *Memory) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	it := memoryItem{raw: b}
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.kv[key] = it
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	it, ok := m.kv[key]
	if ok && !it.expires.IsZero() && time.Now().After(it.expires) {
		delete(m.kv, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(it.raw, dest)
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.kv, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []string
	for k, it := range m.kv {
		if !it.expires.IsZero() && now.After(it.expires) {
			delete(m.kv, k)
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) RPush(_ context.Context, list string, vals ...string) error {
	m.mu.Lock()
	m.lists[list] = append(m.lists[list], vals...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) LPop(_ context.Context, list string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[list]
	if len(l) == 0 {
		return "", false, nil
	}
	head := l[0]
	m.lists[list] = l[1:]
	return head, true, nil
}

func (m *Memory) LRem(_ context.Context, list, val string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[list]
	for i, v := range l {
		if v == val {
			m.lists[list] = append(append([]string(nil), l[:i]...), l[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *Memory) Close() error { return nil }
