package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority orders requests in the queue. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire strings low/normal/high/critical onto a
// Priority. Empty input means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// RequestState is the lifecycle state of a queued request.
type RequestState string

const (
	StatePending    RequestState = "pending"
	StateProcessing RequestState = "processing"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
	StateTimeout    RequestState = "timeout"
	StateCanceled   RequestState = "canceled"
)

// Terminal reports whether no further transitions can occur.
func (s RequestState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateCanceled:
		return true
	}
	return false
}

// EvictionStrategy selects the victim when the resource pool is full.
type EvictionStrategy string

const (
	EvictLRU  EvictionStrategy = "lru"
	EvictLFU  EvictionStrategy = "lfu"
	EvictSize EvictionStrategy = "size"
)

// ParseEvictionStrategy validates a strategy string. Empty means LRU.
func ParseEvictionStrategy(s string) (EvictionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lru":
		return EvictLRU, nil
	case "lfu":
		return EvictLFU, nil
	case "size":
		return EvictSize, nil
	default:
		return EvictLRU, fmt.Errorf("unknown eviction strategy: %q", s)
	}
}
