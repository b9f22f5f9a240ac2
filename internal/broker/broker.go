// Package broker abstracts the shared store used by the distributed job
// manager: a durable key-value store with list push/pop semantics. The pop
// is the system's single mutual-exclusion point; a popped value belongs
// exclusively to the caller that popped it.
package broker

import (
	"context"
	"time"
)

// Broker is the protocol surface the job manager relies on. Implementations
// must make LPop atomic across processes.
type Broker interface {
	// SetJSON stores v under key as JSON. ttl of 0 means no expiry.
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// GetJSON decodes the value at key into dest. The bool is false when
	// the key is absent or expired.
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Keys lists keys matching a glob pattern (e.g. "job:*").
	Keys(ctx context.Context, pattern string) ([]string, error)
	// RPush appends values to the tail of a list.
	RPush(ctx context.Context, list string, vals ...string) error
	// LPop removes and returns the head of a list; false when empty.
	LPop(ctx context.Context, list string) (string, bool, error)
	// LRem removes up to one occurrence of val from the list and reports
	// how many were removed.
	LRem(ctx context.Context, list, val string) (int, error)
	Close() error
}
