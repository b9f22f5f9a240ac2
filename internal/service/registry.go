// Package service defines the execution contract between the serving layer
// and the predictors it hosts. A predictor registers a kind with a Load
// function (producing an opaque handle) and an Invoke function (running the
// prediction against that handle). Both the local manager and distributed
// workers resolve work through a Registry; job documents carry only the kind
// tag, never code.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// PayloadServiceKey is the payload field naming the target service kind.
const PayloadServiceKey = "service"

// LoadFunc builds the heavyweight resource for a request's parameters.
type LoadFunc func(ctx context.Context, params map[string]any) (any, error)

// InvokeFunc runs one prediction against a loaded handle.
type InvokeFunc func(ctx context.Context, handle any, params map[string]any) (any, error)

// Service describes one registered predictor kind.
type Service struct {
	// Kind is the stable identifier carried in payloads and job documents.
	Kind string
	// KeyParams lists the payload fields that select a distinct underlying
	// resource (e.g. a checkpoint name). Params outside this list do not
	// fragment the resource cache.
	KeyParams []string
	// SizeHintMB seeds pool accounting until the real size is known.
	SizeHintMB int
	Load       LoadFunc
	Invoke     InvokeFunc
	// Methods optionally exposes named operations for distributed jobs.
	// An empty method name or "predict" resolves to Invoke.
	Methods map[string]InvokeFunc
}

// Method resolves a named operation. Empty and "predict" map to Invoke.
func (s Service) Method(name string) (InvokeFunc, error) {
	if name == "" || name == "predict" {
		return s.Invoke, nil
	}
	if fn, ok := s.Methods[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("service %s has no method %q", s.Kind, name)
}

// ResourceKey derives the deterministic pool key for this service and a
// request's parameters: the kind plus a hash of the KeyParams values.
func (s Service) ResourceKey(params map[string]any) string {
	if len(s.KeyParams) == 0 {
		return s.Kind
	}
	sel := make(map[string]any, len(s.KeyParams))
	for _, k := range s.KeyParams {
		if v, ok := params[k]; ok {
			sel[k] = v
		}
	}
	// json.Marshal sorts map keys, so the encoding is canonical.
	b, err := json.Marshal(sel)
	if err != nil {
		return s.Kind
	}
	return fmt.Sprintf("%s:%016x", s.Kind, xxhash.Sum64(b))
}

// Registry maps service kinds to their contracts. One explicitly
// constructed instance per process; no package-level state.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds or replaces a service kind.
func (r *Registry) Register(s Service) error {
	if strings.TrimSpace(s.Kind) == "" {
		return fmt.Errorf("service kind must not be empty")
	}
	if s.Load == nil || s.Invoke == nil {
		return fmt.Errorf("service %s: Load and Invoke are required", s.Kind)
	}
	r.mu.Lock()
	r.services[s.Kind] = s
	r.mu.Unlock()
	return nil
}

// Lookup returns the service for kind.
func (r *Registry) Lookup(kind string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[kind]
	return s, ok
}

// Resolve extracts the service kind from a request payload and looks it up.
func (r *Registry) Resolve(payload map[string]any) (Service, error) {
	raw, ok := payload[PayloadServiceKey]
	if !ok {
		return Service{}, fmt.Errorf("payload missing %q field", PayloadServiceKey)
	}
	kind, ok := raw.(string)
	if !ok || kind == "" {
		return Service{}, fmt.Errorf("payload %q field must be a non-empty string", PayloadServiceKey)
	}
	s, ok := r.Lookup(kind)
	if !ok {
		return Service{}, fmt.Errorf("unknown service kind: %q", kind)
	}
	return s, nil
}

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for k := range r.services {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
