package main

import (
	"context"

	"predictd/internal/service"
)

// registerEcho installs a trivial predictor that loads instantly and echoes
// its parameters back. Useful for smoke-testing a deployment before real
// predictor kinds are linked in.
func registerEcho(reg *service.Registry) {
	_ = reg.Register(service.Service{
		Kind:       "echo",
		SizeHintMB: 1,
		Load: func(context.Context, map[string]any) (any, error) {
			return struct{}{}, nil
		},
		Invoke: func(_ context.Context, _ any, params map[string]any) (any, error) {
			out := make(map[string]any, len(params))
			for k, v := range params {
				if k == service.PayloadServiceKey {
					continue
				}
				out[k] = v
			}
			return out, nil
		},
	})
}
