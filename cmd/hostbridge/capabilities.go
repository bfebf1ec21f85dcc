package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/hostbridge/internal/capability"
	"github.com/mattjoyce/hostbridge/internal/session"
)

// builtinSource registers the capabilities the standalone binary ships with.
// An embedding host registers its own sources on top of these.
func builtinSource(store session.Store) capability.Source {
	return capability.SourceFunc(func(r *capability.Registry) {
		mustRegister(r, capability.Descriptor{
			Name:        "echo",
			Description: "Return the given message",
			Parameters: []capability.ParamSpec{
				{Name: "message", Type: "string", Required: true},
			},
		}, func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"message": args["message"]}, nil
		})

		maxSleep := float64(60_000)
		mustRegister(r, capability.Descriptor{
			Name:        "sleep",
			Description: "Occupy the execution context for a bounded time",
			Parameters: []capability.ParamSpec{
				{Name: "duration_ms", Type: "integer", Required: true, Max: &maxSleep},
			},
		}, func(ctx context.Context, args map[string]any) (any, error) {
			ms := args["duration_ms"].(int64)
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return map[string]any{"slept_ms": ms}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

		mustRegister(r, capability.Descriptor{
			Name:        "session/put",
			Description: "Store a value in the reload-durable session store",
			Parameters: []capability.ParamSpec{
				{Name: "key", Type: "string", Required: true},
				{Name: "value", Type: "string", Required: true},
			},
		}, func(ctx context.Context, args map[string]any) (any, error) {
			key := args["key"].(string)
			if err := store.Put(ctx, key, []byte(args["value"].(string))); err != nil {
				return nil, fmt.Errorf("session put: %w", err)
			}
			return map[string]any{"key": key}, nil
		})

		mustRegister(r, capability.Descriptor{
			Name:        "session/get",
			Description: "Read a value from the session store",
			Parameters: []capability.ParamSpec{
				{Name: "key", Type: "string", Required: true},
			},
		}, func(ctx context.Context, args map[string]any) (any, error) {
			value, err := store.Get(ctx, args["key"].(string))
			if err != nil {
				return nil, fmt.Errorf("session get: %w", err)
			}
			return map[string]any{"value": string(value)}, nil
		})
	})
}

func mustRegister(r *capability.Registry, desc capability.Descriptor, h capability.Handler) {
	if err := r.Register(desc, h); err != nil {
		panic(fmt.Sprintf("builtin capability %q: %v", desc.Name, err))
	}
}
