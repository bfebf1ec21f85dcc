package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoDescriptor(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "echoes its input",
		Category:    "test",
		Parameters:  []ParamSpec{{Name: "value", Type: "string", Required: true}},
	}
}

func echoHandler(_ context.Context, args map[string]any) (any, error) {
	return args["value"], nil
}

func TestRegisterDuplicateFirstWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if err := r.Register(echoDescriptor("echo"), echoHandler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	second := func(_ context.Context, _ map[string]any) (any, error) {
		return "intruder", nil
	}
	if err := r.Register(echoDescriptor("echo"), second); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	got, err := r.Invoke(context.Background(), "echo", map[string]any{"value": "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "hi" {
		t.Fatalf("first registration must win, got %v", got)
	}
}

func TestRefreshRebuildsFromSource(t *testing.T) {
	t.Parallel()

	calls := 0
	src := SourceFunc(func(r *Registry) {
		calls++
		name := fmt.Sprintf("gen%d", calls)
		_ = r.Register(echoDescriptor(name), echoHandler)
	})

	r := NewRegistry(src)
	if !r.Has("gen1") || r.Len() != 1 {
		t.Fatalf("expected gen1 after construction, have %d entries", r.Len())
	}

	r.Refresh()
	if r.Has("gen1") {
		t.Fatal("refresh must discard previous entries")
	}
	if !r.Has("gen2") {
		t.Fatal("refresh must replay the source")
	}
}

func TestInvokeUnknownCapability(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_, err := r.Invoke(context.Background(), "missing", nil)

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestInvokeWrapsHandlerError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_ = r.Register(Descriptor{Name: "boom"}, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("scene not loaded")
	})

	_, err := r.Invoke(context.Background(), "boom", nil)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}
	if herr.Message != "scene not loaded" {
		t.Fatalf("handler message must survive, got %q", herr.Message)
	}
}

func TestInvokeContainsHandlerPanic(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_ = r.Register(Descriptor{Name: "panics"}, func(_ context.Context, _ map[string]any) (any, error) {
		panic("nil reference in handler")
	})

	_, err := r.Invoke(context.Background(), "panics", nil)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("panic must surface as HandlerError, got %v", err)
	}
}

func TestInvokeCoercionFailureNamesField(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	_ = r.Register(echoDescriptor("echo"), echoHandler)

	_, err := r.Invoke(context.Background(), "echo", map[string]any{})
	var perr *ParamError
	if !errors.As(err, &perr) || perr.Field != "value" {
		t.Fatalf("expected ParamError naming value, got %v", err)
	}
}

func TestDescriptorsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_ = r.Register(Descriptor{Name: name}, echoHandler)
	}

	ds := r.Descriptors()
	if len(ds) != 3 || ds[0].Name != "alpha" || ds[1].Name != "mid" || ds[2].Name != "zeta" {
		t.Fatalf("descriptors not sorted: %#v", ds)
	}
}
