package resource

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Register(Descriptor{Name: "host/info", Description: "host metadata"},
		func(context.Context) ([]byte, error) {
			return []byte(`{"version":"1.0"}`), nil
		})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	desc, content, err := r.Read(context.Background(), "host/info")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if desc.MIMEType != "application/json" {
		t.Fatalf("expected default mime type, got %q", desc.MIMEType)
	}
	if string(content) != `{"version":"1.0"}` {
		t.Fatalf("unexpected content: %s", content)
	}
}

func TestReadUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, _, err := r.Read(context.Background(), "ghost")

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Name != "ghost" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDuplicateRegistrationFirstWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_ = r.Register(Descriptor{Name: "dup"}, func(context.Context) ([]byte, error) {
		return []byte("first"), nil
	})
	if err := r.Register(Descriptor{Name: "dup"}, func(context.Context) ([]byte, error) {
		return []byte("second"), nil
	}); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	_, content, err := r.Read(context.Background(), "dup")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(content) != "first" {
		t.Fatalf("first registration must win, got %s", content)
	}
}

func TestDescriptorsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		_ = r.Register(Descriptor{Name: name}, func(context.Context) ([]byte, error) { return nil, nil })
	}
	ds := r.Descriptors()
	if len(ds) != 3 || ds[0].Name != "a" || ds[2].Name != "c" {
		t.Fatalf("descriptors not sorted: %#v", ds)
	}
}
