package capability

import (
	"errors"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }

func TestCoerceRequiredMissing(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "count", Type: "integer", Required: true}}
	_, err := CoerceArgs(params, map[string]any{})

	var perr *ParamError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if perr.Field != "count" {
		t.Fatalf("error must name the field, got %q", perr.Field)
	}
}

func TestCoerceStringToInteger(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "count", Type: "integer", Required: true}}
	out, err := CoerceArgs(params, map[string]any{"count": "3"})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["count"] != int64(3) {
		t.Fatalf("expected int64(3), got %#v", out["count"])
	}
}

func TestCoerceDefaultSubstitution(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "depth", Type: "integer", Default: 5}}
	out, err := CoerceArgs(params, map[string]any{})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["depth"] != 5 {
		t.Fatalf("expected default 5, got %#v", out["depth"])
	}
}

func TestCoerceNumericWidening(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{
		{Name: "scale", Type: "number"},
		{Name: "count", Type: "integer"},
	}
	// JSON decoding produces float64 for both.
	out, err := CoerceArgs(params, map[string]any{"scale": float64(2), "count": float64(7)})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["scale"] != float64(2) || out["count"] != int64(7) {
		t.Fatalf("unexpected values: %#v", out)
	}

	// A fractional value must not silently truncate to integer.
	if _, err := CoerceArgs(params, map[string]any{"count": 2.5}); err == nil {
		t.Fatal("expected error for fractional integer")
	}
}

func TestCoerceEnumCaseInsensitive(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "mode", Type: "string", Enum: []string{"Fast", "Thorough"}}}

	out, err := CoerceArgs(params, map[string]any{"mode": "fast"})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["mode"] != "Fast" {
		t.Fatalf("expected canonical spelling, got %#v", out["mode"])
	}

	_, err = CoerceArgs(params, map[string]any{"mode": "slow"})
	var perr *ParamError
	if !errors.As(err, &perr) || perr.Field != "mode" {
		t.Fatalf("expected ParamError naming mode, got %v", err)
	}
}

func TestCoerceArrayElementWise(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "ids", Type: "array", ItemType: "integer"}}
	out, err := CoerceArgs(params, map[string]any{"ids": []any{"1", float64(2), int64(3)}})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	ids := out["ids"].([]any)
	for i, want := range []int64{1, 2, 3} {
		if ids[i] != want {
			t.Fatalf("ids[%d] = %#v, want %d", i, ids[i], want)
		}
	}

	_, err = CoerceArgs(params, map[string]any{"ids": []any{"nope"}})
	var perr *ParamError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if perr.Field != "ids[0]" {
		t.Fatalf("error must name the element, got %q", perr.Field)
	}
}

func TestCoerceRangeConstraints(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{{Name: "level", Type: "integer", Min: floatPtr(0), Max: floatPtr(10)}}

	if _, err := CoerceArgs(params, map[string]any{"level": float64(5)}); err != nil {
		t.Fatalf("in-range value rejected: %v", err)
	}
	if _, err := CoerceArgs(params, map[string]any{"level": float64(11)}); err == nil {
		t.Fatal("expected error above maximum")
	}
	if _, err := CoerceArgs(params, map[string]any{"level": float64(-1)}); err == nil {
		t.Fatal("expected error below minimum")
	}
}

func TestCoerceBooleanAndString(t *testing.T) {
	t.Parallel()

	params := []ParamSpec{
		{Name: "dry_run", Type: "boolean"},
		{Name: "label", Type: "string"},
	}
	out, err := CoerceArgs(params, map[string]any{"dry_run": "true", "label": float64(12)})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["dry_run"] != true || out["label"] != "12" {
		t.Fatalf("unexpected values: %#v", out)
	}
}

func TestCoercePassesUnknownArgsThrough(t *testing.T) {
	t.Parallel()

	out, err := CoerceArgs(nil, map[string]any{"extra": "x"})
	if err != nil {
		t.Fatalf("CoerceArgs: %v", err)
	}
	if out["extra"] != "x" {
		t.Fatalf("unexpected values: %#v", out)
	}
}
