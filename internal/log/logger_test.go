package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestBuildLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level   string
		debugOn bool
	}{
		{"DEBUG", true},
		{"debug", true},
		{"INFO", false},
		{"bogus", false},
		{"", false},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		l := build(&buf, tc.level, "json")
		l.Debug("probe")
		got := buf.Len() > 0
		if got != tc.debugOn {
			t.Errorf("level %q: debug emitted=%v, want %v", tc.level, got, tc.debugOn)
		}
	}
}

func TestBuildJSONOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := build(&buf, "INFO", "json")
	l.Info("hello", slog.String("k", "v"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestBuildTextOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := build(&buf, "INFO", "text")
	l.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text format, got %q", buf.String())
	}
}
