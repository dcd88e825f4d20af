package diagnostics

import (
	"path/filepath"
	"testing"
)

func TestLogAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.log")
	l := New(path)

	l.Log("pre_tool_use", "blob write failed", map[string]any{"error": "disk full"})
	l.Log("post_tool_use", "ok", map[string]any{"file": "a.go"})

	lines := Tail(path, 10)
	if len(lines) != 2 {
		t.Fatalf("Tail() returned %d lines, want 2", len(lines))
	}

	last := LastPayload(path)
	if last["file"] != "a.go" {
		t.Errorf("LastPayload() = %v, want file=a.go", last)
	}
}

func TestTail_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	if lines := Tail(path, 5); lines != nil {
		t.Errorf("Tail() on missing file = %v, want nil", lines)
	}
}

func TestTail_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.log")
	l := New(path)
	for i := 0; i < 5; i++ {
		l.Log("c", "m", nil)
	}
	if lines := Tail(path, 2); len(lines) != 2 {
		t.Errorf("Tail(2) returned %d lines, want 2", len(lines))
	}
}

func TestLog_NilLoggerSafe(t *testing.T) {
	var l *Logger
	l.Log("c", "m", nil) // must not panic
}
