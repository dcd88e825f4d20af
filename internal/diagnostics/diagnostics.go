// Package diagnostics provides the ambient, best-effort logging every
// capture-path component uses. A failure in logging must never propagate
// back and block the host tool's edit, so every operation here swallows
// its own errors; there is deliberately no third-party logging dependency,
// since a logger that can itself fail loudly would violate that guarantee.
package diagnostics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Logger appends JSON-line entries to a single file.
type Logger struct {
	path string
}

// New returns a Logger writing to path. The file is created lazily on
// first write.
func New(path string) *Logger {
	return &Logger{path: path}
}

type entry struct {
	Ts      string         `json:"ts"`
	Concern string         `json:"concern"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Log appends a best-effort diagnostic entry. Concern names the
// subsystem (e.g. "pre_tool_use", "retention"); message and data carry
// whatever context is useful for later debugging. Errors writing the log
// itself are silently dropped.
func (l *Logger) Log(concern, message string, data map[string]any) {
	if l == nil {
		return
	}
	e := entry{
		Ts:      time.Now().UTC().Format(time.RFC3339),
		Concern: concern,
		Message: message,
		Data:    data,
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(line)
}

// Tail returns the last n lines of the log, parsed as raw JSON, for
// external debugging tools to render. Returns nil if the log does not
// exist or n <= 0.
func Tail(path string, n int) []json.RawMessage {
	if n <= 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		lines = append(lines, raw)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// LastPayload returns the most recent entry's Data, or nil if the log is
// empty. Supplements the host tool's own debugging affordances (the
// original dump-payload workflow) as a plain library call.
func LastPayload(path string) map[string]any {
	lines := Tail(path, 1)
	if len(lines) == 0 {
		return nil
	}
	var e entry
	if err := json.Unmarshal(lines[0], &e); err != nil {
		return nil
	}
	return e.Data
}
