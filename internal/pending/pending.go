// Package pending implements the Pending Buffer: the repo-local,
// JSON-backed holding area for AI edits and prompts captured between a
// PromptSubmit hook and the commit that finally incorporates (or discards)
// them. The buffer lives entirely outside the working tree and git's
// object database — it is read and cleared by commit finalization, never
// committed itself.
package pending

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dotsetlabs/whogitit/internal/lineset"
)

// AIEdit is a single captured tool-call edit: the content hashes of the
// file before and after, which lines changed, and which prompt/session it
// traces back to.
type AIEdit struct {
	ID           string          `json:"id"`
	ToolUseID    string          `json:"tool_use_id"`
	File         string          `json:"file"`
	Tool         string          `json:"tool"`
	PreSHA       string          `json:"pre_sha"`
	PostSHA      string          `json:"post_sha"`
	Lines        lineset.LineSet `json:"lines"`
	PromptIndex  int             `json:"prompt_index"`
	SessionID    string          `json:"session_id"`
	TranscriptID string          `json:"transcript_id,omitempty"`
	Ts           string          `json:"ts"`
	// WasNewFile marks an edit whose file had no pre-edit snapshot at all —
	// a Bash call that created a file outside any tracked Edit/Write call,
	// so there is no "before" content to diff against.
	WasNewFile bool `json:"was_new_file,omitempty"`
	// Summary is a short human-readable description of what changed,
	// shown by query tooling without needing to reload both blobs.
	Summary string `json:"summary,omitempty"`
}

// PromptRecord is a single user prompt captured at submit time, referenced
// by index from AIEdit.PromptIndex.
type PromptRecord struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Ts    string `json:"ts"`
}

// SessionMetadata records which transcript and author a session_id maps to,
// so later prompt extraction can locate the right file.
type SessionMetadata struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Author         string `json:"author"`
	StartedAt      string `json:"started_at"`
}

// FileEditHistory is the ordered sequence of AI edits applied to one file
// since the buffer was last cleared.
type FileEditHistory struct {
	File  string   `json:"file"`
	Edits []AIEdit `json:"edits"`
}

// Buffer is the full pending state for a repo.
type Buffer struct {
	Prompts  []PromptRecord              `json:"prompts"`
	Sessions map[string]SessionMetadata  `json:"sessions"`
	Files    map[string]*FileEditHistory `json:"files"`
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{
		Sessions: make(map[string]SessionMetadata),
		Files:    make(map[string]*FileEditHistory),
	}
}

// Load reads the buffer from path. A missing file is not an error — it
// means no AI edits are pending, which is the common case between commits.
func Load(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending buffer: %w", err)
	}
	b := New()
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("parse pending buffer: %w", err)
	}
	if b.Sessions == nil {
		b.Sessions = make(map[string]SessionMetadata)
	}
	if b.Files == nil {
		b.Files = make(map[string]*FileEditHistory)
	}
	return b, nil
}

// Save writes the buffer to path atomically (write to a temp file in the
// same directory, then rename), so a process crash mid-write never leaves
// a half-written buffer for the next hook invocation to choke on.
func (b *Buffer) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal pending buffer: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pending buffer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename pending buffer: %w", err)
	}
	return nil
}

// AddPrompt appends a prompt and returns its index, monotonically
// increasing for the lifetime of the buffer regardless of how many times
// it is loaded and saved in between.
func (b *Buffer) AddPrompt(text, ts string) int {
	idx := len(b.Prompts)
	b.Prompts = append(b.Prompts, PromptRecord{Index: idx, Text: text, Ts: ts})
	return idx
}

// AddSession records session metadata, keyed by session ID. Safe to call
// more than once per session; the latest write wins.
func (b *Buffer) AddSession(meta SessionMetadata) {
	b.Sessions[meta.SessionID] = meta
}

// AddEdit appends an edit to its file's history, creating the history if
// this is the first edit seen for that file.
func (b *Buffer) AddEdit(edit AIEdit) {
	h, ok := b.Files[edit.File]
	if !ok {
		h = &FileEditHistory{File: edit.File}
		b.Files[edit.File] = h
	}
	h.Edits = append(h.Edits, edit)
}

// SortedFiles returns the file paths with pending edits, sorted for
// deterministic iteration.
func (b *Buffer) SortedFiles() []string {
	files := make([]string, 0, len(b.Files))
	for f := range b.Files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// IsEmpty reports whether the buffer holds no pending edits at all.
func (b *Buffer) IsEmpty() bool {
	return len(b.Files) == 0
}

// Clear resets the buffer to empty, called after a commit has finalized
// attribution for everything currently pending.
func (b *Buffer) Clear() {
	b.Prompts = nil
	b.Sessions = make(map[string]SessionMetadata)
	b.Files = make(map[string]*FileEditHistory)
}
