// Package capture implements the Capture Engine: the hook-event
// handlers that run inside the host tool's pre/post tool-call lifecycle and
// record enough state — a content snapshot before the edit, another after,
// and which lines actually changed — for the three-way analyzer to later
// reconstruct attribution at commit time.
//
// Every handler here is best-effort: a failure must never surface back to
// the host tool as a blocked edit. Errors are logged to diagnostics and
// swallowed.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dotsetlabs/whogitit/internal/analyzer"
	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/dotsetlabs/whogitit/internal/audit"
	"github.com/dotsetlabs/whogitit/internal/config"
	"github.com/dotsetlabs/whogitit/internal/diagnostics"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dotsetlabs/whogitit/internal/index"
	"github.com/dotsetlabs/whogitit/internal/lineset"
	"github.com/dotsetlabs/whogitit/internal/pending"
	"github.com/dotsetlabs/whogitit/internal/project"
	"github.com/dotsetlabs/whogitit/internal/redact"
	"github.com/dotsetlabs/whogitit/internal/retention"
	"github.com/dotsetlabs/whogitit/internal/snapshot"
	"github.com/dotsetlabs/whogitit/internal/store"
	"github.com/dotsetlabs/whogitit/internal/textutil"
	"github.com/google/uuid"
)

// preStateTTL bounds how long a captured pre-edit snapshot is kept waiting
// for its matching post-edit event. If the host tool's post hook never
// fires (the call errored, the process was killed), the entry is reclaimed
// rather than accumulating forever.
const preStateTTL = time.Hour

// hookEvent is the subset of the hook JSON payload the capture engine
// reads. Unrecognized fields are ignored so newer host-tool payload
// versions degrade gracefully instead of failing to parse.
type hookEvent struct {
	HookEventName  string          `json:"hook_event_name"`
	ToolName       string          `json:"tool_name"`
	ToolUseID      string          `json:"tool_use_id"`
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path"`
	CWD            string          `json:"cwd"`
	Prompt         string          `json:"prompt"`
	ToolInput      json.RawMessage `json:"tool_input"`
}

type editInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Content   string `json:"content"`
	Edits     []struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	} `json:"edits"`
}

// bashInput is the subset of a Bash tool call's tool_input the capture
// engine reads to build a fallback prompt label when the command's edits
// can't otherwise be tied to specific edit text.
type bashInput struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// preState is one pending pre-edit snapshot, keyed by tool_use_id.
type preState struct {
	File    string `json:"file"`
	BlobSHA string `json:"blob_sha"`
	Ts      string `json:"ts"`
}

// bashPreState is the pre-Bash snapshot for one invocation: the blob SHA of
// every dirty file at the moment the command was about to run, keyed by the
// file's repo-relative path.
type bashPreState struct {
	Files map[string]string `json:"files"`
	Ts    string            `json:"ts"`
}

// isBinary reports whether content looks like binary data rather than text,
// using a null-byte heuristic: a text file never contains a null byte, a
// binary one almost always does.
func isBinary(content []byte) bool {
	for _, b := range content {
		if b == 0 {
			return true
		}
	}
	return false
}

// Engine wires the snapshot blob store and pending buffer together behind
// the hook dispatch surface.
type Engine struct {
	Paths   project.Paths
	Blobs   *snapshot.Store
	Diag    *diagnostics.Logger
	nowFunc func() time.Time
}

// NewEngine builds an Engine rooted at paths.
func NewEngine(paths project.Paths) *Engine {
	return &Engine{
		Paths:   paths,
		Blobs:   snapshot.NewStore(paths.StateDir + "/blobs"),
		Diag:    diagnostics.New(paths.DiagLog),
		nowFunc: time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

var ideTagRe = regexp.MustCompile(`(?s)<ide_\w+>.*?</ide_\w+>\s*`)
var sysReminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>\s*`)

func cleanPrompt(raw string) string {
	cleaned := ideTagRe.ReplaceAllString(raw, "")
	cleaned = sysReminderRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// HandlePromptSubmit records a new user prompt in the pending buffer and
// remembers which transcript/session it belongs to.
func (e *Engine) HandlePromptSubmit(r io.Reader) error {
	var ev hookEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		e.Diag.Log("prompt_submit", "decode failed", map[string]any{"error": err.Error()})
		return nil
	}

	buf, err := pending.Load(e.Paths.PendingFile)
	if err != nil {
		e.Diag.Log("prompt_submit", "load pending buffer failed", map[string]any{"error": err.Error()})
		return nil
	}

	ts := e.now().UTC().Format(time.RFC3339)
	buf.AddPrompt(cleanPrompt(ev.Prompt), ts)
	buf.AddSession(pending.SessionMetadata{
		SessionID:      ev.SessionID,
		TranscriptPath: ev.TranscriptPath,
		Author:         authorOrEnv(),
		StartedAt:      ts,
	})

	if err := buf.Save(e.Paths.PendingFile); err != nil {
		e.Diag.Log("prompt_submit", "save pending buffer failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// HandlePreToolUse snapshots the current content of every file a tool call
// is about to touch, keyed by tool_use_id so the matching post-event can
// find it again.
func (e *Engine) HandlePreToolUse(r io.Reader) error {
	var ev hookEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		e.Diag.Log("pre_tool_use", "decode failed", map[string]any{"error": err.Error()})
		return nil
	}

	switch ev.ToolName {
	case "Edit", "Write", "MultiEdit":
	case "Bash":
		return e.handleBashPre(ev)
	default:
		// Any other tool kind gives no file_path ahead of the call and isn't
		// a shell invocation whose dirty-tree footprint can be snapshotted
		// either, so there is nothing to capture.
		e.Diag.Log("pre_tool_use", "unattributed tool kind", map[string]any{"tool": ev.ToolName})
		return nil
	}

	var in editInput
	if err := json.Unmarshal(ev.ToolInput, &in); err != nil {
		e.Diag.Log("pre_tool_use", "parse tool_input failed", map[string]any{"error": err.Error()})
		return nil
	}
	if in.FilePath == "" {
		return nil
	}

	content, _ := os.ReadFile(in.FilePath) // new file: empty pre-content, error ignored
	sha, err := e.Blobs.Write(content)
	if err != nil {
		e.Diag.Log("pre_tool_use", "blob write failed", map[string]any{"error": err.Error()})
		return nil
	}

	if err := e.storePreState(ev.ToolUseID, preState{
		File:    in.FilePath,
		BlobSHA: sha,
		Ts:      e.now().UTC().Format(time.RFC3339),
	}); err != nil {
		e.Diag.Log("pre_tool_use", "store pre-state failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// HandlePostToolUse reads the file's post-edit content, matches it against
// the pre-state captured by HandlePreToolUse, computes the changed-line
// range, and appends an AIEdit to the pending buffer.
func (e *Engine) HandlePostToolUse(r io.Reader) error {
	var ev hookEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		e.Diag.Log("post_tool_use", "decode failed", map[string]any{"error": err.Error()})
		return nil
	}

	switch ev.ToolName {
	case "Edit", "Write", "MultiEdit":
	case "Bash":
		return e.handleBashPost(ev)
	default:
		return nil
	}

	pre, ok, err := e.takePreState(ev.ToolUseID)
	if err != nil {
		e.Diag.Log("post_tool_use", "load pre-state failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !ok {
		// PreToolUse never ran or its entry was already reclaimed — nothing
		// to diff against, so this edit cannot be attributed.
		return nil
	}

	newContent, err := os.ReadFile(pre.File)
	if err != nil {
		e.Diag.Log("post_tool_use", "read post content failed", map[string]any{"error": err.Error()})
		return nil
	}
	postSHA, err := e.Blobs.Write(newContent)
	if err != nil {
		e.Diag.Log("post_tool_use", "blob write failed", map[string]any{"error": err.Error()})
		return nil
	}
	if postSHA == pre.BlobSHA {
		return nil
	}

	preContent, err := e.Blobs.Read(pre.BlobSHA)
	if err != nil {
		e.Diag.Log("post_tool_use", "read pre content failed", map[string]any{"error": err.Error()})
		return nil
	}

	if textutil.ContentHash(string(preContent)) == textutil.ContentHash(string(newContent)) {
		// Bytes differ (otherwise the SHA check above would have caught it)
		// but the whitespace-normalized content doesn't — a reformatting
		// pass, not an attributable content change.
		return nil
	}

	changed := lineset.ChangedLines(string(preContent), string(newContent), 1)

	buf, err := pending.Load(e.Paths.PendingFile)
	if err != nil {
		e.Diag.Log("post_tool_use", "load pending buffer failed", map[string]any{"error": err.Error()})
		return nil
	}

	promptIdx := -1
	if len(buf.Prompts) > 0 {
		promptIdx = buf.Prompts[len(buf.Prompts)-1].Index
	}

	rel := textutil.RelativizePath(pre.File, ev.CWD)
	buf.AddEdit(pending.AIEdit{
		ID:           uuid.NewString(),
		ToolUseID:    ev.ToolUseID,
		File:         rel,
		Tool:         ev.ToolName,
		PreSHA:       pre.BlobSHA,
		PostSHA:      postSHA,
		Lines:        changed,
		PromptIndex:  promptIdx,
		SessionID:    ev.SessionID,
		TranscriptID: ev.TranscriptPath,
		Ts:           e.now().UTC().Format(time.RFC3339),
		Summary:      textutil.CompactChangeSummary(string(preContent), string(newContent)),
	})

	if err := buf.Save(e.Paths.PendingFile); err != nil {
		e.Diag.Log("post_tool_use", "save pending buffer failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// handleBashPre snapshots every dirty file in the working tree before a
// shell command runs. A Bash call's tool_input carries no file_path, so
// unlike Edit/Write/MultiEdit the set of files it might touch is discovered
// by diffing the tree against itself across the call rather than named up
// front.
func (e *Engine) handleBashPre(ev hookEvent) error {
	dirty, err := git.DirtyFiles(e.Paths.Root)
	if err != nil {
		e.Diag.Log("pre_tool_use", "list dirty files failed", map[string]any{"error": err.Error()})
		return nil
	}

	files := make(map[string]string, len(dirty))
	for _, rel := range dirty {
		content, err := os.ReadFile(filepath.Join(e.Paths.Root, rel))
		if err != nil {
			continue
		}
		if isBinary(content) {
			continue
		}
		sha, err := e.Blobs.Write(content)
		if err != nil {
			e.Diag.Log("pre_tool_use", "blob write failed", map[string]any{"file": rel, "error": err.Error()})
			continue
		}
		files[rel] = sha
	}

	if err := e.storeBashPreState(ev.ToolUseID, bashPreState{
		Files: files,
		Ts:    e.now().UTC().Format(time.RFC3339),
	}); err != nil {
		e.Diag.Log("pre_tool_use", "store bash pre-state failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// handleBashPost re-enumerates the working tree's dirty files after a shell
// command runs, diffs each against handleBashPre's snapshot, and records an
// AIEdit per file whose content actually changed — plus one for every file
// that turned dirty during the command and wasn't dirty (so wasn't
// snapshotted) beforehand.
func (e *Engine) handleBashPost(ev hookEvent) error {
	pre, ok, err := e.takeBashPreState(ev.ToolUseID)
	if err != nil {
		e.Diag.Log("post_tool_use", "load bash pre-state failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !ok {
		return nil
	}

	dirty, err := git.DirtyFiles(e.Paths.Root)
	if err != nil {
		e.Diag.Log("post_tool_use", "list dirty files failed", map[string]any{"error": err.Error()})
		return nil
	}

	buf, err := pending.Load(e.Paths.PendingFile)
	if err != nil {
		e.Diag.Log("post_tool_use", "load pending buffer failed", map[string]any{"error": err.Error()})
		return nil
	}

	var in bashInput
	_ = json.Unmarshal(ev.ToolInput, &in)
	promptIdx := buf.AddPrompt(bashPromptLabel(in), e.now().UTC().Format(time.RFC3339))

	ts := e.now().UTC().Format(time.RFC3339)
	changedAny := false
	for _, rel := range dirty {
		content, err := os.ReadFile(filepath.Join(e.Paths.Root, rel))
		if err != nil {
			continue
		}
		if isBinary(content) {
			continue
		}

		preSHA, wasTracked := pre.Files[rel]
		postSHA, err := e.Blobs.Write(content)
		if err != nil {
			e.Diag.Log("post_tool_use", "blob write failed", map[string]any{"file": rel, "error": err.Error()})
			continue
		}

		if wasTracked {
			if postSHA == preSHA {
				continue
			}
			preContent, err := e.Blobs.Read(preSHA)
			if err != nil {
				e.Diag.Log("post_tool_use", "read pre content failed", map[string]any{"file": rel, "error": err.Error()})
				continue
			}
			if textutil.ContentHash(string(preContent)) == textutil.ContentHash(string(content)) {
				// Whitespace-only churn from the shell command (a
				// formatter, a trailing-newline fixup) — not a real edit.
				continue
			}
			changed := lineset.ChangedLines(string(preContent), string(content), 1)
			buf.AddEdit(pending.AIEdit{
				ID: uuid.NewString(), ToolUseID: ev.ToolUseID, File: rel, Tool: ev.ToolName,
				PreSHA: preSHA, PostSHA: postSHA, Lines: changed, PromptIndex: promptIdx,
				SessionID: ev.SessionID, TranscriptID: ev.TranscriptPath, Ts: ts,
				Summary: textutil.CompactChangeSummary(string(preContent), string(content)),
			})
			changedAny = true
			continue
		}

		// Newly dirty file this Bash call introduced: no pre-snapshot, so
		// the whole thing is new content.
		changed := lineset.ChangedLines("", string(content), 1)
		buf.AddEdit(pending.AIEdit{
			ID: uuid.NewString(), ToolUseID: ev.ToolUseID, File: rel, Tool: ev.ToolName,
			PreSHA: "", PostSHA: postSHA, Lines: changed, PromptIndex: promptIdx,
			SessionID: ev.SessionID, TranscriptID: ev.TranscriptPath, Ts: ts, WasNewFile: true,
			Summary: textutil.CompactChangeSummary("", string(content)),
		})
		changedAny = true
	}

	if !changedAny {
		// Nothing actually changed: drop the prompt record just added so an
		// inert shell command (a read-only `ls`, a failed command) doesn't
		// leave a dangling, unreferenced prompt in the buffer.
		buf.Prompts = buf.Prompts[:len(buf.Prompts)-1]
	}

	if err := buf.Save(e.Paths.PendingFile); err != nil {
		e.Diag.Log("post_tool_use", "save pending buffer failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// bashPromptLabel builds the fallback prompt text recorded for a Bash
// invocation: its description when the caller supplied one, else the
// command itself, truncated to a manageable length for display.
func bashPromptLabel(in bashInput) string {
	const maxLen = 200
	label := in.Description
	if label == "" {
		label = in.Command
	}
	if len(label) > maxLen {
		label = label[:maxLen]
	}
	return "[Bash] " + label
}

func authorOrEnv() string {
	if a := os.Getenv("WHOGITIT_AUTHOR"); a != "" {
		return a
	}
	return "unknown"
}

// preStateFile is the on-disk map of in-flight pre-edit snapshots.
type preStateFile struct {
	Entries map[string]preState `json:"entries"`
}

func (e *Engine) preStatePath() string {
	return e.Paths.StateDir + "/prestate.json"
}

func (e *Engine) loadPreStateFile() (*preStateFile, error) {
	data, err := os.ReadFile(e.preStatePath())
	if os.IsNotExist(err) {
		return &preStateFile{Entries: map[string]preState{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var f preStateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return &preStateFile{Entries: map[string]preState{}}, nil
	}
	if f.Entries == nil {
		f.Entries = map[string]preState{}
	}
	return &f, nil
}

func (e *Engine) savePreStateFile(f *preStateFile) error {
	if err := os.MkdirAll(e.Paths.StateDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	tmp := e.preStatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.preStatePath())
}

// bashPreStateFile is the on-disk map of in-flight pre-Bash snapshots,
// keyed by tool_use_id — the multi-file counterpart to preStateFile.
type bashPreStateFile struct {
	Entries map[string]bashPreState `json:"entries"`
}

func (e *Engine) bashPreStatePath() string {
	return e.Paths.StateDir + "/bashprestate.json"
}

func (e *Engine) loadBashPreStateFile() (*bashPreStateFile, error) {
	data, err := os.ReadFile(e.bashPreStatePath())
	if os.IsNotExist(err) {
		return &bashPreStateFile{Entries: map[string]bashPreState{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var f bashPreStateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return &bashPreStateFile{Entries: map[string]bashPreState{}}, nil
	}
	if f.Entries == nil {
		f.Entries = map[string]bashPreState{}
	}
	return &f, nil
}

func (e *Engine) saveBashPreStateFile(f *bashPreStateFile) error {
	if err := os.MkdirAll(e.Paths.StateDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	tmp := e.bashPreStatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.bashPreStatePath())
}

func (e *Engine) reclaimExpiredBash(f *bashPreStateFile) {
	cutoff := e.now().Add(-preStateTTL)
	for id, ps := range f.Entries {
		ts, err := time.Parse(time.RFC3339, ps.Ts)
		if err != nil || ts.Before(cutoff) {
			delete(f.Entries, id)
		}
	}
}

func (e *Engine) storeBashPreState(toolUseID string, ps bashPreState) error {
	if toolUseID == "" {
		return fmt.Errorf("empty tool_use_id")
	}
	f, err := e.loadBashPreStateFile()
	if err != nil {
		return err
	}
	e.reclaimExpiredBash(f)
	f.Entries[toolUseID] = ps
	return e.saveBashPreStateFile(f)
}

// takeBashPreState retrieves and removes the pre-Bash snapshot for
// toolUseID, mirroring takePreState's single-file counterpart.
func (e *Engine) takeBashPreState(toolUseID string) (bashPreState, bool, error) {
	f, err := e.loadBashPreStateFile()
	if err != nil {
		return bashPreState{}, false, err
	}
	e.reclaimExpiredBash(f)
	ps, ok := f.Entries[toolUseID]
	if !ok {
		return bashPreState{}, false, nil
	}
	delete(f.Entries, toolUseID)
	if err := e.saveBashPreStateFile(f); err != nil {
		return bashPreState{}, false, err
	}
	return ps, true, nil
}

// Finalize implements commit finalization: it turns the Pending
// Buffer's file-edit histories and prompts into a
// per-commit AIAttribution via the three-way analyzer, redacts prompt
// text and line content, writes the note through the Attribution Store,
// clears the buffer, and — if configured — runs an auto-purge retention
// pass. Called once per commit, after the commit itself has been created.
func (e *Engine) Finalize(commitSHA string, cfg config.Config, redactor *redact.Engine, st *store.Store, auditLog *audit.Logger, cache *index.DB) error {
	buf, err := pending.Load(e.Paths.PendingFile)
	if err != nil {
		return fmt.Errorf("finalize: load pending buffer: %w", err)
	}
	if buf.IsEmpty() {
		return nil
	}

	attr := attribution.New(commitSHA)
	if cfg.Privacy.Enabled {
		attr.Prompts, _ = redactPrompts(buf.Prompts, redactor)
	} else {
		attr.Prompts = passthroughPrompts(buf.Prompts)
	}

	for _, path := range buf.SortedFiles() {
		fa, err := e.attributeFile(commitSHA, path, buf.Files[path])
		if err != nil {
			e.Diag.Log("finalize", "attribute file failed", map[string]any{"file": path, "error": err.Error()})
			continue
		}
		if cfg.Privacy.Enabled {
			for i := range fa.Lines {
				fa.Lines[i].Content, _ = redactor.Redact(fa.Lines[i].Content)
			}
		}
		attr.AddFile(fa)
	}

	if err := attr.Validate(); err != nil {
		return fmt.Errorf("finalize: invalid attribution for %s: %w", commitSHA, err)
	}
	warning, err := st.Put(commitSHA, attr, true)
	if err != nil {
		return fmt.Errorf("finalize: store attribution: %w", err)
	}
	if warning != nil {
		e.Diag.Log("finalize", "oversized note", map[string]any{"commit": commitSHA, "warning": warning.Error()})
	}
	if cache != nil {
		if err := cache.Index(attr); err != nil {
			e.Diag.Log("finalize", "cache index failed", map[string]any{"commit": commitSHA, "error": err.Error()})
		}
	}

	if auditLog != nil {
		if n := totalRedactionEvents(attr.Prompts); n > 0 {
			payload, _ := json.Marshal(map[string]any{"commit": commitSHA, "redaction_count": n})
			if _, err := auditLog.Append(audit.KindRedaction, payload); err != nil {
				e.Diag.Log("finalize", "audit append failed", map[string]any{"error": err.Error()})
			}
		}
	}

	buf.Clear()
	if err := buf.Save(e.Paths.PendingFile); err != nil {
		return fmt.Errorf("finalize: clear pending buffer: %w", err)
	}

	if cfg.Retention.AutoPurge {
		policy := retention.Policy{MaxAgeDays: cfg.Retention.MaxAgeDays, MinCommits: cfg.Retention.MinCommits, RetainRefs: cfg.Retention.RetainRefs}
		if _, err := retention.New(e.Paths.Root, auditLog).Apply(policy); err != nil {
			e.Diag.Log("finalize", "auto purge failed", map[string]any{"error": err.Error()})
		}
	}

	return nil
}

// attributeFile reconciles one file's pending edit chain against its
// committed content: the original (pre-AI) blob is the first edit's
// before-snapshot; each subsequent step's before-content is the prior
// edit's after-snapshot, so a chain of several tool calls on one file
// reconciles as several Steps rather than one big jump.
func (e *Engine) attributeFile(commitSHA, path string, hist *pending.FileEditHistory) (attribution.FileAttribution, error) {
	if hist == nil || len(hist.Edits) == 0 {
		return attribution.FileAttribution{}, fmt.Errorf("no pending edits for %s", path)
	}

	// A file created by a Bash call has no before-snapshot (empty PreSHA):
	// its original content is empty.
	var original string
	if hist.Edits[0].PreSHA != "" {
		var err error
		original, err = e.Blobs.ReadString(hist.Edits[0].PreSHA)
		if err != nil {
			return attribution.FileAttribution{}, fmt.Errorf("read original snapshot: %w", err)
		}
	}

	final, err := git.ShowFile(e.Paths.Root, commitSHA, path)
	if err != nil {
		return attribution.FileAttribution{}, fmt.Errorf("read committed content: %w", err)
	}

	steps := make([]analyzer.Step, 0, len(hist.Edits))
	before := original
	for _, ed := range hist.Edits {
		after, err := e.Blobs.ReadString(ed.PostSHA)
		if err != nil {
			return attribution.FileAttribution{}, fmt.Errorf("read post snapshot for edit %s: %w", ed.ID, err)
		}
		steps = append(steps, analyzer.Step{Before: before, After: after, EditID: ed.ID, SessionID: ed.SessionID, PromptIndex: ed.PromptIndex})
		before = after
	}

	return analyzer.Attribute(path, original, steps, final), nil
}

// passthroughPrompts carries prompt text over unchanged, for when [privacy]
// enabled=false turns the Redaction Engine off entirely.
func passthroughPrompts(records []pending.PromptRecord) []attribution.PromptRecord {
	out := make([]attribution.PromptRecord, len(records))
	for i, p := range records {
		out[i] = attribution.PromptRecord{Index: p.Index, Text: p.Text, Timestamp: p.Ts}
	}
	return out
}

// redactPrompts scrubs every prompt's raw text and tallies the redaction
// events fired against it, in the shape a PromptRecord carries in the note.
func redactPrompts(records []pending.PromptRecord, redactor *redact.Engine) ([]attribution.PromptRecord, int) {
	out := make([]attribution.PromptRecord, len(records))
	total := 0
	for i, p := range records {
		text, events := redactor.Redact(p.Text)
		total += len(events)

		counts := map[string]int{}
		for _, ev := range events {
			counts[ev.PatternName]++
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)

		summaries := make([]attribution.RedactionEventSummary, 0, len(names))
		for _, name := range names {
			summaries = append(summaries, attribution.RedactionEventSummary{PatternName: name, Count: counts[name]})
		}

		out[i] = attribution.PromptRecord{Index: p.Index, Text: text, Timestamp: p.Ts, RedactionEvents: summaries}
	}
	return out, total
}

func totalRedactionEvents(prompts []attribution.PromptRecord) int {
	n := 0
	for _, p := range prompts {
		for _, ev := range p.RedactionEvents {
			n += ev.Count
		}
	}
	return n
}

func (e *Engine) reclaimExpired(f *preStateFile) {
	cutoff := e.now().Add(-preStateTTL)
	for id, ps := range f.Entries {
		ts, err := time.Parse(time.RFC3339, ps.Ts)
		if err != nil || ts.Before(cutoff) {
			delete(f.Entries, id)
		}
	}
}

func (e *Engine) storePreState(toolUseID string, ps preState) error {
	if toolUseID == "" {
		return fmt.Errorf("empty tool_use_id")
	}
	f, err := e.loadPreStateFile()
	if err != nil {
		return err
	}
	e.reclaimExpired(f)
	f.Entries[toolUseID] = ps
	return e.savePreStateFile(f)
}

// takePreState retrieves and removes the pre-state for toolUseID. Removing
// on read keeps the store from growing across a long session — once a
// post-event consumes the entry, it has no further use.
func (e *Engine) takePreState(toolUseID string) (preState, bool, error) {
	f, err := e.loadPreStateFile()
	if err != nil {
		return preState{}, false, err
	}
	e.reclaimExpired(f)
	ps, ok := f.Entries[toolUseID]
	if !ok {
		return preState{}, false, nil
	}
	delete(f.Entries, toolUseID)
	if err := e.savePreStateFile(f); err != nil {
		return preState{}, false, err
	}
	return ps, true, nil
}
