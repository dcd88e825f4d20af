package store

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetlabs/whogitit/internal/attribution"
)

// setupGitRepo mirrors the helper used by internal/git's tests: a scratch
// repo with a single committed file.
func setupGitRepo(t *testing.T, fileName, content string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=Test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@test.com")
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", fileName)
	run("commit", "-q", "-m", "initial")
	return dir
}

func headSHA(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

func intPtr(i int) *int { return &i }

func sampleAttribution(sha string) *attribution.AIAttribution {
	attr := attribution.New(sha)
	attr.Prompts = []attribution.PromptRecord{{Index: 0, Text: "add a line", Timestamp: "2026-01-01T00:00:00Z"}}
	lines := []attribution.LineAttribution{
		{Line: 1, Source: attribution.SourceOriginal},
		{Line: 2, Source: attribution.SourceAI, EditID: "e1", SessionID: "s1", PromptIndex: intPtr(0)},
	}
	attr.AddFile(attribution.FileAttribution{Path: "main.go", Lines: lines, Summary: attribution.Summarize(lines)})
	return attr
}

func TestPutGet_RoundTrip(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	if _, err := s.Put(sha, sampleAttribution(sha), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(sha)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected attribution to be found")
	}
	if got.Version != attribution.NotePayloadVersion {
		t.Errorf("Version = %d, want %d", got.Version, attribution.NotePayloadVersion)
	}
	if len(got.Files) != 1 || got.Files[0].Path != "main.go" {
		t.Errorf("Files = %+v", got.Files)
	}
}

func TestGet_NoNote(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	_, ok, err := s.Get(sha)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected no attribution note")
	}
}

func TestPut_RefusesOverwriteByDefault(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	if _, err := s.Put(sha, sampleAttribution(sha), false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(sha, sampleAttribution(sha), false); err == nil {
		t.Error("expected error writing a second time without overwrite")
	}
	if _, err := s.Put(sha, sampleAttribution(sha), true); err != nil {
		t.Errorf("Put with overwrite=true should succeed, got %v", err)
	}
}

func TestPut_RejectsOversizedPayload(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	attr := attribution.New(sha)
	attr.Prompts = []attribution.PromptRecord{{Index: 0, Text: "generate a huge file"}}
	lines := make([]attribution.LineAttribution, 0, 200000)
	for i := 1; i <= 200000; i++ {
		lines = append(lines, attribution.LineAttribution{Line: i, Source: attribution.SourceAI, EditID: "e1", SessionID: "s1", PromptIndex: intPtr(0)})
	}
	attr.AddFile(attribution.FileAttribution{Path: "huge.go", Lines: lines})

	if _, err := s.Put(sha, attr, false); err == nil {
		t.Error("expected oversized payload to be rejected")
	}
}

func TestPut_RejectsInvalidAttribution(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	attr := attribution.New(sha)
	attr.AddFile(attribution.FileAttribution{
		Path: "bad.go",
		Lines: []attribution.LineAttribution{
			{Line: 2, Source: attribution.SourceHuman},
			{Line: 1, Source: attribution.SourceHuman},
		},
	})

	if _, err := s.Put(sha, attr, false); err == nil {
		t.Error("expected validation error for non-increasing lines")
	}
}

func TestPut_WarnSizeBoundary(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha := headSHA(t, dir)
	s := New(dir)

	build := func(padLen int) *attribution.AIAttribution {
		attr := attribution.New(sha)
		attr.Prompts = []attribution.PromptRecord{{Index: 0, Text: strings.Repeat("a", padLen)}}
		lines := []attribution.LineAttribution{{Line: 1, Source: attribution.SourceOriginal}}
		attr.AddFile(attribution.FileAttribution{Path: "main.go", Lines: lines, Summary: attribution.Summarize(lines)})
		return attr
	}

	base, err := json.Marshal(build(0))
	if err != nil {
		t.Fatal(err)
	}
	pad := warnSize - len(base)
	if pad < 1 {
		t.Fatalf("base payload of %d bytes leaves no room to calibrate to warnSize", len(base))
	}

	below := build(pad - 1)
	belowData, err := json.Marshal(below)
	if err != nil {
		t.Fatal(err)
	}
	if len(belowData) != warnSize-1 {
		t.Fatalf("calibration failed: got %d bytes, want %d", len(belowData), warnSize-1)
	}
	if warning, err := s.Put(sha, below, false); err != nil || warning != nil {
		t.Errorf("Put at warnSize-1: warning=%v err=%v, want no warning", warning, err)
	}

	at := build(pad)
	atData, err := json.Marshal(at)
	if err != nil {
		t.Fatal(err)
	}
	if len(atData) != warnSize {
		t.Fatalf("calibration failed: got %d bytes, want %d", len(atData), warnSize)
	}
	if warning, err := s.Put(sha, at, true); err != nil || warning == nil {
		t.Errorf("Put at exactly warnSize: warning=%v err=%v, want a warning", warning, err)
	}
}

func TestCopyAndRemoveAndList(t *testing.T) {
	dir := setupGitRepo(t, "main.go", "package main\n")
	sha1 := headSHA(t, dir)
	s := New(dir)

	if _, err := s.Put(sha1, sampleAttribution(sha1), false); err != nil {
		t.Fatal(err)
	}

	writeAndCommit(t, dir, "main.go", "package main\n\nfunc main() {}\n", "second commit")
	sha2 := headSHA(t, dir)

	if err := s.Copy(sha1, sha2); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if _, ok, _ := s.Get(sha2); !ok {
		t.Error("expected note copied to sha2")
	}

	shas, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(shas) != 2 {
		t.Errorf("List() = %v, want 2 entries", shas)
	}

	if err := s.Remove(sha1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(sha1); ok {
		t.Error("expected note removed from sha1")
	}
}

// writeAndCommit mirrors internal/git's test helper of the same name.
func writeAndCommit(t *testing.T, dir, fileName, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=Test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("add", fileName)
	run("commit", "-m", message)
}
