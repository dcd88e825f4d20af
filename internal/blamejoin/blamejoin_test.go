package blamejoin

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/dotsetlabs/whogitit/internal/index"
	"github.com/dotsetlabs/whogitit/internal/store"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@test.com")
	return dir
}

func commitFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "add", name)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "commit", "-q", "-m", "commit "+name)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

func TestFile_JoinsAttributedLines(t *testing.T) {
	dir := setupGitRepo(t)
	sha := commitFile(t, dir, "main.go", "package main\nfunc main() {}\n")

	intPtr := func(i int) *int { return &i }

	s := store.New(dir)
	attr := attribution.New(sha)
	attr.Prompts = []attribution.PromptRecord{{Index: 0, Text: "add a function"}}
	fileLines := []attribution.LineAttribution{
		{Line: 1, Source: attribution.SourceOriginal},
		{Line: 2, Source: attribution.SourceAI, EditID: "e1", SessionID: "s1", PromptIndex: intPtr(0)},
	}
	attr.AddFile(attribution.FileAttribution{Path: "main.go", Lines: fileLines, Summary: attribution.Summarize(fileLines)})
	if _, err := s.Put(sha, attr, false); err != nil {
		t.Fatal(err)
	}

	j := New(dir)
	lines, err := j.File("main.go")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1].Source != attribution.SourceAI || lines[1].EditID != "e1" {
		t.Errorf("line 2 = %+v, want ai/e1", lines[1])
	}
	if lines[1].PromptIndex == nil || *lines[1].PromptIndex != 0 {
		t.Errorf("line 2 PromptIndex = %v, want pointer to 0", lines[1].PromptIndex)
	}
	if lines[0].Source != attribution.SourceOriginal {
		t.Errorf("line 1 = %+v, want original", lines[0])
	}
}

func TestFile_LineNumberDrift_FallsBackToContentMatch(t *testing.T) {
	dir := setupGitRepo(t)
	sha := commitFile(t, dir, "main.go", "package main\nfunc main() {}\n")

	intPtr := func(i int) *int { return &i }

	s := store.New(dir)
	attr := attribution.New(sha)
	attr.Prompts = []attribution.PromptRecord{{Index: 0, Text: "add a function"}}
	// Line numbers are shifted by one relative to what blame will report, as
	// if this note predates a later rewrite of the commit it's attached to.
	// Content still matches verbatim.
	fileLines := []attribution.LineAttribution{
		{Line: 9, Source: attribution.SourceOriginal, Content: "package main"},
		{Line: 10, Source: attribution.SourceAI, EditID: "e1", SessionID: "s1", PromptIndex: intPtr(0), Content: "func main() {}"},
	}
	attr.AddFile(attribution.FileAttribution{Path: "main.go", Lines: fileLines, Summary: attribution.Summarize(fileLines)})
	if _, err := s.Put(sha, attr, false); err != nil {
		t.Fatal(err)
	}

	j := New(dir)
	lines, err := j.File("main.go")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1].Source != attribution.SourceAI || lines[1].EditID != "e1" {
		t.Errorf("line 2 = %+v, want ai/e1 via content fallback", lines[1])
	}
	if !lines[1].Stale {
		t.Errorf("line 2 should be marked stale when resolved by content match")
	}
	if lines[0].Source != attribution.SourceOriginal || !lines[0].Stale {
		t.Errorf("line 1 = %+v, want original/stale via content fallback", lines[0])
	}
}

func TestFile_NoContentOrLineMatch_IsUnknown(t *testing.T) {
	dir := setupGitRepo(t)
	sha := commitFile(t, dir, "main.go", "package main\nfunc main() {}\n")

	s := store.New(dir)
	attr := attribution.New(sha)
	fileLines := []attribution.LineAttribution{
		{Line: 9, Source: attribution.SourceOriginal, Content: "totally different text"},
	}
	attr.AddFile(attribution.FileAttribution{Path: "main.go", Lines: fileLines, Summary: attribution.Summarize(fileLines)})
	if _, err := s.Put(sha, attr, false); err != nil {
		t.Fatal(err)
	}

	j := New(dir)
	lines, err := j.File("main.go")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range lines {
		if l.Source != attribution.SourceUnknown || !l.Stale {
			t.Errorf("line %d = %+v, want unknown/stale", l.Number, l)
		}
	}
}

func TestBestContentMatch_PrefersEarliestEditID(t *testing.T) {
	rows := []index.Row{
		{Line: 1, Content: "x", EditID: "e2"},
		{Line: 2, Content: "x", EditID: "e1"},
		{Line: 3, Content: "y", EditID: "e3"},
	}
	got := bestContentMatch(rows, "x")
	if got == nil || got.EditID != "e1" {
		t.Errorf("bestContentMatch = %+v, want row with edit_id e1", got)
	}
	if bestContentMatch(rows, "") != nil {
		t.Error("bestContentMatch(\"\") should never match")
	}
	if bestContentMatch(rows, "nope") != nil {
		t.Error("bestContentMatch should return nil when nothing matches")
	}
}

func TestFile_NoAttributionNote_IsUnknown(t *testing.T) {
	dir := setupGitRepo(t)
	commitFile(t, dir, "main.go", "package main\n")

	j := New(dir)
	lines, err := j.File("main.go")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range lines {
		if l.Source != attribution.SourceUnknown {
			t.Errorf("line %d = %+v, want unknown", l.Number, l)
		}
	}
}
