package historyrewrite

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetlabs/whogitit/internal/attribution"
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

func commit(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "add", "f.txt")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "commit", "-q", "-m", "c")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("commit: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

func TestProcess_CopiesNotes(t *testing.T) {
	dir := setupGitRepo(t)
	sha1 := commit(t, dir, "one\n")
	sha2 := commit(t, dir, "two\n")

	s := store.New(dir)
	attr := attribution.New(sha1)
	lines := []attribution.LineAttribution{{Line: 1, Source: attribution.SourceOriginal}}
	attr.AddFile(attribution.FileAttribution{Path: "f.txt", Lines: lines, Summary: attribution.Summarize(lines)})
	if _, err := s.Put(sha1, attr, false); err != nil {
		t.Fatal(err)
	}

	stream := strings.NewReader(`{"old_sha":"` + sha1 + `","new_sha":"` + sha2 + `"}` + "\n")
	results, err := Process(stream, s)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results) != 1 || results[0].Error != nil {
		t.Fatalf("results = %+v", results)
	}

	if _, ok, _ := s.Get(sha2); !ok {
		t.Error("expected note copied to new_sha")
	}
}

func TestProcess_MalformedLineDoesNotAbortStream(t *testing.T) {
	dir := setupGitRepo(t)
	sha1 := commit(t, dir, "one\n")
	sha2 := commit(t, dir, "two\n")

	s := store.New(dir)

	stream := strings.NewReader("not json\n" + `{"old_sha":"` + sha1 + `","new_sha":"` + sha2 + `"}` + "\n")
	results, err := Process(stream, s)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want 2 entries", results)
	}
	if results[0].Error == nil {
		t.Error("expected first line to report a parse error")
	}
	if results[1].Error != nil {
		t.Errorf("expected second line to succeed, got %v", results[1].Error)
	}
}
