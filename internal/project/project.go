// Package project resolves the filesystem layout whogitit uses inside a
// git repository: the real .git directory (worktree-aware), and the handful
// of well-known paths under it where transient state lives between a commit
// and its finalization.
package project

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Paths holds all relevant directories for a whogitit-enabled repo.
type Paths struct {
	Root        string // working tree root
	GitDir      string // actual .git directory (resolved for worktrees)
	StateDir    string // <gitdir>/whogitit/
	PendingFile string // <gitdir>/whogitit/pending.json
	AuditLog    string // <gitdir>/whogitit/audit.log
	CacheDB     string // <gitdir>/whogitit/cache.db
	DiagLog     string // <gitdir>/whogitit/diagnostics.log
}

// FindRoot returns the git project root, preferring CLAUDE_PROJECT_DIR if set
// (hook invocations run with cwd set by the host tool, not necessarily the
// repo root).
func FindRoot() (string, error) {
	if dir := os.Getenv("CLAUDE_PROJECT_DIR"); dir != "" {
		return dir, nil
	}
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// NewPaths constructs all path constants from a project root.
func NewPaths(root string) Paths {
	gitDir := resolveGitDir(root)
	stateDir := filepath.Join(gitDir, "whogitit")
	return Paths{
		Root:        root,
		GitDir:      gitDir,
		StateDir:    stateDir,
		PendingFile: filepath.Join(stateDir, "pending.json"),
		AuditLog:    filepath.Join(stateDir, "audit.log"),
		CacheDB:     filepath.Join(stateDir, "cache.db"),
		DiagLog:     filepath.Join(stateDir, "diagnostics.log"),
	}
}

// EnsureStateDir creates the state directory if it does not already exist.
func (p Paths) EnsureStateDir() error {
	return os.MkdirAll(p.StateDir, 0o755)
}

// resolveGitDir returns the actual .git directory, handling worktrees
// where .git is a file containing "gitdir: <path>".
func resolveGitDir(root string) string {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Lstat(dotGit)
	if err != nil {
		return dotGit
	}
	if info.IsDir() {
		return dotGit
	}
	// .git is a file (worktree) — read the gitdir pointer
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return dotGit
	}
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "gitdir: ") {
		return dotGit
	}
	gitdir := strings.TrimPrefix(content, "gitdir: ")
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(root, gitdir)
	}
	return gitdir
}
