package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// NotesRef is the dedicated notes ref whogitit uses. Kept separate from
// refs/notes/commits so a project's existing code-review notes are never
// touched.
const NotesRef = "refs/notes/whogitit"

// AddNote attaches content as the note on commit sha, overwriting any note
// already present. Notes are content-addressed blobs; writing is a single
// porcelain call, no working-tree interaction.
func AddNote(root, sha, content string) error {
	cmd := exec.Command("git", "notes", "--ref="+NotesRef, "add", "-f", "-F", "-", sha)
	cmd.Dir = root
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git notes add %s: %w: %s", sha, err, stderr.String())
	}
	return nil
}

// ShowNote returns the note content attached to sha, or "" with a nil error
// if no note exists.
func ShowNote(root, sha string) (string, error) {
	cmd := exec.Command("git", "notes", "--ref="+NotesRef, "show", sha)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", fmt.Errorf("git notes show %s: %w", sha, err)
	}
	return string(out), nil
}

// CopyNote copies the note from one commit to another, used when history
// rewriting produces a new SHA for a commit that already carries an
// attribution note. Succeeds as a no-op if fromSHA has no note.
func CopyNote(root, fromSHA, toSHA string) error {
	existing, err := ShowNote(root, fromSHA)
	if err != nil {
		return err
	}
	if existing == "" {
		return nil
	}
	return AddNote(root, toSHA, existing)
}

// RemoveNote deletes the note on sha, if any.
func RemoveNote(root, sha string) error {
	cmd := exec.Command("git", "notes", "--ref="+NotesRef, "remove", "--ignore-missing", sha)
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git notes remove %s: %w: %s", sha, err, stderr.String())
	}
	return nil
}

// ListNoted returns the commit SHAs that currently carry a whogitit note.
func ListNoted(root string) ([]string, error) {
	cmd := exec.Command("git", "notes", "--ref="+NotesRef, "list")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() != 0 && len(out) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("git notes list: %w", err)
	}
	var shas []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		shas = append(shas, fields[1])
	}
	return shas, nil
}

// RevListAncestors returns the SHAs reachable from ref, newest first,
// used by the retention engine's protected-set computation.
func RevListAncestors(root, ref string) ([]string, error) {
	cmd := exec.Command("git", "rev-list", ref)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-list %s: %w", ref, err)
	}
	var shas []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			shas = append(shas, line)
		}
	}
	return shas, nil
}

// CommitTimestamp returns the author date of sha as a Unix timestamp.
func CommitTimestamp(root, sha string) (int64, error) {
	cmd := exec.Command("git", "show", "-s", "--format=%at", sha)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("git show %s: %w", sha, err)
	}
	var ts int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &ts); err != nil {
		return 0, fmt.Errorf("parse commit timestamp %s: %w", sha, err)
	}
	return ts, nil
}

// AllRefs returns every ref (branches and tags) in the repository, used to
// compute the retention engine's reachability set.
func AllRefs(root string) ([]string, error) {
	cmd := exec.Command("git", "for-each-ref", "--format=%(refname)")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w", err)
	}
	var refs []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			refs = append(refs, line)
		}
	}
	return refs, nil
}
