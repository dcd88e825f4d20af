package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Author returns the git user.name config value.
func Author() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err != nil {
		return "unknown"
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return "unknown"
	}
	return name
}

// RevParseTopLevel returns the git repo root.
func RevParseTopLevel() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// BlameInfo holds parsed git blame data for a single line.
type BlameInfo struct {
	SHA     string
	Author  string
	Summary string
}

// BlameForLine runs git blame --porcelain for a single line.
func BlameForLine(projectRoot, filePath string, line int) (*BlameInfo, error) {
	cmd := exec.Command("git", "blame", "-L", fmt.Sprintf("%d,%d", line, line), "--porcelain", filePath)
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	info := &BlameInfo{}
	for _, bline := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(bline, "author ") {
			info.Author = bline[7:]
		} else if strings.HasPrefix(bline, "summary ") {
			info.Summary = bline[8:]
		} else if info.SHA == "" && strings.Contains(bline, " ") {
			parts := strings.Fields(bline)
			if len(parts) >= 1 && len(parts[0]) == 40 {
				info.SHA = parts[0]
			}
		}
	}

	if info.SHA == "" && info.Author == "" {
		return nil, nil
	}
	return info, nil
}

// ShowFile retrieves file content at a given ref (e.g., "HEAD").
// Returns empty string and error for new files or other errors.
func ShowFile(root, ref, file string) (string, error) {
	cmd := exec.Command("git", "show", ref+":"+file)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RevParseHEAD returns the commit SHA at HEAD, for callers (e.g. a
// post-commit hook) that were not handed a SHA on stdin.
func RevParseHEAD(root string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// StageFile runs git add for a file.
func StageFile(projectRoot, relPath string) error {
	cmd := exec.Command("git", "add", relPath)
	cmd.Dir = projectRoot
	return cmd.Run()
}

// Diff returns the unified diff between base and head as raw bytes,
// suitable for gitdiff.Parse.
func Diff(root, base, head string) ([]byte, error) {
	cmd := exec.Command("git", "diff", base, head)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff %s %s: %w", base, head, err)
	}
	return out, nil
}

// DirtyFiles lists every file in root's working tree that is modified,
// staged, or untracked per `git status --porcelain`, relative to root. A
// rename shows up as its destination path only, since that's the path that
// exists to be read and snapshotted. Deletions are excluded: there is no
// content left to snapshot for them.
func DirtyFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status --porcelain: %w", err)
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < 4 {
			continue
		}
		status := line[:2]
		path := line[3:]
		if strings.Contains(status, "D") {
			continue
		}
		if arrow := strings.Index(path, " -> "); arrow >= 0 {
			path = path[arrow+4:]
		}
		path = strings.Trim(path, `"`)
		files = append(files, path)
	}
	return files, nil
}

// ChangedFiles lists the paths that differ between base and head,
// excluding deletions (a deleted file has nothing left at head to blame).
func ChangedFiles(root, base, head string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-status", base, head)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status %s %s: %w", base, head, err)
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status, path := fields[0], fields[len(fields)-1]
		if strings.HasPrefix(status, "D") {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}
