// Package textutil holds small text-shaping helpers shared by the capture
// and query paths: content hashing, path relativization, and compact
// human-readable change summaries.
package textutil

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"
)

// ContentHash produces a 16-char hex hash of whitespace-normalized text.
// Used to detect when a file's content at commit time matches a snapshot
// taken earlier, without being sensitive to incidental whitespace drift.
func ContentHash(text string) string {
	if text == "" {
		return ""
	}
	normalized := strings.Join(strings.Fields(text), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)[:16]
}

// RelativizePath converts an absolute path to a project-relative path.
// Always uses forward slashes for portability across stored records.
func RelativizePath(absPath, projectDir string) string {
	if absPath == "" {
		return ""
	}
	rel, err := filepath.Rel(projectDir, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}

// CompactChangeSummary generates a short human-readable summary of an edit,
// eliding the common prefix between old and new content so reviewers see
// what changed rather than re-reading the unchanged surrounding text.
func CompactChangeSummary(oldStr, newStr string) string {
	const maxLen = 200

	if oldStr == "" && newStr != "" {
		preview := strings.ReplaceAll(newStr, "\n", " ")
		if len(preview) > maxLen {
			preview = preview[:maxLen]
		}
		return "added: " + preview
	}

	if oldStr != "" && newStr == "" {
		preview := strings.ReplaceAll(oldStr, "\n", " ")
		if len(preview) > maxLen {
			preview = preview[:maxLen]
		}
		return "removed: " + preview
	}

	oldFlat := strings.TrimSpace(strings.ReplaceAll(oldStr, "\n", " "))
	newFlat := strings.TrimSpace(strings.ReplaceAll(newStr, "\n", " "))

	common := 0
	minLen := len(oldFlat)
	if len(newFlat) < minLen {
		minLen = len(newFlat)
	}
	for i := 0; i < minLen; i++ {
		if oldFlat[i] == newFlat[i] {
			common++
		} else {
			break
		}
	}

	var oldDisplay, newDisplay string
	if common > 20 {
		offset := common - 10
		if offset < 0 {
			offset = 0
		}
		oldDisplay = "…" + oldFlat[offset:]
		newDisplay = "…" + newFlat[offset:]
	} else {
		oldDisplay = oldFlat
		newDisplay = newFlat
	}

	if len(oldDisplay) > maxLen {
		oldDisplay = oldDisplay[:maxLen] + "…"
	}
	if len(newDisplay) > maxLen {
		newDisplay = newDisplay[:maxLen] + "…"
	}

	return oldDisplay + " → " + newDisplay
}
