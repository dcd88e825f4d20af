// Package blamejoin implements the Blame Join: combining a current
// `git blame` of a file with the attribution notes stored on the commits
// blame points at, to answer "who/what wrote this line, and was it AI."
package blamejoin

import (
	"fmt"
	"sort"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dotsetlabs/whogitit/internal/index"
	"github.com/dotsetlabs/whogitit/internal/store"
)

// Line is one line of a joined blame result.
type Line struct {
	Number      int
	SHA         string
	Source      attribution.LineSource
	EditID      string
	SessionID   string
	PromptIndex *int
	// Stale is true when the line number blame reports for this commit
	// didn't have a matching line in that commit's stored attribution, so
	// the line was resolved by content match instead or, with no content
	// match either, left Unknown.
	Stale bool
}

// Joiner joins git blame output against attribution notes in one repo. A
// non-nil Index is consulted first (cache-aside) so a File/Range join
// doesn't have to re-read and re-parse a note already seen; a miss falls
// back to Store and writes the result through to Index for next time.
type Joiner struct {
	Root  string
	Store *store.Store
	Index *index.DB
}

// New returns a Joiner rooted at root, with no index cache attached. Use
// NewWithIndex to attach one.
func New(root string) *Joiner {
	return &Joiner{Root: root, Store: store.New(root)}
}

// NewWithIndex returns a Joiner that consults db before falling back to
// the attribution store on every lookup.
func NewWithIndex(root string, db *index.DB) *Joiner {
	return &Joiner{Root: root, Store: store.New(root), Index: db}
}

// File joins the full blame of file against stored attribution, one Line
// per line of the file's current content.
func (j *Joiner) File(file string) ([]Line, error) {
	blame, err := git.BlameFile(j.Root, file)
	if err != nil {
		return nil, fmt.Errorf("blame %s: %w", file, err)
	}
	return j.join(file, blame)
}

// Range joins blame for lines [start, end] of file.
func (j *Joiner) Range(file string, start, end int) ([]Line, error) {
	blame, err := git.BlameRange(j.Root, file, start, end)
	if err != nil {
		return nil, fmt.Errorf("blame -L %d,%d %s: %w", start, end, file, err)
	}
	return j.join(file, blame)
}

func (j *Joiner) join(file string, blame map[int]git.BlameEntry) ([]Line, error) {
	result := make([]Line, 0, len(blame))

	// fileAttrCache holds, per commit SHA, the joined rows for this one
	// file — sourced from the index cache when present, else the store
	// (with a write-through back into the index so the next File/Range
	// call on this commit+file skips the note entirely).
	fileAttrCache := map[string][]index.Row{}
	missCache := map[string]bool{}
	getRows := func(sha string) ([]index.Row, error) {
		if rows, ok := fileAttrCache[sha]; ok {
			return rows, nil
		}
		if missCache[sha] {
			return nil, nil
		}

		if j.Index != nil {
			indexed, err := j.Index.Indexed(sha)
			if err != nil {
				return nil, err
			}
			if indexed {
				rows, err := j.Index.Lookup(sha, file)
				if err != nil {
					return nil, err
				}
				fileAttrCache[sha] = rows
				return rows, nil
			}
		}

		attr, ok, err := j.Store.Get(sha)
		if err != nil {
			return nil, err
		}
		if !ok {
			missCache[sha] = true
			return nil, nil
		}
		if j.Index != nil {
			if err := j.Index.Index(attr); err != nil {
				return nil, fmt.Errorf("write through to index cache: %w", err)
			}
		}

		fa, ok := attr.FileAttributionFor(file)
		if !ok {
			fileAttrCache[sha] = nil
			return nil, nil
		}
		rows := make([]index.Row, len(fa.Lines))
		for i, la := range fa.Lines {
			rows[i] = index.Row{CommitSHA: sha, Path: file, Line: la.Line, Source: la.Source, EditID: la.EditID, SessionID: la.SessionID, PromptIndex: la.PromptIndex, Content: la.Content}
		}
		fileAttrCache[sha] = rows
		return rows, nil
	}

	lineNums := make([]int, 0, len(blame))
	for n := range blame {
		lineNums = append(lineNums, n)
	}
	sort.Ints(lineNums)

	for _, n := range lineNums {
		entry := blame[n]
		line := Line{Number: n, SHA: entry.SHA}

		if entry.IsUncommitted() {
			line.Source = attribution.SourceHuman
			result = append(result, line)
			continue
		}

		rows, err := getRows(entry.SHA)
		if err != nil {
			return nil, fmt.Errorf("load attribution for %s: %w", entry.SHA, err)
		}
		if rows == nil {
			line.Source = attribution.SourceUnknown
			result = append(result, line)
			continue
		}

		var matched *index.Row
		for i := range rows {
			if rows[i].Line == entry.OrigLine {
				matched = &rows[i]
				break
			}
		}

		if matched == nil {
			// blame's original-line index doesn't line up with what the
			// attribution note recorded for this file (the note predates
			// a later rewrite of that commit, or line counts drifted).
			// Fall back to matching by the line's own text, preferring the
			// row with the earliest edit_id among ties.
			matched = bestContentMatch(rows, entry.Content)
		}

		if matched != nil {
			line.Source = matched.Source
			line.EditID = matched.EditID
			line.SessionID = matched.SessionID
			line.PromptIndex = matched.PromptIndex
			line.Stale = matched.Line != entry.OrigLine
		} else {
			line.Source = attribution.SourceUnknown
			line.Stale = true
		}
		result = append(result, line)
	}

	return result, nil
}

// bestContentMatch scans rows for ones whose stored Content exactly equals
// content and returns the one with the lexicographically earliest EditID.
// An empty content never matches, since a blank line would otherwise match
// every other blank line in the file. Returns nil when rows has no match.
func bestContentMatch(rows []index.Row, content string) *index.Row {
	if content == "" {
		return nil
	}
	var best *index.Row
	for i := range rows {
		if rows[i].Content != content {
			continue
		}
		if best == nil || rows[i].EditID < best.EditID {
			best = &rows[i]
		}
	}
	return best
}
