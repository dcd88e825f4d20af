// Package query implements the Query Services contracts: File Blame,
// Commit Show, Prompt At Line, Range Summary, Diff Annotator, and Export.
// These are library functions only — there is no CLI surface in this
// module; an external command-line layer can call these directly and wrap
// the results in its own `{schema_version: 1, schema: "<name>.v1", ...}`
// envelope.
package query

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/dotsetlabs/whogitit/internal/blamejoin"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dotsetlabs/whogitit/internal/index"
	"github.com/dotsetlabs/whogitit/internal/store"
	"github.com/gitleaks/go-gitdiff/gitdiff"
)

// Filter restricts File Blame results to a subset of line sources.
type Filter int

const (
	FilterNone Filter = iota
	FilterAIOnly
	FilterHumanOnly
)

// Service bundles the store and blame join needed to answer queries
// against one repository.
type Service struct {
	Root      string
	Store     *store.Store
	BlameJoin *blamejoin.Joiner
}

// New returns a Service rooted at root.
func New(root string) *Service {
	return &Service{Root: root, Store: store.New(root), BlameJoin: blamejoin.New(root)}
}

// NewWithIndex returns a Service whose Blame Join consults db as a
// cache-aside in front of the notes store, so a repeated File Blame or
// Range Summary against the same commit+file skips the note parse.
func NewWithIndex(root string, db *index.DB) *Service {
	return &Service{Root: root, Store: store.New(root), BlameJoin: blamejoin.NewWithIndex(root, db)}
}

// FileBlame answers the File Blame query: the Blame Join result for path,
// optionally filtered to ai-only or human-only lines.
func (s *Service) FileBlame(path string, filter Filter) ([]blamejoin.Line, error) {
	lines, err := s.BlameJoin.File(path)
	if err != nil {
		return nil, err
	}
	if filter == FilterNone {
		return lines, nil
	}
	out := make([]blamejoin.Line, 0, len(lines))
	for _, l := range lines {
		isAI := l.Source == attribution.SourceAI || l.Source == attribution.SourceAIModified
		if filter == FilterAIOnly && isAI {
			out = append(out, l)
		}
		if filter == FilterHumanOnly && !isAI {
			out = append(out, l)
		}
	}
	return out, nil
}

// CommitShowResult is the Commit Show envelope: either the commit's
// AIAttribution, or HasAttribution=false when no note exists.
type CommitShowResult struct {
	HasAttribution bool                     `json:"has_attribution"`
	Commit         string                   `json:"commit"`
	Attribution    *attribution.AIAttribution `json:"attribution,omitempty"`
}

// CommitShow answers the Commit Show query.
func (s *Service) CommitShow(commit string) (CommitShowResult, error) {
	attr, ok, err := s.Store.Get(commit)
	if err != nil {
		return CommitShowResult{}, fmt.Errorf("query: commit show %s: %w", commit, err)
	}
	if !ok {
		return CommitShowResult{HasAttribution: false, Commit: commit}, nil
	}
	return CommitShowResult{HasAttribution: true, Commit: commit, Attribution: attr}, nil
}

// PromptAtLine answers the Prompt At Line query: the PromptRecord
// referenced by the line at path:line's attribution, via whichever
// commit's blame currently points at it.
func (s *Service) PromptAtLine(path string, line int) (attribution.PromptRecord, bool, error) {
	lines, err := s.BlameJoin.Range(path, line, line)
	if err != nil {
		return attribution.PromptRecord{}, false, err
	}
	if len(lines) == 0 {
		return attribution.PromptRecord{}, false, nil
	}
	l := lines[0]
	if l.PromptIndex == nil {
		return attribution.PromptRecord{}, false, nil
	}

	attr, ok, err := s.Store.Get(l.SHA)
	if err != nil {
		return attribution.PromptRecord{}, false, fmt.Errorf("prompt at line: load attribution for %s: %w", l.SHA, err)
	}
	if !ok {
		return attribution.PromptRecord{}, false, nil
	}
	return attr.PromptAt(*l.PromptIndex)
}

// FileCounts tallies line sources for one file in a Range Summary.
type FileCounts struct {
	Path      string
	AI        int
	AIModified int
	Human     int
}

// RangeSummary answers the Range Summary query: for every file changed in
// (base, head], counts of added lines attributed to AI / AI-modified /
// Human, plus an overall AI-percentage of additions (not of all lines in
// the file — only the lines the diff actually introduces).
func (s *Service) RangeSummary(base, head string) ([]FileCounts, float64, error) {
	diff, err := git.Diff(s.Root, base, head)
	if err != nil {
		return nil, 0, fmt.Errorf("query: range summary %s..%s: %w", base, head, err)
	}
	files, _, err := gitdiff.Parse(bytes.NewReader(diff))
	if err != nil {
		return nil, 0, fmt.Errorf("query: range summary parse diff: %w", err)
	}

	byPath := map[string]*FileCounts{}
	order := []string{}
	var totalAdds, totalAI int

	for _, f := range files {
		if f.IsDelete {
			continue
		}
		path := f.NewName
		fc, ok := byPath[path]
		if !ok {
			fc = &FileCounts{Path: path}
			byPath[path] = fc
			order = append(order, path)
		}
		for _, frag := range f.TextFragments {
			lineNum := int(frag.NewPosition)
			for _, ln := range frag.Lines {
				switch ln.Op {
				case gitdiff.OpAdd:
					source := attribution.SourceUnknown
					if joined, err := s.BlameJoin.Range(path, lineNum, lineNum); err == nil && len(joined) == 1 {
						source = joined[0].Source
					}
					switch source {
					case attribution.SourceAI:
						fc.AI++
						totalAI++
					case attribution.SourceAIModified:
						fc.AIModified++
						totalAI++
					case attribution.SourceHuman:
						fc.Human++
					}
					totalAdds++
					lineNum++
				case gitdiff.OpContext:
					lineNum++
				}
			}
		}
	}

	counts := make([]FileCounts, 0, len(order))
	for _, path := range order {
		counts = append(counts, *byPath[path])
	}

	var pct float64
	if totalAdds > 0 {
		pct = float64(totalAI) / float64(totalAdds)
	}
	return counts, pct, nil
}

// AnnotatedLine is one added line of a diff, tagged with its source.
type AnnotatedLine struct {
	File   string
	Line   int
	Text   string
	Source attribution.LineSource
}

// AnnotateDiff consumes a unified-diff stream (e.g. `git show <sha>`) and
// annotates each added line with its source, by consulting the Blame
// Join for the destination revision and line number.
func (s *Service) AnnotateDiff(diff []byte) ([]AnnotatedLine, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(diff))
	if err != nil {
		return nil, fmt.Errorf("query: parse diff: %w", err)
	}

	var out []AnnotatedLine
	for _, f := range files {
		if f.IsDelete {
			continue
		}
		path := f.NewName
		for _, frag := range f.TextFragments {
			lineNum := int(frag.NewPosition)
			for _, ln := range frag.Lines {
				switch ln.Op {
				case gitdiff.OpAdd:
					source := attribution.SourceUnknown
					if joined, err := s.BlameJoin.Range(path, lineNum, lineNum); err == nil && len(joined) == 1 {
						source = joined[0].Source
					}
					out = append(out, AnnotatedLine{File: path, Line: lineNum, Text: ln.Line, Source: source})
					lineNum++
				case gitdiff.OpContext:
					lineNum++
				}
			}
		}
	}
	return out, nil
}

// ExportResult is the Export query's versioned record.
type ExportResult struct {
	ExportVersion int                   `json:"export_version"`
	ExportedAt    time.Time             `json:"exported_at"`
	DateRange     [2]time.Time          `json:"date_range"`
	Commits       []CommitShowResult    `json:"commits"`
	Summary       map[string]int        `json:"summary"`
}

const exportVersion = 1

// promptTruncateBytes is the byte limit for full_prompts=false exports:
// the leading portion only, truncated Unicode-safe.
const promptTruncateBytes = 2000

// Export answers the Export query: every noted commit between since
// (00:00:00 that day) and until (23:59:59 that day), inclusive.
func (s *Service) Export(since, until time.Time, fullPrompts bool) (ExportResult, error) {
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())
	until = time.Date(until.Year(), until.Month(), until.Day(), 23, 59, 59, 0, until.Location())

	shas, err := s.Store.List()
	if err != nil {
		return ExportResult{}, fmt.Errorf("query: export list: %w", err)
	}

	summary := map[string]int{"original": 0, "ai": 0, "ai_modified": 0, "human": 0, "unknown": 0}
	var commits []CommitShowResult
	for _, sha := range shas {
		ts, err := git.CommitTimestamp(s.Root, sha)
		if err != nil {
			continue
		}
		t := time.Unix(ts, 0).UTC()
		if t.Before(since) || t.After(until) {
			continue
		}
		res, err := s.CommitShow(sha)
		if err != nil || !res.HasAttribution {
			continue
		}
		if !fullPrompts {
			truncatePrompts(res.Attribution)
		}
		for _, fa := range res.Attribution.Files {
			for _, l := range fa.Lines {
				summary[string(l.Source)]++
			}
		}
		commits = append(commits, res)
	}

	return ExportResult{
		ExportVersion: exportVersion,
		ExportedAt:    time.Now().UTC(),
		DateRange:     [2]time.Time{since, until},
		Commits:       commits,
		Summary:       summary,
	}, nil
}

// truncatePrompts caps every prompt's text at promptTruncateBytes, for an
// Export called with full_prompts=false: the commit's attribution shape
// is otherwise unchanged, so a consumer wanting the full prompt text still
// knows which commit to re-query with full_prompts=true.
func truncatePrompts(attr *attribution.AIAttribution) {
	for i := range attr.Prompts {
		attr.Prompts[i].Text = truncateUnicodeSafe(attr.Prompts[i].Text, promptTruncateBytes)
	}
}

// truncateUnicodeSafe truncates s to at most n bytes without splitting a
// UTF-8 code point.
func truncateUnicodeSafe(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := s[:n]
	for len(b) > 0 {
		r, size := utf8.DecodeLastRuneInString(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return strings.TrimSuffix(b, string(utf8.RuneError))
}
