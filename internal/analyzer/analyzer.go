// Package analyzer implements the three-way attribution analyzer: given a
// file's content before any AI involvement (O), the chain of
// snapshots an AI edit sequence produced (A, advancing step by step), and
// the content as finally committed (F), it reconciles the three into a
// per-line FileAttribution.
//
// Line-level diffing is done with sergi/go-diff's line-mode diff (hash
// each line to a rune, diff the rune strings, map back) rather than a
// hand-rolled LCS; it gives the same result in better than quadratic time
// on the common case of small, localized edits.
package analyzer

import (
	"strings"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// similarityThreshold (τ) is the minimum line-similarity ratio for a human
// edit on top of an AI line to still count as a modification of that line
// (ai_modified) rather than a wholesale human replacement.
const similarityThreshold = 0.6

// largeFileLineProduct guards against quadratic blowup: beyond this many
// (oldLines × newLines), skip fine-grained diffing: transform attributes
// the entire new content to the acting party for that step, and
// reconcileFinal marks every committed line unknown.
const largeFileLineProduct = 25_000_000

var dmp = diffmatchpatch.New()

// Step is one point in the AI edit chain for a single file: the content
// before the step, the content after, and which edit/session/prompt
// produced it.
type Step struct {
	Before      string
	After       string
	EditID      string
	SessionID   string
	PromptIndex int
}

// Attribute reconciles original content, an ordered chain of AI edit
// steps, and the final committed content into a FileAttribution.
func Attribute(path, original string, steps []Step, final string) attribution.FileAttribution {
	attr := initialAttribution(original)

	cumulative := original
	for _, step := range steps {
		actor := stepActor{source: attribution.SourceAI, editID: step.EditID, sessionID: step.SessionID, promptIndex: step.PromptIndex}
		attr = transform(attr, cumulative, step.After, actor)
		cumulative = step.After
	}

	attr = reconcileFinal(attr, cumulative, final)

	lines := toLineAttributions(attr, splitLines(final))
	return attribution.FileAttribution{Path: path, Lines: lines, Summary: attribution.Summarize(lines)}
}

// lineAttr is the working per-line attribution during reconciliation,
// indexed implicitly by position; line numbers are assigned once at the
// end from final position.
type lineAttr struct {
	source      attribution.LineSource
	editID      string
	sessionID   string
	promptIndex int
	hasPrompt   bool
}

// stepActor carries the actor fields assigned to every line introduced by
// one transform step.
type stepActor struct {
	source      attribution.LineSource
	editID      string
	sessionID   string
	promptIndex int
}

func (a stepActor) lineAttr() lineAttr {
	return lineAttr{source: a.source, editID: a.editID, sessionID: a.sessionID, promptIndex: a.promptIndex, hasPrompt: true}
}

func initialAttribution(content string) []lineAttr {
	lines := splitLines(content)
	attr := make([]lineAttr, len(lines))
	for i := range attr {
		attr[i] = lineAttr{source: attribution.SourceOriginal}
	}
	return attr
}

// transform walks a diff between oldText and newText, carrying forward
// attribution for matched lines and assigning the acting step's identity to
// every line only present in newText.
func transform(oldAttr []lineAttr, oldText, newText string, actor stepActor) []lineAttr {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	if len(oldLines)*len(newLines) > largeFileLineProduct {
		newAttr := make([]lineAttr, len(newLines))
		for i := range newAttr {
			newAttr[i] = actor.lineAttr()
		}
		return newAttr
	}

	diffs := lineDiff(oldText, newText)

	newAttr := make([]lineAttr, 0, len(newLines))
	oldIdx := 0
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for i := 0; i < n; i++ {
				if oldIdx < len(oldAttr) {
					newAttr = append(newAttr, oldAttr[oldIdx])
				} else {
					newAttr = append(newAttr, actor.lineAttr())
				}
				oldIdx++
			}
		case diffmatchpatch.DiffDelete:
			oldIdx += n
		case diffmatchpatch.DiffInsert:
			for i := 0; i < n; i++ {
				newAttr = append(newAttr, actor.lineAttr())
			}
		}
	}
	return newAttr
}

// reconcileFinal compares the AI-cumulative content against the final
// committed content. Lines that match exactly keep their attribution.
// Lines that were replaced are checked for similarity against the AI line
// they replaced: close enough (>= τ) and the old line was AI-sourced means
// a human tweak (ai_modified); otherwise the new line is a human line.
func reconcileFinal(cumAttr []lineAttr, cumulative, final string) []lineAttr {
	oldLines := splitLines(cumulative)
	newLines := splitLines(final)

	if len(oldLines)*len(newLines) > largeFileLineProduct {
		result := make([]lineAttr, len(newLines))
		for i := range result {
			result[i] = lineAttr{source: attribution.SourceUnknown}
		}
		return result
	}

	diffs := lineDiff(cumulative, final)

	result := make([]lineAttr, 0, len(newLines))
	oldIdx := 0
	i := 0
	for i < len(diffs) {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			n := countLines(d.Text)
			for j := 0; j < n; j++ {
				if oldIdx < len(cumAttr) {
					result = append(result, cumAttr[oldIdx])
				} else {
					result = append(result, lineAttr{source: attribution.SourceHuman})
				}
				oldIdx++
			}
			i++
		case diffmatchpatch.DiffDelete:
			delLines := splitLines(d.Text)
			delAttrs := make([]lineAttr, 0, len(delLines))
			for k := 0; k < len(delLines); k++ {
				if oldIdx < len(cumAttr) {
					delAttrs = append(delAttrs, cumAttr[oldIdx])
				} else {
					delAttrs = append(delAttrs, lineAttr{source: attribution.SourceHuman})
				}
				oldIdx++
			}
			i++
			var insLines []string
			if i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffInsert {
				insLines = splitLines(diffs[i].Text)
				i++
			}
			result = append(result, pairReplacement(delLines, delAttrs, insLines)...)
		case diffmatchpatch.DiffInsert:
			insLines := splitLines(d.Text)
			for range insLines {
				result = append(result, lineAttr{source: attribution.SourceHuman})
			}
			i++
		}
	}
	return result
}

// pairReplacement zips deleted lines (with their prior attribution) against
// the lines that replaced them, classifying each inserted line.
func pairReplacement(delLines []string, delAttrs []lineAttr, insLines []string) []lineAttr {
	result := make([]lineAttr, 0, len(insLines))
	n := len(delLines)
	if len(insLines) < n {
		n = len(insLines)
	}
	for k := 0; k < n; k++ {
		prior := delAttrs[k]
		if (prior.source == attribution.SourceAI || prior.source == attribution.SourceAIModified) &&
			similarity(delLines[k], insLines[k]) >= similarityThreshold {
			result = append(result, lineAttr{
				source:      attribution.SourceAIModified,
				editID:      prior.editID,
				sessionID:   prior.sessionID,
				promptIndex: prior.promptIndex,
				hasPrompt:   prior.hasPrompt,
			})
			continue
		}
		result = append(result, lineAttr{source: attribution.SourceHuman})
	}
	for k := n; k < len(insLines); k++ {
		result = append(result, lineAttr{source: attribution.SourceHuman})
	}
	return result
}

// similarity returns a ratio in [0,1] of how much character content two
// lines share, via Levenshtein distance over their character diff.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	return 1 - float64(dist)/float64(maxLen)
}

// lineDiff diffs oldText and newText line by line using diffmatchpatch's
// line-mode API: each distinct line is hashed to a single rune, the rune
// strings are diffed, and the result is mapped back to whole lines.
func lineDiff(oldText, newText string) []diffmatchpatch.Diff {
	aChars, bChars, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(aChars, bChars, false)
	return dmp.DiffCharsToLines(diffs, lineArray)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func countLines(text string) int {
	return len(splitLines(text))
}

// toLineAttributions assigns final 1-based line numbers and attaches each
// line's own text, since the note stores content alongside source for
// display by Query Services. Confidence is fixed at 1.0: this analyzer is
// a deterministic diff-and-threshold classifier, not a probabilistic one,
// so every line it emits is reported at full confidence.
func toLineAttributions(attr []lineAttr, finalLines []string) []attribution.LineAttribution {
	out := make([]attribution.LineAttribution, len(attr))
	for i, a := range attr {
		la := attribution.LineAttribution{
			Line:       i + 1,
			Source:     a.source,
			Confidence: 1.0,
			EditID:     a.editID,
			SessionID:  a.sessionID,
		}
		if i < len(finalLines) {
			la.Content = finalLines[i]
		}
		if a.hasPrompt {
			idx := a.promptIndex
			la.PromptIndex = &idx
		}
		out[i] = la
	}
	return out
}
