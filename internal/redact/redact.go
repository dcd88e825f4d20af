// Package redact scrubs secret-shaped substrings out of text before it is
// persisted to a git note or audit log entry. Detection is layered: a
// Shannon-entropy heuristic catches arbitrary high-entropy tokens, and
// gitleaks' named rule catalog catches specific, recognizable credential
// formats (AWS keys, GitHub tokens, private key headers, and so on).
// Either method flags a region for redaction.
package redact

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// entropyThreshold is the minimum Shannon entropy for a candidate token to
// be treated as a secret. High enough to leave ordinary identifiers and
// prose alone, low enough to catch typical API keys and tokens.
const entropyThreshold = 4.5

var candidatePattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// Event records a single redaction, for inclusion in the redaction audit
// event: which named pattern fired, the byte range in the original text,
// and a short, safe preview rather than the secret itself.
type Event struct {
	PatternName string `json:"pattern_name"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Preview     string `json:"preview"`
}

// CustomPattern is a user-defined named regex loaded from configuration,
// supplementing the built-in catalog.
type CustomPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// Engine redacts text according to a fixed rule catalog minus any disabled
// rule names, plus any custom patterns supplied by configuration.
type Engine struct {
	detector   *detect.Detector
	custom     []CustomPattern
	useBuiltin bool
}

var (
	defaultDetector     *detect.Detector
	defaultDetectorOnce sync.Once
)

func baseDetector() *detect.Detector {
	defaultDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err == nil {
			defaultDetector = d
		}
	})
	return defaultDetector
}

// NewEngine builds an Engine with the built-in gitleaks catalog minus
// disabledRules (matched by rule ID), plus custom. When useBuiltin is false
// the gitleaks catalog and entropy heuristic are skipped entirely and only
// custom patterns fire — for operators who want redaction limited to their
// own rules.
func NewEngine(disabledRules []string, custom []CustomPattern, useBuiltin bool) *Engine {
	e := &Engine{custom: custom, useBuiltin: useBuiltin}
	if !useBuiltin {
		return e
	}

	base := baseDetector()
	if base == nil {
		return e
	}
	if len(disabledRules) == 0 {
		e.detector = base
		return e
	}

	disabled := make(map[string]bool, len(disabledRules))
	for _, r := range disabledRules {
		disabled[r] = true
	}
	filteredRules := make(map[string]config.Rule, len(base.Config.Rules))
	for id, rule := range base.Config.Rules {
		if !disabled[id] {
			filteredRules[id] = rule
		}
	}
	cfg := base.Config
	cfg.Rules = filteredRules
	d, err := detect.NewDetector(cfg)
	if err != nil {
		e.detector = base
		return e
	}
	e.detector = d
	return e
}

type region struct {
	start, end int
	pattern    string
}

// Redact scans text for secret-shaped substrings, replaces each with the
// literal "REDACTED", and returns the events describing what was removed.
// Redaction is deterministic (same input always yields the same output and
// event list) and idempotent: "REDACTED" itself is eight characters, below
// the entropy-candidate length floor and not matched by any built-in rule,
// so Redact(Redact(x)) == Redact(x).
func (e *Engine) Redact(text string) (string, []Event) {
	var regions []region

	if e.useBuiltin {
		for _, loc := range candidatePattern.FindAllStringIndex(text, -1) {
			candidate := text[loc[0]:loc[1]]
			if shannonEntropy(candidate) > entropyThreshold {
				regions = append(regions, region{loc[0], loc[1], "high_entropy"})
			}
		}
	}

	if e.detector != nil {
		for _, f := range e.detector.DetectString(text) {
			if f.Secret == "" {
				continue
			}
			searchFrom := 0
			for {
				idx := strings.Index(text[searchFrom:], f.Secret)
				if idx < 0 {
					break
				}
				abs := searchFrom + idx
				regions = append(regions, region{abs, abs + len(f.Secret), f.RuleID})
				searchFrom = abs + len(f.Secret)
			}
		}
	}

	for _, cp := range e.custom {
		for _, loc := range cp.Pattern.FindAllStringIndex(text, -1) {
			regions = append(regions, region{loc[0], loc[1], cp.Name})
		}
	}

	if len(regions) == 0 {
		return text, nil
	}

	sort.Slice(regions, func(i, j int) bool {
		if regions[i].start != regions[j].start {
			return regions[i].start < regions[j].start
		}
		return regions[i].end > regions[j].end
	})

	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	var b strings.Builder
	events := make([]Event, 0, len(merged))
	prev := 0
	for _, r := range merged {
		b.WriteString(text[prev:r.start])
		b.WriteString("REDACTED")
		events = append(events, Event{
			PatternName: r.pattern,
			Start:       r.start,
			End:         r.end,
			Preview:     preview(text[r.start:r.end]),
		})
		prev = r.end
	}
	b.WriteString(text[prev:])
	return b.String(), events
}

// preview returns a short, non-reversible hint at the redacted content:
// the first few characters, never the whole secret.
func preview(s string) string {
	const n = 4
	runes := []rune(s)
	if len(runes) <= n {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:n]) + "…"
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
