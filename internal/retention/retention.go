// Package retention implements the Retention Engine: deciding which
// attribution notes are old enough and unprotected enough to purge,
// dry-run by default, with execution emitting a retention_apply audit
// event.
package retention

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dotsetlabs/whogitit/internal/audit"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dotsetlabs/whogitit/internal/store"
)

// Policy is the retention configuration (mirrors config.Retention).
type Policy struct {
	MaxAgeDays *int
	MinCommits int
	RetainRefs []string
}

// Candidate is one commit the policy would purge.
type Candidate struct {
	SHA       string
	Timestamp int64
}

// Engine evaluates and applies a Policy against one repository's notes.
type Engine struct {
	Root  string
	Store *store.Store
	Audit *audit.Logger // nil disables audit logging, e.g. in dry-run-only callers
}

// New returns an Engine rooted at root. auditLogger may be nil.
func New(root string, auditLogger *audit.Logger) *Engine {
	return &Engine{Root: root, Store: store.New(root), Audit: auditLogger}
}

// Plan computes the candidate deletions for policy without deleting
// anything.
func (e *Engine) Plan(policy Policy) ([]Candidate, error) {
	noted, err := e.Store.List()
	if err != nil {
		return nil, fmt.Errorf("retention: list noted commits: %w", err)
	}
	if len(noted) == 0 {
		return nil, nil
	}

	protected, err := e.protectedSet(policy)
	if err != nil {
		return nil, err
	}

	type timedSHA struct {
		sha string
		ts  int64
	}
	timed := make([]timedSHA, 0, len(noted))
	for _, sha := range noted {
		ts, err := git.CommitTimestamp(e.Root, sha)
		if err != nil {
			// Commit no longer reachable (e.g. a rewritten/dropped commit
			// whose note survived): treat as immediately eligible, its
			// timestamp can't be checked against max_age_days so age isn't
			// what is deciding it here.
			ts = 0
		}
		timed = append(timed, timedSHA{sha: sha, ts: ts})
	}
	sort.Slice(timed, func(i, j int) bool { return timed[i].ts > timed[j].ts })

	keepNewest := map[string]bool{}
	for i := 0; i < policy.MinCommits && i < len(timed); i++ {
		keepNewest[timed[i].sha] = true
	}

	var cutoff int64 = -1
	if policy.MaxAgeDays != nil {
		cutoff = time.Now().Add(-time.Duration(*policy.MaxAgeDays) * 24 * time.Hour).Unix()
	}

	var candidates []Candidate
	for _, ts := range timed {
		if protected[ts.sha] || keepNewest[ts.sha] {
			continue
		}
		if cutoff < 0 {
			continue // no max_age_days means nothing ages out
		}
		if ts.ts > 0 && ts.ts >= cutoff {
			continue // not old enough yet
		}
		candidates = append(candidates, Candidate{SHA: ts.sha, Timestamp: ts.ts})
	}
	return candidates, nil
}

// Apply runs Plan and then removes each candidate's note, emitting a
// retention_apply audit event recording the count and SHAs purged.
func (e *Engine) Apply(policy Policy) ([]Candidate, error) {
	candidates, err := e.Plan(policy)
	if err != nil {
		return nil, err
	}

	purged := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := e.Store.Remove(c.SHA); err != nil {
			return candidatesForSHAs(purged, candidates), fmt.Errorf("retention: remove note for %s: %w", c.SHA, err)
		}
		purged = append(purged, c.SHA)
	}

	if e.Audit != nil {
		payload, _ := json.Marshal(map[string]any{"purged_count": len(purged), "purged_shas": purged})
		if _, err := e.Audit.Append(audit.KindRetentionApply, payload); err != nil {
			return candidates, fmt.Errorf("retention: audit log: %w", err)
		}
	}
	return candidates, nil
}

func candidatesForSHAs(purgedSHAs []string, all []Candidate) []Candidate {
	bySHA := make(map[string]Candidate, len(all))
	for _, c := range all {
		bySHA[c.SHA] = c
	}
	out := make([]Candidate, 0, len(purgedSHAs))
	for _, sha := range purgedSHAs {
		out = append(out, bySHA[sha])
	}
	return out
}

// protectedSet computes every commit reachable from retain_refs, union
// with a handled-separately newest-min_commits set (done in Plan since it
// needs the candidate list's own timestamps, not just reachability).
func (e *Engine) protectedSet(policy Policy) (map[string]bool, error) {
	protected := map[string]bool{}
	for _, ref := range policy.RetainRefs {
		shas, err := git.RevListAncestors(e.Root, ref)
		if err != nil {
			// A ref that doesn't resolve (deleted branch named in stale
			// config) isn't a hard error; it protects nothing.
			continue
		}
		for _, sha := range shas {
			protected[sha] = true
		}
	}
	return protected, nil
}
