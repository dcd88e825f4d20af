// Package historyrewrite consumes the history-rewrite event stream: a
// sequence of (old_sha, new_sha) pairs on stdin, each triggering a note
// copy so attribution survives a rebase, squash, or filter-repo run that
// gives a commit a new SHA.
package historyrewrite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dotsetlabs/whogitit/internal/store"
)

// Pair is one history-rewrite event.
type Pair struct {
	OldSHA string `json:"old_sha"`
	NewSHA string `json:"new_sha"`
}

// Result records the outcome of processing one Pair.
type Result struct {
	Pair  Pair
	Error error
}

// Process reads newline-delimited JSON Pairs from r and copies the
// attribution note from OldSHA to NewSHA for each, via s.Copy. A pair
// whose OldSHA has no note is a no-op, not an error (store.Copy already
// treats it that way). Processing continues past a single pair's error
// so one bad rewrite entry doesn't abandon the rest of the stream.
func Process(r io.Reader, s *store.Store) ([]Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var results []Result
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p Pair
		if err := json.Unmarshal(line, &p); err != nil {
			results = append(results, Result{Error: fmt.Errorf("historyrewrite: parse event: %w", err)})
			continue
		}
		if err := s.Copy(p.OldSHA, p.NewSHA); err != nil {
			results = append(results, Result{Pair: p, Error: fmt.Errorf("historyrewrite: copy %s -> %s: %w", p.OldSHA, p.NewSHA, err)})
			continue
		}
		results = append(results, Result{Pair: p})
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("historyrewrite: read stream: %w", err)
	}
	return results, nil
}
