// Package store implements the Attribution Store: persisting an
// AIAttribution payload as a git note on the commit it describes, and
// retrieving, copying, listing, or removing those notes later. The
// mechanism is git's own plumbing — a dedicated notes ref — so attribution
// travels with `git fetch`/`git push` like any other ref, and never
// touches the working tree or the commit graph itself.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dustin/go-humanize"
)

// warnSize is the payload size above which Put still succeeds but reports
// a warning, since an oversized note slows every future fetch/clone.
const warnSize = 512 * 1024

// rejectSize is the payload size above which Put refuses to write at all.
const rejectSize = 4 * 1024 * 1024

// Store reads and writes attribution notes in a single repository.
type Store struct {
	Root string
}

// New returns a Store rooted at root (the repository's working tree root).
func New(root string) *Store {
	return &Store{Root: root}
}

// SizeWarning is returned by Put (without error) when the payload exceeded
// warnSize but not rejectSize, so the caller can surface it.
type SizeWarning struct {
	Size int
}

func (w *SizeWarning) Error() string {
	return fmt.Sprintf("attribution note is %s, above the %s advisory threshold", humanize.Bytes(uint64(w.Size)), humanize.Bytes(warnSize))
}

// Put writes attr as the note on commit sha, overwriting any existing note
// unless overwrite is false and one is already present.
func (s *Store) Put(sha string, attr *attribution.AIAttribution, overwrite bool) (*SizeWarning, error) {
	if err := attr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid attribution: %w", err)
	}

	if !overwrite {
		existing, err := git.ShowNote(s.Root, sha)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			return nil, fmt.Errorf("commit %s already has an attribution note (use overwrite to replace)", sha)
		}
	}

	data, err := json.Marshal(attr)
	if err != nil {
		return nil, fmt.Errorf("marshal attribution: %w", err)
	}

	if len(data) > rejectSize {
		return nil, fmt.Errorf("attribution note is %s, exceeding the %s hard limit", humanize.Bytes(uint64(len(data))), humanize.Bytes(rejectSize))
	}

	if err := git.AddNote(s.Root, sha, string(data)); err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}

	if len(data) >= warnSize {
		return &SizeWarning{Size: len(data)}, nil
	}
	return nil, nil
}

// Get retrieves the attribution note for sha, returning ok=false if none
// exists.
func (s *Store) Get(sha string) (*attribution.AIAttribution, bool, error) {
	content, err := git.ShowNote(s.Root, sha)
	if err != nil {
		return nil, false, err
	}
	if content == "" {
		return nil, false, nil
	}
	var attr attribution.AIAttribution
	if err := json.Unmarshal([]byte(content), &attr); err != nil {
		return nil, false, fmt.Errorf("parse attribution note for %s: %w", sha, err)
	}
	return &attr, true, nil
}

// Copy duplicates the note from fromSHA to toSHA, used when history
// rewriting gives a commit a new SHA. A no-op if fromSHA has no note.
func (s *Store) Copy(fromSHA, toSHA string) error {
	return git.CopyNote(s.Root, fromSHA, toSHA)
}

// Remove deletes the note on sha, if any.
func (s *Store) Remove(sha string) error {
	return git.RemoveNote(s.Root, sha)
}

// List returns the commit SHAs that currently carry an attribution note.
func (s *Store) List() ([]string, error) {
	return git.ListNoted(s.Root)
}
