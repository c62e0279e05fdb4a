// Package cursor tracks incremental fetch windows per source repository.
//
// A cursor is a (last-seen update timestamp, last-seen identity) pair. The
// first-ever fetch for a repository is unbounded; afterwards each fetch asks
// only for items updated no earlier than the stored timestamp. Because that
// bound is inclusive, the exact boundary item reappears in the next result
// stream — it is recognized by identity, not just timestamp, and excluded.
//
// Recorded advances are buffered in memory and written to the durable store
// only by Commit, at the end of a successful per-repository fetch. A crash
// mid-fetch therefore re-delivers items on the next pass (at-least-once),
// which is safe because the merge engine's column projections are
// idempotent.
package cursor

import (
	"fmt"
	"sync"

	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/state"
)

// Tracker manages fetch cursors for the repositories of one sheet.
type Tracker struct {
	store *state.Store
	sheet string

	mu        sync.Mutex
	committed map[string]state.Cursor // repo -> durable cursor
	pending   map[string]state.Cursor // repo -> max seen this pass
	loaded    map[string]bool
}

// New creates a Tracker backed by the given durable store.
func New(store *state.Store, sheet string) *Tracker {
	return &Tracker{
		store:     store,
		sheet:     sheet,
		committed: make(map[string]state.Cursor),
		pending:   make(map[string]state.Cursor),
		loaded:    make(map[string]bool),
	}
}

// load fetches the durable cursor for repo once and caches it.
func (t *Tracker) load(repo string) (state.Cursor, bool, error) {
	if t.loaded[repo] {
		c, ok := t.committed[repo]
		return c, ok, nil
	}

	c, ok, err := t.store.GetCursor(state.NamespaceIssues, t.sheet, repo)
	if err != nil {
		return state.Cursor{}, false, err
	}
	t.loaded[repo] = true
	if ok {
		t.committed[repo] = c
	}
	return c, ok, nil
}

// ShouldFullFetch reports whether repo has never completed a fetch, in
// which case the next query must be unbounded.
func (t *Tracker) ShouldFullFetch(repo string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok, err := t.load(repo)
	if err != nil {
		return false, fmt.Errorf("failed to load cursor for %s: %w", repo, err)
	}
	return !ok, nil
}

// Filter builds the changed-items query for repo: an empty filter on the
// first-ever pass, otherwise an inclusive since-watermark filter over all
// states, newest-updated-first.
func (t *Tracker) Filter(repo string) (source.ItemFilter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok, err := t.load(repo)
	if err != nil {
		return source.ItemFilter{}, fmt.Errorf("failed to load cursor for %s: %w", repo, err)
	}
	if !ok {
		return source.ItemFilter{}, nil
	}

	since := c.UpdatedAt
	return source.ItemFilter{
		Since:     &since,
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
	}, nil
}

// IsBoundary reports whether the item is exactly the one the cursor was
// recorded at: same identity at the same update timestamp. Such items
// reappear because the since-filter is inclusive and must not be handed to
// the merge engine again. Items that merely share the boundary timestamp
// are NOT skipped.
func (t *Tracker) IsBoundary(repo string, it *source.Item) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.committed[repo]
	if !ok {
		return false
	}
	return c.Identity == it.URL && c.UpdatedAt.Equal(it.UpdatedAt)
}

// Record advances the in-memory watermark for repo. The stored pair is the
// maximum update timestamp seen this pass together with that item's
// identity; the watermark never regresses.
func (t *Tracker) Record(repo string, it *source.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.pending[repo]
	if !ok {
		cur, ok = t.committed[repo]
	}
	if ok && !it.UpdatedAt.After(cur.UpdatedAt) {
		// Keep the pending entry even when unchanged so Commit knows a
		// successful scan happened.
		t.pending[repo] = cur
		return
	}

	t.pending[repo] = state.Cursor{UpdatedAt: it.UpdatedAt, Identity: it.URL}
}

// pendingFor returns the buffered (uncommitted) cursor for repo, if any.
func (t *Tracker) pendingFor(repo string) (state.Cursor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[repo]
	return c, ok
}

// Commit persists the buffered watermark for repo. Called once per
// repository after its fetch completed without error. If nothing was
// recorded this pass but the repository scan did complete, MarkFetched
// keeps the committed watermark pending so Commit refreshes it.
func (t *Tracker) Commit(repo string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[repo]
	if !ok {
		return nil
	}

	if err := t.store.PutCursor(state.NamespaceIssues, t.sheet, repo, c); err != nil {
		return fmt.Errorf("failed to commit cursor for %s: %w", repo, err)
	}

	t.committed[repo] = c
	t.loaded[repo] = true
	delete(t.pending, repo)
	return nil
}

// MarkFetched records a completed scan that yielded no items newer than
// the committed watermark. A repository that has never recorded a real
// item stays in full-fetch mode: watermark timestamps are compared
// against remote update times, and one seeded from the local clock could
// permanently exclude items whose timestamps trail it.
func (t *Tracker) MarkFetched(repo string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[repo]; ok {
		return
	}
	if c, ok := t.committed[repo]; ok {
		t.pending[repo] = c
	}
}
