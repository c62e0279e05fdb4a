// Package source defines the boundary to the remote issue tracker.
//
// The tracker core never talks to a concrete API directly. It consumes the
// Client interface, which lists items changed since a watermark, lists closed
// linked items (pull requests) for cross-reference indexing, and fetches a
// single item by number. Implementations live in subpackages: github for the
// real REST client, fake for tests.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Item is an issue (or any primary work item) read from a source repository.
// Items are read-only from the tracker's perspective.
type Item struct {
	Number    int
	URL       string // canonical HTML URL, the tracker's identity key
	Repo      string // full repository name, "owner/name"
	Title     string
	Body      string
	Labels    []string
	State     string // "open" or "closed"
	Author    string
	Assignees []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	// IsPull marks items that are themselves pull requests. They are never
	// shown as primary rows; the engine routes them into the linked-item
	// index instead.
	IsPull bool
}

// Closed reports whether the item has been closed.
func (it *Item) Closed() bool {
	return it.ClosedAt != nil
}

// Linked converts a pull-request item from the changed stream into its
// linked-item form for cross-reference indexing. Merged stays false;
// open pull requests from the stream have not merged yet, and closed
// ones are re-read by the dedicated linked-item listing.
func (it *Item) Linked() LinkedItem {
	return LinkedItem{
		Number:    it.Number,
		URL:       it.URL,
		Repo:      it.Repo,
		Title:     it.Title,
		Body:      it.Body,
		State:     it.State,
		Author:    it.Author,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

// LinkedItem is a pull request that may reference tracked items through
// keyword phrases in its body.
type LinkedItem struct {
	Number    int
	URL       string
	Repo      string
	Title     string
	Body      string
	State     string
	Author    string
	Merged    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemFilter bounds a ListChangedItems query.
//
// A zero filter means "everything, unsorted" and is used on the first-ever
// pass for a repository. Since is inclusive: the boundary item recorded in
// the fetch cursor will reappear in the result stream and must be excluded
// by identity downstream.
type ItemFilter struct {
	Since     *time.Time
	State     string // "all", "open", "closed"; empty means implementation default
	Sort      string // "updated"
	Direction string // "desc"
}

// Client lists and fetches items from one or more source repositories.
//
// Implementations must return changed items honoring the filter, and closed
// linked items sorted newest-updated-first (the linked-item index relies on
// that order for its watermark early exit).
type Client interface {
	ListChangedItems(ctx context.Context, repo string, filter ItemFilter) ([]Item, error)
	ListClosedLinkedItems(ctx context.Context, repo string) ([]LinkedItem, error)
	GetItem(ctx context.Context, repo string, number int) (*Item, error)
}

// ErrNotFound is returned by GetItem when the item does not exist or is no
// longer visible. The reconciler treats it as "leave row as last known".
var ErrNotFound = fmt.Errorf("source: item not found")

// ItemURL builds the canonical HTML URL for an item.
func ItemURL(repo string, number int) string {
	return fmt.Sprintf("https://github.com/%s/issues/%d", repo, number)
}

// PullURL builds the canonical HTML URL for a pull request.
func PullURL(repo string, number int) string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", repo, number)
}

// ParseURL extracts the full repository name and item number from a
// canonical item URL. Both issue and pull URLs are accepted.
func ParseURL(url string) (repo string, number int, err error) {
	trimmed := strings.TrimPrefix(url, "https://github.com/")
	if trimmed == url {
		return "", 0, fmt.Errorf("source: not a canonical item URL: %q", url)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 || (parts[2] != "issues" && parts[2] != "pull") {
		return "", 0, fmt.Errorf("source: not a canonical item URL: %q", url)
	}

	number, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", 0, fmt.Errorf("source: bad item number in URL %q: %w", url, err)
	}

	return parts[0] + "/" + parts[1], number, nil
}
