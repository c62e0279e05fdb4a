// Package fake provides an in-memory source.Client for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/tracksheet/internal/source"
)

// Client serves canned items and linked items per repository and records
// how it was called.
type Client struct {
	mu sync.Mutex

	items  map[string][]source.Item       // repo -> items
	linked map[string][]source.LinkedItem // repo -> closed linked items

	// ListCalls records the filters passed to ListChangedItems per repo.
	ListCalls map[string][]source.ItemFilter

	// GetCalls counts GetItem invocations per "repo#number".
	GetCalls map[string]int

	// Err, when set, is returned by every call.
	Err error
}

// New creates an empty fake client.
func New() *Client {
	return &Client{
		items:     make(map[string][]source.Item),
		linked:    make(map[string][]source.LinkedItem),
		ListCalls: make(map[string][]source.ItemFilter),
		GetCalls:  make(map[string]int),
	}
}

// SetItems replaces the items of a repository.
func (c *Client) SetItems(repo string, items ...source.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[repo] = append([]source.Item(nil), items...)
}

// SetLinked replaces the closed linked items of a repository.
func (c *Client) SetLinked(repo string, pulls ...source.LinkedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linked[repo] = append([]source.LinkedItem(nil), pulls...)
}

// ListChangedItems implements source.Client. Items are filtered by Since
// (inclusive) and returned newest-updated-first when the filter asks for
// that order.
func (c *Client) ListChangedItems(ctx context.Context, repo string, filter source.ItemFilter) ([]source.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	c.ListCalls[repo] = append(c.ListCalls[repo], filter)

	var out []source.Item
	for _, it := range c.items[repo] {
		if filter.Since != nil && it.UpdatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, it)
	}

	if filter.Sort == "updated" && filter.Direction == "desc" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		})
	}
	return out, nil
}

// ListClosedLinkedItems implements source.Client, newest-updated-first.
func (c *Client) ListClosedLinkedItems(ctx context.Context, repo string) ([]source.LinkedItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}

	out := append([]source.LinkedItem(nil), c.linked[repo]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// GetItem implements source.Client.
func (c *Client) GetItem(ctx context.Context, repo string, number int) (*source.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	c.GetCalls[keyFor(repo, number)]++

	for _, it := range c.items[repo] {
		if it.Number == number {
			copied := it
			return &copied, nil
		}
	}
	return nil, source.ErrNotFound
}

// GetCallCount returns how often GetItem was asked for repo#number.
func (c *Client) GetCallCount(repo string, number int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.GetCalls[keyFor(repo, number)]
}

func keyFor(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// Touch updates an existing item's fields via mutate and bumps its update
// timestamp.
func (c *Client) Touch(repo string, number int, updatedAt time.Time, mutate func(*source.Item)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items[repo] {
		if c.items[repo][i].Number == number {
			if mutate != nil {
				mutate(&c.items[repo][i])
			}
			c.items[repo][i].UpdatedAt = updatedAt
			return
		}
	}
}
