// Package fake provides an in-memory store.Client for tests.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/tracksheet/internal/store"
)

// Client is an in-memory spreadsheet backend. It applies structural
// requests that affect the sheet inventory (add/delete/rename) and records
// every formatting request for assertions.
type Client struct {
	mu sync.Mutex

	nextSpreadsheet int
	nextSheetID     int64

	titles   map[string]string             // spreadsheetID -> document title
	sheetIDs map[string]map[string]int64   // spreadsheetID -> sheet name -> id
	grids    map[string]map[string][][]string // spreadsheetID -> sheet name -> cells

	// Requests holds every formatting request posted via BatchFormat, in
	// order, across all batches.
	Requests []store.Request

	// WriteCalls counts WriteRange invocations.
	WriteCalls int

	// FailBatchFormat, when set, makes the next BatchFormat call fail once.
	FailBatchFormat error
}

// New creates an empty fake backend.
func New() *Client {
	return &Client{
		nextSheetID: 1,
		titles:      make(map[string]string),
		sheetIDs:    make(map[string]map[string]int64),
		grids:       make(map[string]map[string][][]string),
	}
}

// CreateSpreadsheet implements store.Client.
func (c *Client) CreateSpreadsheet(ctx context.Context, title string, sheetNames []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSpreadsheet++
	id := fmt.Sprintf("fake-spreadsheet-%d", c.nextSpreadsheet)
	c.titles[id] = title
	c.sheetIDs[id] = make(map[string]int64)
	c.grids[id] = make(map[string][][]string)

	for _, name := range sheetNames {
		c.sheetIDs[id][name] = c.nextSheetID
		c.nextSheetID++
	}
	return id, nil
}

// ReadRange implements store.Client. Returns nil for an empty sheet.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	grids, ok := c.grids[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("fake: unknown spreadsheet %q", spreadsheetID)
	}

	grid := grids[sheetName]
	if len(grid) == 0 {
		return nil, nil
	}

	// Copy so callers can't mutate backend state.
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

// WriteRange implements store.Client. startCell must look like "A1" or
// "A2"; only column A starts are supported, which is all the tracker uses.
func (c *Client) WriteRange(ctx context.Context, spreadsheetID, sheetName, startCell string, rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	grids, ok := c.grids[spreadsheetID]
	if !ok {
		return fmt.Errorf("fake: unknown spreadsheet %q", spreadsheetID)
	}

	startRow, err := parseStartRow(startCell)
	if err != nil {
		return err
	}

	grid := grids[sheetName]
	for i, row := range rows {
		idx := startRow + i
		for len(grid) <= idx {
			grid = append(grid, nil)
		}
		grid[idx] = append([]string(nil), row...)
	}
	grids[sheetName] = grid
	c.WriteCalls++
	return nil
}

// ClearRange implements store.Client. rangeA1 is "A<n>:<end>"; everything
// from row n (1-based) down is cleared, which matches the tracker's
// trailing-rows cleanup.
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, sheetName, rangeA1 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	grids, ok := c.grids[spreadsheetID]
	if !ok {
		return fmt.Errorf("fake: unknown spreadsheet %q", spreadsheetID)
	}

	startRow, err := parseStartRow(strings.SplitN(rangeA1, ":", 2)[0])
	if err != nil {
		return err
	}

	grid := grids[sheetName]
	if startRow < len(grid) {
		grids[sheetName] = grid[:startRow]
	}
	return nil
}

// BatchFormat implements store.Client.
func (c *Client) BatchFormat(ctx context.Context, spreadsheetID string, requests []store.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailBatchFormat != nil {
		err := c.FailBatchFormat
		c.FailBatchFormat = nil
		return err
	}

	ids, ok := c.sheetIDs[spreadsheetID]
	if !ok {
		return fmt.Errorf("fake: unknown spreadsheet %q", spreadsheetID)
	}

	for _, req := range requests {
		switch {
		case req.AddSheet != nil:
			ids[req.AddSheet.Title] = c.nextSheetID
			c.nextSheetID++
		case req.DeleteSheet != nil:
			for name, id := range ids {
				if id == req.DeleteSheet.SheetID {
					delete(ids, name)
					delete(c.grids[spreadsheetID], name)
				}
			}
		case req.SetDocumentTitle != nil:
			c.titles[spreadsheetID] = req.SetDocumentTitle.Title
		}
		c.Requests = append(c.Requests, req)
	}
	return nil
}

// SheetIDs implements store.Client.
func (c *Client) SheetIDs(ctx context.Context, spreadsheetID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, ok := c.sheetIDs[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("fake: unknown spreadsheet %q", spreadsheetID)
	}

	out := make(map[string]int64, len(ids))
	for name, id := range ids {
		out[name] = id
	}
	return out, nil
}

// Title returns the current document title.
func (c *Client) Title(spreadsheetID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles[spreadsheetID]
}

// Grid returns a copy of a sheet's cells for assertions.
func (c *Client) Grid(spreadsheetID, sheetName string) [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	grid := c.grids[spreadsheetID][sheetName]
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// SetGrid seeds a sheet's cells, simulating pre-existing (possibly
// hand-edited) data.
func (c *Client) SetGrid(spreadsheetID, sheetName string, grid [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := make([][]string, len(grid))
	for i, row := range grid {
		copied[i] = append([]string(nil), row...)
	}
	c.grids[spreadsheetID][sheetName] = copied
}

// parseStartRow converts an A1 cell reference like "A2" to a 0-based row
// index.
func parseStartRow(cell string) (int, error) {
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if digits == "" {
		return 0, fmt.Errorf("fake: bad cell reference %q", cell)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("fake: bad cell reference %q", cell)
	}
	return n - 1, nil
}
