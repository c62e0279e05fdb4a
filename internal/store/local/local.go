// Package local implements store.Client on a JSON file.
//
// It keeps the full document (title, sheet inventory, cell grids) in one
// file, written atomically. Formatting requests that change structure
// (add/delete sheet, rename) are applied; purely visual ones (widths,
// colors, validation) have no local representation and are ignored. The
// local store is intended for development runs and for operating the
// tracker without spreadsheet credentials.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/tracksheet/internal/store"
)

// Client stores one or more documents in a single JSON file.
type Client struct {
	mu   sync.Mutex
	path string
}

type file struct {
	NextDoc     int                  `json:"next_doc"`
	NextSheetID int64                `json:"next_sheet_id"`
	Documents   map[string]*document `json:"documents"`
}

type document struct {
	Title  string                 `json:"title"`
	Sheets map[string]*sheetState `json:"sheets"`
}

type sheetState struct {
	ID   int64      `json:"id"`
	Grid [][]string `json:"grid,omitempty"`
}

// New creates a client backed by the JSON file at path. The file is
// created on first write.
func New(path string) *Client {
	return &Client{path: path}
}

func (c *Client) load() (*file, error) {
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return &file{NextSheetID: 1, Documents: make(map[string]*document)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file %s: %w", c.path, err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", c.path, err)
	}
	if f.Documents == nil {
		f.Documents = make(map[string]*document)
	}
	if f.NextSheetID == 0 {
		f.NextSheetID = 1
	}
	return &f, nil
}

func (c *Client) save(f *file) error {
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (c *Client) doc(f *file, spreadsheetID string) (*document, error) {
	d, ok := f.Documents[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("local: unknown document %q", spreadsheetID)
	}
	return d, nil
}

// CreateSpreadsheet implements store.Client.
func (c *Client) CreateSpreadsheet(ctx context.Context, title string, sheetNames []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return "", err
	}

	f.NextDoc++
	id := fmt.Sprintf("local-%d", f.NextDoc)
	d := &document{Title: title, Sheets: make(map[string]*sheetState)}
	for _, name := range sheetNames {
		d.Sheets[name] = &sheetState{ID: f.NextSheetID}
		f.NextSheetID++
	}
	f.Documents[id] = d

	if err := c.save(f); err != nil {
		return "", err
	}
	return id, nil
}

// ReadRange implements store.Client.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return nil, err
	}
	d, err := c.doc(f, spreadsheetID)
	if err != nil {
		return nil, err
	}

	sh, ok := d.Sheets[sheetName]
	if !ok || len(sh.Grid) == 0 {
		return nil, nil
	}

	out := make([][]string, len(sh.Grid))
	for i, row := range sh.Grid {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

// WriteRange implements store.Client. startCell must start at column A.
func (c *Client) WriteRange(ctx context.Context, spreadsheetID, sheetName, startCell string, rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return err
	}
	d, err := c.doc(f, spreadsheetID)
	if err != nil {
		return err
	}

	startRow, err := parseStartRow(startCell)
	if err != nil {
		return err
	}

	sh, ok := d.Sheets[sheetName]
	if !ok {
		return fmt.Errorf("local: unknown sheet %q", sheetName)
	}
	for i, row := range rows {
		idx := startRow + i
		for len(sh.Grid) <= idx {
			sh.Grid = append(sh.Grid, nil)
		}
		sh.Grid[idx] = append([]string(nil), row...)
	}
	return c.save(f)
}

// ClearRange implements store.Client. Everything from the range's first
// row down is dropped.
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, sheetName, rangeA1 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return err
	}
	d, err := c.doc(f, spreadsheetID)
	if err != nil {
		return err
	}

	startRow, err := parseStartRow(strings.SplitN(rangeA1, ":", 2)[0])
	if err != nil {
		return err
	}

	sh, ok := d.Sheets[sheetName]
	if !ok {
		return fmt.Errorf("local: unknown sheet %q", sheetName)
	}
	if startRow < len(sh.Grid) {
		sh.Grid = sh.Grid[:startRow]
	}
	return c.save(f)
}

// BatchFormat implements store.Client. Structural requests are applied;
// visual formatting has no local representation.
func (c *Client) BatchFormat(ctx context.Context, spreadsheetID string, requests []store.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return err
	}
	d, err := c.doc(f, spreadsheetID)
	if err != nil {
		return err
	}

	for _, req := range requests {
		switch {
		case req.AddSheet != nil:
			if _, exists := d.Sheets[req.AddSheet.Title]; !exists {
				d.Sheets[req.AddSheet.Title] = &sheetState{ID: f.NextSheetID}
				f.NextSheetID++
			}
		case req.DeleteSheet != nil:
			for name, sh := range d.Sheets {
				if sh.ID == req.DeleteSheet.SheetID {
					delete(d.Sheets, name)
				}
			}
		case req.SetDocumentTitle != nil:
			d.Title = req.SetDocumentTitle.Title
		}
	}
	return c.save(f)
}

// SheetIDs implements store.Client.
func (c *Client) SheetIDs(ctx context.Context, spreadsheetID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return nil, err
	}
	d, err := c.doc(f, spreadsheetID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(d.Sheets))
	for name, sh := range d.Sheets {
		out[name] = sh.ID
	}
	return out, nil
}

func parseStartRow(cell string) (int, error) {
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("local: bad cell reference %q", cell)
	}
	return n - 1, nil
}
