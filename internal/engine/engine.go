// Package engine runs the per-sheet synchronization pass.
//
// A pass fetches changed items from every tracked repository, merges them
// into the sheet's row set, applies the fill handlers and lifecycle
// policies, and writes the reconciled rows back. Source fetches are
// at-least-once (an interrupted pass re-delivers items next time), which
// is safe because every projection is idempotent.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/cursor"
	"github.com/steveyegge/tracksheet/internal/fill"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/state"
	"github.com/steveyegge/tracksheet/internal/store"
	"github.com/steveyegge/tracksheet/internal/xref"
)

// Archiver receives rows that finished their life on a sheet. The rows
// arrive with the source sheet name and archive date already stamped in.
type Archiver interface {
	Archive(ctx context.Context, sourceSheet string, rows []*sheet.Row) error
}

// ArchiveSheetColumn and ArchiveDateColumn are the denormalized columns
// stamped onto archived rows.
const (
	ArchiveSheetColumn = "Sheet"
	ArchiveDateColumn  = "Archived"
)

// Engine synchronizes one sheet.
type Engine struct {
	sheetName string
	source    source.Client
	sheets    store.Client
	cursors   *cursor.Tracker
	xrefs     *xref.Index
	cache     *Cache
	logger    *log.Logger

	// now is swappable for tests.
	now func() time.Time

	// firstPass marks the first sync since process start: rows whose
	// backing item is not in the changed set are refetched directly
	// because the in-memory cache is still cold.
	firstPass bool
}

// New creates an engine for one sheet. A nil logger defaults to stderr.
func New(sheetName string, src source.Client, sheets store.Client, st *state.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		sheetName: sheetName,
		source:    src,
		sheets:    sheets,
		cursors:   cursor.New(st, sheetName),
		xrefs:     xref.New(st, sheetName, logger),
		cache:     NewCache(),
		logger:    logger,
		now:       time.Now,
		firstPass: true,
	}
}

// Sync runs one full pass for the sheet. archiver may be nil, in which
// case rows selected for archival are dropped like removed ones.
func (e *Engine) Sync(ctx context.Context, spreadsheetID string, sheetID int64, cfg *config.Sheet, archiver Archiver) error {
	e.xrefs.ReloadConfig(xref.Config{
		InternalRepos: internalSet(cfg),
		KnownNames:    cfg.KnownNames(),
		ResolveShort:  cfg.ResolveShort,
	})

	layout := cfg.Layout()
	for _, col := range layout.Columns {
		if col.Fill != "" && !fill.IsRegistered(col.Fill) {
			return fmt.Errorf("sheet %s: column %q names unknown fill handler %q", e.sheetName, col.Name, col.Fill)
		}
	}

	policy := fill.NewPolicy(cfg)
	now := e.now()

	changed := e.fetch(ctx, cfg)

	grid, err := e.sheets.ReadRange(ctx, spreadsheetID, e.sheetName)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", e.sheetName, err)
	}
	if len(grid) == 0 {
		if err := e.bootstrap(ctx, spreadsheetID, sheetID, layout); err != nil {
			return err
		}
	}

	rows := sheet.BuildIndex(grid, policy.IssueColumn())

	// Rows read back are keyed by the persisted header. When the layout
	// changed since that header was written, move every row onto the
	// active column set and rewrite the header and formatting so new
	// columns exist before projection runs.
	if len(grid) > 0 && !headerMatches(grid[0], layout.Names()) {
		for url, row := range rows {
			rows[url] = row.Rekey(layout.Names())
		}
		if width := gridWidth(grid); width > len(layout.Columns) {
			// Cells under removed columns would survive the row rewrite.
			span := fmt.Sprintf("A1:%s%d", columnLetter(width-1), len(grid))
			if err := e.sheets.ClearRange(ctx, spreadsheetID, e.sheetName, span); err != nil {
				return fmt.Errorf("failed to clear old layout on %s: %w", e.sheetName, err)
			}
		}
		if err := e.bootstrap(ctx, spreadsheetID, sheetID, layout); err != nil {
			return err
		}
	}

	var remove, archive []string
	for _, url := range sortedKeys(rows) {
		row := rows[url]
		item := e.authoritative(ctx, url, changed)
		if item != nil {
			e.project(row, item, cfg, layout, false, now)
		}

		switch {
		case policy.ToBeDeleted(row, item):
			remove = append(remove, url)
		case policy.ToBeArchived(row):
			archive = append(archive, url)
		}
	}

	for _, url := range sortedKeys(changed) {
		item := changed[url]
		if policy.ToBeIgnored(item, now) {
			e.cache.Delete(url)
			continue
		}

		row := sheet.NewRow(layout.Names())
		e.project(row, item, cfg, layout, true, now)
		if policy.ToBeDeleted(row, item) {
			e.cache.Delete(url)
			continue
		}
		rows[url] = row
	}

	var archivedRows []*sheet.Row
	for _, url := range archive {
		archivedRows = append(archivedRows, e.stampArchived(rows[url], now))
		delete(rows, url)
		e.cache.Delete(url)
	}
	for _, url := range remove {
		delete(rows, url)
		e.cache.Delete(url)
	}

	if len(archivedRows) > 0 && archiver != nil && cfg.ArchiveSheet != "" {
		if err := archiver.Archive(ctx, e.sheetName, archivedRows); err != nil {
			return fmt.Errorf("failed to archive %d rows from %s: %w", len(archivedRows), e.sheetName, err)
		}
	}

	ordered := sortRows(rows, policy.SortKey)
	if err := e.persist(ctx, spreadsheetID, sheetID, layout, ordered, len(grid)); err != nil {
		return err
	}

	e.firstPass = false
	return nil
}

// fetch pulls the changed-item stream of every tracked repository and
// returns the changed set keyed by canonical URL. Pull requests are
// routed into the cross-reference index instead. A failing repository is
// logged and skipped; its cursor is not committed, so the next pass
// retries the same window.
func (e *Engine) fetch(ctx context.Context, cfg *config.Sheet) map[string]*source.Item {
	changed := make(map[string]*source.Item)

	for _, repo := range cfg.RepoNames() {
		short := cfg.ShortName(repo)

		if err := e.xrefs.IndexClosed(ctx, e.source, repo, short); err != nil {
			e.logger.Printf("linked-item scan failed for %s: %v", repo, err)
		}

		filter, err := e.cursors.Filter(repo)
		if err != nil {
			e.logger.Printf("cursor load failed for %s: %v", repo, err)
			continue
		}

		items, err := e.source.ListChangedItems(ctx, repo, filter)
		if err != nil {
			e.logger.Printf("fetch failed for %s: %v", repo, err)
			continue
		}

		for i := range items {
			item := &items[i]
			if e.cursors.IsBoundary(repo, item) {
				continue
			}
			e.cursors.Record(repo, item)

			if item.IsPull {
				e.xrefs.AddMatches(repo, short, item.Linked())
				continue
			}
			changed[item.URL] = item
			e.cache.Put(item)
		}

		if len(items) == 0 {
			e.cursors.MarkFetched(repo)
		}
		if err := e.cursors.Commit(repo); err != nil {
			e.logger.Printf("cursor commit failed for %s: %v", repo, err)
		}
	}

	return changed
}

// authoritative resolves the item backing an existing row. The changed
// set wins and is consumed so the item is not re-inserted as new; on the
// first pass after a restart the item is refetched directly; otherwise
// the cache answers. A nil return means "no update this pass".
func (e *Engine) authoritative(ctx context.Context, url string, changed map[string]*source.Item) *source.Item {
	if item, ok := changed[url]; ok {
		delete(changed, url)
		return item
	}

	if e.firstPass {
		repo, number, err := source.ParseURL(url)
		if err != nil {
			return nil
		}
		item, err := e.source.GetItem(ctx, repo, number)
		if err != nil {
			if err != source.ErrNotFound {
				e.logger.Printf("refetch failed for %s: %v", url, err)
			}
			return nil
		}
		e.cache.Put(item)
		return item
	}

	return e.cache.Get(url)
}

// project runs every configured fill handler over one row.
func (e *Engine) project(row *sheet.Row, item *source.Item, cfg *config.Sheet, layout sheet.Layout, isNew bool, now time.Time) {
	related := e.xrefs.Related(strconv.Itoa(item.Number), cfg.ShortName(item.Repo))

	for _, col := range layout.Columns {
		if col.Fill == "" {
			continue
		}
		fill.Lookup(col.Fill)(row, item, &fill.Context{
			SheetName: e.sheetName,
			Sheet:     cfg,
			Column:    col.Name,
			Related:   related,
			IsNew:     isNew,
			Now:       now,
		})
	}
}

// stampArchived clones a row into the archive shape: all original
// columns plus the source sheet name and the archive date.
func (e *Engine) stampArchived(row *sheet.Row, now time.Time) *sheet.Row {
	names := append(append([]string(nil), row.Names()...), ArchiveSheetColumn, ArchiveDateColumn)
	out := sheet.NewRow(names)
	out.FillFromList(row.AsList(row.Names()))
	out.Set(ArchiveSheetColumn, e.sheetName)
	out.Set(ArchiveDateColumn, now.Format("02 Jan 2006"))
	for col, color := range row.Colors() {
		out.SetColor(col, color)
	}
	return out
}

// bootstrap writes the header row and applies the layout formatting.
// Used on a never-written sheet and again whenever the layout changes.
func (e *Engine) bootstrap(ctx context.Context, spreadsheetID string, sheetID int64, layout sheet.Layout) error {
	if err := e.sheets.WriteRange(ctx, spreadsheetID, e.sheetName, "A1", [][]string{layout.Names()}); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", e.sheetName, err)
	}
	for _, batch := range store.Batches(layout.Requests(sheetID)) {
		if err := e.sheets.BatchFormat(ctx, spreadsheetID, batch); err != nil {
			return fmt.Errorf("failed to format sheet %s: %w", e.sheetName, err)
		}
	}
	return nil
}

// persist writes the ordered row set starting at A2, clears any rows
// left over from a larger previous set, and posts per-cell color
// overrides in batches.
func (e *Engine) persist(ctx context.Context, spreadsheetID string, sheetID int64, layout sheet.Layout, ordered []*sheet.Row, previousGridLen int) error {
	names := layout.Names()

	cells := make([][]string, 0, len(ordered))
	for _, row := range ordered {
		list := row.AsList(names)
		if list == nil {
			list = make([]string, len(names))
		}
		cells = append(cells, list)
	}

	if len(cells) > 0 {
		if err := e.sheets.WriteRange(ctx, spreadsheetID, e.sheetName, "A2", cells); err != nil {
			return fmt.Errorf("failed to write rows to %s: %w", e.sheetName, err)
		}
	}

	// Rows beyond the new set still hold the previous pass's data.
	previousRows := previousGridLen - 1
	if previousRows > len(cells) {
		clear := fmt.Sprintf("A%d:%s%d", len(cells)+2, columnLetter(len(names)-1), previousGridLen)
		if err := e.sheets.ClearRange(ctx, spreadsheetID, e.sheetName, clear); err != nil {
			return fmt.Errorf("failed to clear trailing rows on %s: %w", e.sheetName, err)
		}
	}

	var requests []store.Request
	for i, row := range ordered {
		for col, color := range row.Colors() {
			idx := layout.Index(col)
			if idx < 0 {
				continue
			}
			requests = append(requests, store.Request{
				SetCellColor: &store.SetCellColor{
					SheetID: sheetID,
					Row:     i + 1,
					Column:  idx,
					Color:   color,
				},
			})
		}
	}
	for _, batch := range store.Batches(requests) {
		if err := e.sheets.BatchFormat(ctx, spreadsheetID, batch); err != nil {
			e.logger.Printf("color batch failed on %s: %v", e.sheetName, err)
		}
	}
	return nil
}

// sortRows orders rows by the policy sort key.
func sortRows(rows map[string]*sheet.Row, key func(*sheet.Row) (string, string, int)) []*sheet.Row {
	out := make([]*sheet.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, pi, ni := key(out[i])
		rj, pj, nj := key(out[j])
		if ri != rj {
			return ri < rj
		}
		if pi != pj {
			return pi < pj
		}
		return ni < nj
	})
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// headerMatches reports whether the persisted header row equals the
// layout's column names exactly, order included.
func headerMatches(header, names []string) bool {
	if len(header) != len(names) {
		return false
	}
	for i := range header {
		if header[i] != names[i] {
			return false
		}
	}
	return true
}

// gridWidth returns the widest row of a raw grid.
func gridWidth(grid [][]string) int {
	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

func internalSet(cfg *config.Sheet) map[string]bool {
	out := make(map[string]bool, len(cfg.InternalRepos))
	for full := range cfg.InternalRepos {
		out[full] = true
	}
	return out
}

// columnLetter converts a zero-based column index to its A1 letter.
func columnLetter(index int) string {
	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}
