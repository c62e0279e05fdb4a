package engine

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
	sourcefake "github.com/steveyegge/tracksheet/internal/source/fake"
	"github.com/steveyegge/tracksheet/internal/state"
	storefake "github.com/steveyegge/tracksheet/internal/store/fake"
)

const testRepo = "org/widgets"

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	source  *sourcefake.Client
	sheets  *storefake.Client
	state   *state.Store
	cfg     *config.Sheet
	docID   string
	sheetID int64
}

func setup(t *testing.T) *fixture {
	t.Helper()

	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open state store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	sheets := storefake.New()
	docID, err := sheets.CreateSpreadsheet(context.Background(), "Tracker", []string{"Test"})
	if err != nil {
		t.Fatalf("CreateSpreadsheet failed: %v", err)
	}
	ids, err := sheets.SheetIDs(context.Background(), docID)
	if err != nil {
		t.Fatalf("SheetIDs failed: %v", err)
	}

	src := sourcefake.New()
	logger := log.New(logWriter{t}, "[engine-test] ", 0)

	e := New("Test", src, sheets, st, logger)
	e.now = func() time.Time { return testNow }

	return &fixture{
		engine:  e,
		source:  src,
		sheets:  sheets,
		state:   st,
		cfg:     testSheetConfig(),
		docID:   docID,
		sheetID: ids["Test"],
	}
}

type logWriter struct{ t *testing.T }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testSheetConfig() *config.Sheet {
	return &config.Sheet{
		Repos:  map[string]string{testRepo: "Widgets"},
		Labels: map[string]string{"api: storage": "Storage"},
		Team:   []string{"alice", "bob", "Other", "N/A"},
		Columns: []config.ColumnSpec{
			{Name: "Priority", Fill: "priority"},
			{Name: "Issue", Fill: "issue"},
			{Name: "Work status", Fill: "status"},
			{Name: "Created", Fill: "created"},
			{Name: "Description", Fill: "description"},
			{Name: "Repository", Fill: "repository"},
			{Name: "Project", Fill: "project"},
			{Name: "Assignee", Fill: "assignee"},
			{Name: "Public PR", Fill: "public_pr"},
			{Name: "Notes"},
		},
	}
}

func openItem(number int, updated time.Time) source.Item {
	return source.Item{
		Number:    number,
		URL:       source.ItemURL(testRepo, number),
		Repo:      testRepo,
		Title:     "item title",
		Labels:    []string{"api: storage"},
		State:     "open",
		CreatedAt: testNow.Add(-24 * time.Hour),
		UpdatedAt: updated,
	}
}

func (f *fixture) sync(t *testing.T, archiver Archiver) {
	t.Helper()
	if err := f.engine.Sync(context.Background(), f.docID, f.sheetID, f.cfg, archiver); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

// dataRows returns the grid without its header row.
func (f *fixture) dataRows() [][]string {
	grid := f.sheets.Grid(f.docID, "Test")
	if len(grid) == 0 {
		return nil
	}
	return grid[1:]
}

func rowNumbers(rows [][]string) []int {
	out := make([]int, len(rows))
	for i, cells := range rows {
		out[i] = sheet.NumberFromFormula(cells[1])
	}
	return out
}

func TestFirstSyncOrdersAndMarksNew(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo,
		openItem(10, base.Add(time.Minute)),
		openItem(5, base.Add(2*time.Minute)),
		openItem(7, base.Add(3*time.Minute)),
	)

	f.sync(t, nil)

	rows := f.dataRows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 data rows, got %d", len(rows))
	}
	want := []int{5, 7, 10}
	got := rowNumbers(rows)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row order = %v, want %v", got, want)
		}
	}
	for _, cells := range rows {
		if cells[0] != "New" {
			t.Errorf("new row priority = %q, want New", cells[0])
		}
		if cells[5] != "Widgets" {
			t.Errorf("repository = %q, want Widgets", cells[5])
		}
		if cells[6] != "Storage" {
			t.Errorf("project = %q, want Storage", cells[6])
		}
	}

	// Header row written by the bootstrap.
	grid := f.sheets.Grid(f.docID, "Test")
	if grid[0][0] != "Priority" || grid[0][9] != "Notes" {
		t.Errorf("header row = %v", grid[0])
	}
}

func TestIncrementalNoChanges(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo,
		openItem(5, base),
		openItem(7, base.Add(time.Minute)),
	)

	f.sync(t, nil)
	before := f.sheets.Grid(f.docID, "Test")

	f.sync(t, nil)
	after := f.sheets.Grid(f.docID, "Test")

	if len(before) != len(after) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				t.Errorf("cell [%d][%d] changed: %q -> %q", i, j, before[i][j], after[i][j])
			}
		}
	}

	// The second pass must have queried incrementally, and the boundary
	// item it got back must not have been treated as a change.
	calls := f.source.ListCalls[testRepo]
	if len(calls) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(calls))
	}
	if calls[0].Since != nil {
		t.Error("first pass must be unbounded")
	}
	if calls[1].Since == nil || !calls[1].Since.Equal(base.Add(time.Minute)) {
		t.Errorf("second pass since = %v, want %v", calls[1].Since, base.Add(time.Minute))
	}
}

func TestRemovalPolicy(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo,
		openItem(5, base),
		openItem(7, base.Add(time.Minute)),
	)
	f.sync(t, nil)

	// Item 5 closes without ever being assigned to a team member.
	closedAt := testNow.Add(-time.Hour)
	f.source.Touch(testRepo, 5, testNow, func(it *source.Item) {
		it.State = "closed"
		it.ClosedAt = &closedAt
	})
	f.sync(t, nil)

	rows := f.dataRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 data row after removal, got %d", len(rows))
	}
	if got := rowNumbers(rows); got[0] != 7 {
		t.Errorf("surviving row = #%d, want #7", got[0])
	}
}

func TestStaleClosedItemIgnored(t *testing.T) {
	f := setup(t)
	stale := openItem(9, testNow.Add(-time.Hour))
	closedAt := testNow.Add(-5 * 24 * time.Hour)
	stale.State = "closed"
	stale.ClosedAt = &closedAt

	f.source.SetItems(testRepo, stale, openItem(3, testNow.Add(-2*time.Hour)))
	f.sync(t, nil)

	rows := f.dataRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 data row, got %d", len(rows))
	}
	if got := rowNumbers(rows); got[0] != 3 {
		t.Errorf("tracked row = #%d, want #3", got[0])
	}
}

type archiveRecorder struct {
	sourceSheet string
	rows        []*sheet.Row
}

func (a *archiveRecorder) Archive(ctx context.Context, sourceSheet string, rows []*sheet.Row) error {
	a.sourceSheet = sourceSheet
	a.rows = append(a.rows, rows...)
	return nil
}

func TestArchivePreservesUserEdits(t *testing.T) {
	f := setup(t)
	f.cfg.ArchiveSheet = "Archive"
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo,
		openItem(5, base),
		openItem(7, base.Add(time.Minute)),
	)
	f.sync(t, nil)

	// A human marks item 7 Done and leaves a note.
	grid := f.sheets.Grid(f.docID, "Test")
	for i, cells := range grid[1:] {
		if sheet.NumberFromFormula(cells[1]) == 7 {
			grid[i+1][0] = "Done"
			grid[i+1][9] = "shipped in v2"
		}
	}
	f.sheets.SetGrid(f.docID, "Test", grid)

	rec := &archiveRecorder{}
	f.sync(t, rec)

	if len(rec.rows) != 1 {
		t.Fatalf("expected 1 archived row, got %d", len(rec.rows))
	}
	archived := rec.rows[0]
	if got := archived.Get("Notes"); got != "shipped in v2" {
		t.Errorf("user note lost on archive: %q", got)
	}
	if got := archived.Get(ArchiveSheetColumn); got != "Test" {
		t.Errorf("archive sheet stamp = %q", got)
	}
	if got := archived.Get(ArchiveDateColumn); got != testNow.Format("02 Jan 2006") {
		t.Errorf("archive date stamp = %q", got)
	}
	if rec.sourceSheet != "Test" {
		t.Errorf("archive source sheet = %q", rec.sourceSheet)
	}

	rows := f.dataRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(rows))
	}
	if got := rowNumbers(rows); got[0] != 5 {
		t.Errorf("remaining row = #%d, want #5", got[0])
	}
}

func TestPullRequestRoutedToCrossReferences(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo, openItem(5, base))
	f.sync(t, nil)

	pr := source.Item{
		Number:    99,
		URL:       source.PullURL(testRepo, 99),
		Repo:      testRepo,
		Title:     "fix the widget",
		Body:      "Fixes #5",
		State:     "open",
		Author:    "mallory",
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Minute),
		IsPull:    true,
	}
	f.source.SetItems(testRepo, openItem(5, base), pr)
	f.sync(t, nil)

	rows := f.dataRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 data row, got %d", len(rows))
	}
	// The pull request itself must not become a row; it shows up as the
	// linked pull of item 5.
	if got := sheet.NumberFromFormula(rows[0][8]); got != 99 {
		t.Errorf("public PR cell = %q, want link to #99", rows[0][8])
	}
}

func TestLayoutChangeMigratesRows(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo, openItem(5, base))
	f.sync(t, nil)

	// A human leaves a note, then the config gains a machine column in
	// the middle of the layout.
	grid := f.sheets.Grid(f.docID, "Test")
	grid[1][9] = "ship it"
	f.sheets.SetGrid(f.docID, "Test", grid)

	cols := f.cfg.Columns
	widened := append([]config.ColumnSpec(nil), cols[:4]...)
	widened = append(widened, config.ColumnSpec{Name: "Updated", Fill: "created"})
	f.cfg.Columns = append(widened, cols[4:]...)

	f.sync(t, nil)

	got := f.sheets.Grid(f.docID, "Test")
	if got[0][4] != "Updated" {
		t.Fatalf("header not rewritten for the new layout: %v", got[0])
	}
	rows := got[1:]
	if len(rows) != 1 {
		t.Fatalf("expected 1 data row, got %d", len(rows))
	}
	if rows[0][4] == "" {
		t.Error("new machine column left empty after migration")
	}
	if rows[0][10] != "ship it" {
		t.Errorf("hand-edited note lost in migration: %v", rows[0])
	}
}

func TestUnknownFillHandlerFailsSync(t *testing.T) {
	f := setup(t)
	f.cfg.Columns[0].Fill = "prioirty"

	err := f.engine.Sync(context.Background(), f.docID, f.sheetID, f.cfg, nil)
	if err == nil {
		t.Fatal("expected an error for a misspelled fill handler")
	}
	if !strings.Contains(err.Error(), "prioirty") {
		t.Errorf("error does not name the bad handler: %v", err)
	}
}

func TestEmptyFirstFetchStaysUnbounded(t *testing.T) {
	f := setup(t)

	// Nothing in the repository yet.
	f.sync(t, nil)

	// An item whose remote timestamp is in the recent past appears; a
	// watermark seeded from the pass's own clock would skip it forever.
	f.source.SetItems(testRepo, openItem(5, testNow.Add(-2*time.Hour)))
	f.sync(t, nil)

	rows := f.dataRows()
	if len(rows) != 1 || sheet.NumberFromFormula(rows[0][1]) != 5 {
		t.Fatalf("late-arriving item missed: %v", rows)
	}

	calls := f.source.ListCalls[testRepo]
	if len(calls) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(calls))
	}
	if calls[1].Since != nil {
		t.Error("second pass must stay unbounded until a real item is recorded")
	}
}

func TestRestartRefetchesRows(t *testing.T) {
	f := setup(t)
	base := testNow.Add(-6 * time.Hour)
	f.source.SetItems(testRepo, openItem(5, base))
	f.sync(t, nil)

	// Simulate a restart: same durable state and sheet data, cold
	// in-memory caches. The row's item is no longer in the changed stream,
	// so the first pass must refetch it directly.
	restarted := New("Test", f.source, f.sheets, f.state, log.New(logWriter{t}, "[engine-test] ", 0))
	restarted.now = func() time.Time { return testNow }
	if err := restarted.Sync(context.Background(), f.docID, f.sheetID, f.cfg, nil); err != nil {
		t.Fatalf("Sync after restart failed: %v", err)
	}

	if got := f.source.GetCallCount(testRepo, 5); got != 1 {
		t.Errorf("GetItem called %d times, want 1 (first-pass refetch)", got)
	}
	rows := f.dataRows()
	if len(rows) != 1 || sheet.NumberFromFormula(rows[0][1]) != 5 {
		t.Errorf("row lost across restart: %v", rows)
	}
}
