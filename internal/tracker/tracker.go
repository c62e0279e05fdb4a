// Package tracker orchestrates sync passes across all configured sheets.
//
// The tracker owns the spreadsheet structure (document title, sheet
// inventory, archive sheets), one engine per sheet, and the pass loop.
// Configuration is re-read at the top of every pass; a broken config file
// keeps the previous valid one active. Per-sheet failures are contained:
// one sheet's error never stops the others.
package tracker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/dashboard"
	"github.com/steveyegge/tracksheet/internal/engine"
	"github.com/steveyegge/tracksheet/internal/fill"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/state"
	"github.com/steveyegge/tracksheet/internal/store"
)

// Publisher receives pass events for real-time monitoring. The dashboard
// server implements it; a nil publisher disables event reporting.
type Publisher interface {
	Publish(eventType dashboard.EventType, data any)
}

// Tracker drives the whole synchronization lifecycle.
type Tracker struct {
	configPath string
	source     source.Client
	sheets     store.Client
	state      *state.Store
	logger     *log.Logger
	publisher  Publisher

	cfg           *config.Config
	fingerprint   string
	spreadsheetID string
	sheetIDs      map[string]int64
	engines       map[string]*engine.Engine
}

// New creates a tracker. A nil logger defaults to stderr.
func New(configPath string, src source.Client, sheets store.Client, st *state.Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(os.Stderr, "[tracker] ", log.LstdFlags)
	}
	return &Tracker{
		configPath: configPath,
		source:     src,
		sheets:     sheets,
		state:      st,
		logger:     logger,
		engines:    make(map[string]*engine.Engine),
	}
}

// SetPublisher attaches a pass event publisher.
func (t *Tracker) SetPublisher(p Publisher) {
	t.publisher = p
}

// Config returns the active configuration, nil before the first
// successful load.
func (t *Tracker) Config() *config.Config {
	return t.cfg
}

// SpreadsheetID returns the document the tracker writes to. Empty until
// the first pass resolved or created it.
func (t *Tracker) SpreadsheetID() string {
	return t.spreadsheetID
}

// reload reads the configuration file. A load failure keeps the previous
// configuration active and is fatal only when no valid configuration was
// ever loaded.
func (t *Tracker) reload() error {
	cfg, err := config.Load(t.configPath)
	if err != nil {
		if t.cfg == nil {
			return fmt.Errorf("failed to load initial config: %w", err)
		}
		t.logger.Printf("config reload failed, keeping previous: %v", err)
		return nil
	}

	if t.cfg != nil && cfg.Fingerprint() != t.fingerprint {
		t.logger.Printf("configuration changed, reconciling structure next pass")
		t.publish(dashboard.EventConfigReload, nil)
	}
	t.cfg = cfg
	return nil
}

// desiredSheets returns every sheet the document should contain: tracked
// sheets plus their archive sheets, deduplicated, in deterministic order.
func (t *Tracker) desiredSheets() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range t.cfg.SheetNames() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		if archive := t.cfg.Sheets[name].ArchiveSheet; archive != "" && !seen[archive] {
			seen[archive] = true
			names = append(names, archive)
		}
	}
	return names
}

// ensureStructure makes the document match the configuration: creates
// the spreadsheet on a very first run, renames it, adds missing sheets
// and deletes ones no longer configured. Skipped entirely when the
// configuration fingerprint has not changed since the last pass.
func (t *Tracker) ensureStructure(ctx context.Context) error {
	fp := t.cfg.Fingerprint()
	if fp == t.fingerprint && t.spreadsheetID != "" {
		return nil
	}

	desired := t.desiredSheets()

	if t.spreadsheetID == "" {
		t.spreadsheetID = t.cfg.SpreadsheetID
	}
	if t.spreadsheetID == "" {
		id, err := t.sheets.CreateSpreadsheet(ctx, t.cfg.Title, desired)
		if err != nil {
			return fmt.Errorf("failed to create spreadsheet: %w", err)
		}
		t.spreadsheetID = id
		t.logger.Printf("created spreadsheet %s; set spreadsheet_id in the config to reuse it", id)
	}

	ids, err := t.sheets.SheetIDs(ctx, t.spreadsheetID)
	if err != nil {
		return fmt.Errorf("failed to list sheets: %w", err)
	}

	var requests []store.Request
	requests = append(requests, store.Request{
		SetDocumentTitle: &store.SetDocumentTitle{Title: t.cfg.Title},
	})

	wanted := make(map[string]bool, len(desired))
	for _, name := range desired {
		wanted[name] = true
		if _, ok := ids[name]; !ok {
			requests = append(requests, store.Request{AddSheet: &store.AddSheet{Title: name}})
		}
	}
	for name, id := range ids {
		if !wanted[name] {
			requests = append(requests, store.Request{DeleteSheet: &store.DeleteSheet{SheetID: id}})
		}
	}

	for _, batch := range store.Batches(requests) {
		if err := t.sheets.BatchFormat(ctx, t.spreadsheetID, batch); err != nil {
			return fmt.Errorf("failed to reconcile sheet structure: %w", err)
		}
	}

	// Re-read after structural changes so new sheets have ids.
	ids, err = t.sheets.SheetIDs(ctx, t.spreadsheetID)
	if err != nil {
		return fmt.Errorf("failed to refresh sheet ids: %w", err)
	}
	t.sheetIDs = ids
	t.fingerprint = fp
	return nil
}

// engineFor returns the sheet's engine, creating it on first use.
// Engines are kept across passes so their item caches stay warm.
func (t *Tracker) engineFor(name string) *engine.Engine {
	if e, ok := t.engines[name]; ok {
		return e
	}
	e := engine.New(name, t.source, t.sheets, t.state, t.logger)
	t.engines[name] = e
	return e
}

// RunOnce executes one full pass: reload config, reconcile structure,
// sync every sheet. A failing sheet is logged and skipped.
func (t *Tracker) RunOnce(ctx context.Context) error {
	start := time.Now()

	if err := t.reload(); err != nil {
		return err
	}
	if err := t.ensureStructure(ctx); err != nil {
		return err
	}

	failed := 0
	for _, name := range t.cfg.SheetNames() {
		sheetStart := time.Now()
		err := t.engineFor(name).Sync(ctx, t.spreadsheetID, t.sheetIDs[name], t.cfg.Sheets[name], t.archiver(name))
		if err != nil {
			failed++
			t.logger.Printf("sync failed for sheet %s: %v", name, err)
			t.publish(dashboard.EventSheetSynced, dashboard.SheetSyncedData{
				Sheet:    name,
				Duration: time.Since(sheetStart),
				Error:    err.Error(),
			})
			continue
		}
		t.publish(dashboard.EventSheetSynced, dashboard.SheetSyncedData{
			Sheet:    name,
			Duration: time.Since(sheetStart),
		})
	}

	t.publish(dashboard.EventPassComplete, dashboard.PassCompleteData{
		Sheets:   len(t.cfg.Sheets),
		Failed:   failed,
		Duration: time.Since(start),
	})
	t.logger.Printf("pass complete: %d sheets, %d failed, %s", len(t.cfg.Sheets), failed, time.Since(start).Round(time.Millisecond))
	return nil
}

// Run executes passes until the context is canceled, sleeping the
// configured interval between them. A receive on wake (may be nil) cuts
// the sleep short, used by the daemon's config file watcher.
func (t *Tracker) Run(ctx context.Context, wake <-chan struct{}) error {
	for {
		if err := t.RunOnce(ctx); err != nil {
			if t.cfg == nil {
				return err
			}
			t.logger.Printf("pass failed: %v", err)
			t.publish(dashboard.EventError, map[string]string{"error": err.Error()})
		}

		interval := config.DefaultUpdateInterval
		if t.cfg != nil {
			interval = t.cfg.UpdateInterval.Std()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		case <-wake:
			t.logger.Printf("woken early for a new pass")
		}
	}
}

func (t *Tracker) publish(eventType dashboard.EventType, data any) {
	if t.publisher != nil {
		t.publisher.Publish(eventType, data)
	}
}

// archiver returns the archive collaborator for a sheet, or nil when
// archiving is disabled.
func (t *Tracker) archiver(sheetName string) engine.Archiver {
	sh := t.cfg.Sheets[sheetName]
	if sh.ArchiveSheet == "" {
		return nil
	}
	return &archiveMerger{
		tracker:     t,
		sourceCfg:   sh,
		archiveName: sh.ArchiveSheet,
	}
}

// archiveMerger merges finished rows into an archive sheet. The archive
// accumulates rows from every sheet pointing at it; rows are upserted by
// item identity and kept sorted by source sheet, project, item number.
type archiveMerger struct {
	tracker     *Tracker
	sourceCfg   *config.Sheet
	archiveName string
}

func (a *archiveMerger) Archive(ctx context.Context, sourceSheet string, rows []*sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	t := a.tracker

	policy := fill.NewPolicy(a.sourceCfg)
	grid, err := t.sheets.ReadRange(ctx, t.spreadsheetID, a.archiveName)
	if err != nil {
		return fmt.Errorf("failed to read archive sheet %s: %w", a.archiveName, err)
	}

	header := rows[0].Names()
	if len(grid) > 0 {
		header = grid[0]
	} else {
		if err := t.sheets.WriteRange(ctx, t.spreadsheetID, a.archiveName, "A1", [][]string{header}); err != nil {
			return fmt.Errorf("failed to write archive header: %w", err)
		}
	}

	index := sheet.BuildIndex(grid, policy.IssueColumn())
	for _, row := range rows {
		index[policy.Identity(row)] = row.Rekey(header)
	}

	key := policy.ArchiveSortKey(engine.ArchiveSheetColumn)
	ordered := make([]*sheet.Row, 0, len(index))
	for _, row := range index {
		ordered = append(ordered, row)
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, pi, ni := key(ordered[i])
		sj, pj, nj := key(ordered[j])
		if si != sj {
			return si < sj
		}
		if pi != pj {
			return pi < pj
		}
		return ni < nj
	})

	cells := make([][]string, 0, len(ordered))
	for _, row := range ordered {
		list := row.AsList(header)
		if list == nil {
			list = make([]string, len(header))
		}
		cells = append(cells, list)
	}
	if err := t.sheets.WriteRange(ctx, t.spreadsheetID, a.archiveName, "A2", cells); err != nil {
		return fmt.Errorf("failed to write archive rows: %w", err)
	}
	return nil
}
