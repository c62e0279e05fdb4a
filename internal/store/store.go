// Package store defines the boundary to the spreadsheet backend.
//
// The tracker reads and writes plain cell grids and posts structural
// formatting requests in batches, mirroring the shape of a spreadsheet
// batchUpdate API without depending on a concrete vendor SDK. The fake
// subpackage provides an in-memory implementation for tests.
package store

import "context"

// Client is the tabular store consumed by the sync engine.
//
// ReadRange returns the full used grid of a sheet with formulas preserved,
// or nil if the sheet is empty. WriteRange writes rows starting at an A1
// cell reference. All structural changes (widths, validation, colors, sheet
// add/delete, document rename) go through BatchFormat.
type Client interface {
	ReadRange(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error)
	WriteRange(ctx context.Context, spreadsheetID, sheetName, startCell string, rows [][]string) error
	ClearRange(ctx context.Context, spreadsheetID, sheetName, rangeA1 string) error
	BatchFormat(ctx context.Context, spreadsheetID string, requests []Request) error
	SheetIDs(ctx context.Context, spreadsheetID string) (map[string]int64, error)
	CreateSpreadsheet(ctx context.Context, title string, sheetNames []string) (string, error)
}

// Color is an RGB background color with components in [0, 1].
type Color struct {
	Red   float64 `json:"red" yaml:"red"`
	Green float64 `json:"green" yaml:"green"`
	Blue  float64 `json:"blue" yaml:"blue"`
}

// GridRange addresses a rectangle of cells on one sheet. End indexes are
// exclusive; a negative end index means "unbounded".
type GridRange struct {
	SheetID  int64
	StartRow int
	EndRow   int
	StartCol int
	EndCol   int
}

// Request is one structural or formatting operation. Exactly one field is
// non-nil, the same union shape batchUpdate-style APIs use.
type Request struct {
	SetColumnWidth       *SetColumnWidth
	SetAlignment         *SetAlignment
	SetDataValidation    *SetDataValidation
	AddConditionalFormat *AddConditionalFormat
	SetNumberFormat      *SetNumberFormat
	FormatTitleRow       *FormatTitleRow
	SetCellColor         *SetCellColor
	AddSheet             *AddSheet
	DeleteSheet          *DeleteSheet
	SetDocumentTitle     *SetDocumentTitle
}

// SetColumnWidth sets the pixel width of one column.
type SetColumnWidth struct {
	SheetID int64
	Column  int
	Pixels  int
}

// SetAlignment sets horizontal alignment for all data rows of one column.
type SetAlignment struct {
	Range GridRange
	Align string // "LEFT", "CENTER", "RIGHT"
}

// SetDataValidation constrains a column to an enumerated value set with a
// strict dropdown.
type SetDataValidation struct {
	Range  GridRange
	Values []string
}

// AddConditionalFormat colors cells whose text equals Value.
type AddConditionalFormat struct {
	Range Range
	Value string
	Color Color
}

// Range is GridRange under its historical name for conditional rules.
type Range = GridRange

// SetNumberFormat applies a date display format to one column.
type SetNumberFormat struct {
	Range   GridRange
	Pattern string // e.g. "dd mmm yyyy"
}

// FormatTitleRow bolds and centers the header row.
type FormatTitleRow struct {
	SheetID int64
	Columns int
}

// SetCellColor overrides the background color of a single cell.
type SetCellColor struct {
	SheetID int64
	Row     int
	Column  int
	Color   Color
}

// AddSheet creates a new sheet in the document.
type AddSheet struct {
	Title string
}

// DeleteSheet removes a sheet by numeric id.
type DeleteSheet struct {
	SheetID int64
}

// SetDocumentTitle renames the spreadsheet.
type SetDocumentTitle struct {
	Title string
}

// BatchSize is how many requests are posted per BatchFormat call by
// Batches. Large structural updates are split to stay under backend
// per-call limits.
const BatchSize = 20

// Batches splits requests into chunks of at most BatchSize, preserving
// order.
func Batches(requests []Request) [][]Request {
	if len(requests) == 0 {
		return nil
	}

	var out [][]Request
	for len(requests) > BatchSize {
		out = append(out, requests[:BatchSize])
		requests = requests[BatchSize:]
	}
	return append(out, requests)
}
