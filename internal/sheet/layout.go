package sheet

import (
	"fmt"

	"github.com/steveyegge/tracksheet/internal/store"
)

// ValueOption is one allowed value of an enumerated column. A non-nil
// color implies a conditional-formatting rule mapping the value to a
// background color in addition to the dropdown entry.
type ValueOption struct {
	Value string
	Color *store.Color
}

// Column describes one column of a sheet layout. Name doubles as the
// column's stable identity; Fill names a projection handler registered in
// the fill package (empty means the column is never machine-written).
type Column struct {
	Name   string
	Width  int    // pixels; 0 means leave default
	Align  string // "CENTER" etc.; empty means leave default
	Type   string // "", "date", "link"
	Fill   string // projection handler name
	Values []ValueOption
}

// Layout is an ordered, immutable-per-pass sequence of column descriptors.
type Layout struct {
	Columns []Column
}

// Names returns the column display names in layout order.
func (l Layout) Names() []string {
	names := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of a column by name, or -1.
func (l Layout) Index(name string) int {
	for i, c := range l.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks the layout for duplicate or empty column names.
func (l Layout) Validate() error {
	if len(l.Columns) == 0 {
		return fmt.Errorf("sheet: layout has no columns")
	}
	seen := make(map[string]bool, len(l.Columns))
	for _, c := range l.Columns {
		if c.Name == "" {
			return fmt.Errorf("sheet: layout contains a column without a name")
		}
		if seen[c.Name] {
			return fmt.Errorf("sheet: duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Requests generates the structural formatting batch for this layout on
// the given sheet.
//
// The title-row request is always first: downstream executors apply
// requests in order and the header formatting must land before any
// row-level overrides. After it, per column: width, alignment (data rows
// only), dropdown validation plus one conditional-format rule per colored
// value, and date number format.
func (l Layout) Requests(sheetID int64) []store.Request {
	requests := []store.Request{
		{FormatTitleRow: &store.FormatTitleRow{SheetID: sheetID, Columns: len(l.Columns)}},
	}

	for i, col := range l.Columns {
		dataRows := store.GridRange{
			SheetID:  sheetID,
			StartRow: 1,
			EndRow:   -1,
			StartCol: i,
			EndCol:   i + 1,
		}

		if col.Width > 0 {
			requests = append(requests, store.Request{
				SetColumnWidth: &store.SetColumnWidth{SheetID: sheetID, Column: i, Pixels: col.Width},
			})
		}

		if col.Align != "" {
			requests = append(requests, store.Request{
				SetAlignment: &store.SetAlignment{Range: dataRows, Align: col.Align},
			})
		}

		if len(col.Values) > 0 {
			values := make([]string, len(col.Values))
			for j, v := range col.Values {
				values[j] = v.Value
			}
			requests = append(requests, store.Request{
				SetDataValidation: &store.SetDataValidation{Range: dataRows, Values: values},
			})

			for _, v := range col.Values {
				if v.Color == nil {
					continue
				}
				requests = append(requests, store.Request{
					AddConditionalFormat: &store.AddConditionalFormat{
						Range: dataRows,
						Value: v.Value,
						Color: *v.Color,
					},
				})
			}
		}

		if col.Type == "date" {
			requests = append(requests, store.Request{
				SetNumberFormat: &store.SetNumberFormat{Range: dataRows, Pattern: "dd mmm yyyy"},
			})
		}
	}

	return requests
}

// BuildIndex converts a raw grid (header row first) into a map from
// canonical item URL to Row. The header row, not the active layout, keys
// the rows so old data stays readable after a layout change. Rows whose
// key column doesn't parse to an identity are skipped.
func BuildIndex(grid [][]string, keyColumn string) map[string]*Row {
	index := make(map[string]*Row)
	if len(grid) == 0 {
		return index
	}

	header := grid[0]
	keyIdx := -1
	for i, name := range header {
		if name == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return index
	}

	for _, cells := range grid[1:] {
		if keyIdx >= len(cells) {
			continue
		}
		url := URLFromFormula(cells[keyIdx])
		if url == "" {
			continue
		}

		row := NewRow(header)
		row.FillFromList(cells)
		index[url] = row
	}
	return index
}
