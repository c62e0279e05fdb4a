// Package sheet provides the row object model and the presentation layer
// that maps a column layout onto spreadsheet formatting requests.
package sheet

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/steveyegge/tracksheet/internal/store"
)

// Row is one spreadsheet row owned by the tracker: a mapping from column
// name to cell value plus a side table of per-cell color overrides.
//
// A Row's key set is fixed at construction to the active layout's column
// names; reading an unknown column yields the empty string, writing one is
// a programming error and panics (column handlers own exactly their
// declared columns).
type Row struct {
	names  []string
	values map[string]string
	colors map[string]store.Color
}

// NewRow creates an empty Row for the given column names.
func NewRow(columnNames []string) *Row {
	r := &Row{
		names:  append([]string(nil), columnNames...),
		values: make(map[string]string, len(columnNames)),
		colors: make(map[string]store.Color),
	}
	for _, name := range columnNames {
		r.values[name] = ""
	}
	return r
}

// Get returns the value of a column, or "" if the column is unknown.
func (r *Row) Get(column string) string {
	return r.values[column]
}

// Set assigns a column value. Panics on a column name outside the row's
// layout so misconfigured handlers fail fast.
func (r *Row) Set(column, value string) {
	if _, ok := r.values[column]; !ok {
		panic(fmt.Sprintf("sheet: Set on unknown column %q", column))
	}
	r.values[column] = value
}

// SetColor records a background color override for one cell.
func (r *Row) SetColor(column string, color store.Color) {
	if _, ok := r.values[column]; !ok {
		panic(fmt.Sprintf("sheet: SetColor on unknown column %q", column))
	}
	r.colors[column] = color
}

// Color returns the override color for a column, if one was set.
func (r *Row) Color(column string) (store.Color, bool) {
	c, ok := r.colors[column]
	return c, ok
}

// Colors returns the full override map. The returned map is the row's own;
// callers must not mutate it.
func (r *Row) Colors() map[string]store.Color {
	return r.colors
}

// Names returns the row's column names in order.
func (r *Row) Names() []string {
	return r.names
}

// Empty reports whether every cell is blank.
func (r *Row) Empty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// AsList converts the row into a flat cell list following columnNames,
// truncating or padding with empty strings to exactly that width. An
// all-blank row converts to nil, matching how an empty spreadsheet row
// reads back.
func (r *Row) AsList(columnNames []string) []string {
	if r.Empty() {
		return nil
	}

	out := make([]string, len(columnNames))
	for i, name := range columnNames {
		out[i] = r.values[name]
	}
	return out
}

// FillFromList populates the row from a flat cell list read from the
// store. Cells beyond the list's length become empty strings; cells beyond
// the row's layout are dropped. Values for columns the projection layer
// does not control are preserved verbatim, which is what keeps
// hand-entered data alive across passes.
func (r *Row) FillFromList(cells []string) {
	for i, name := range r.names {
		if i < len(cells) {
			r.values[name] = cells[i]
		} else {
			r.values[name] = ""
		}
	}
}

// Rekey returns a copy of the row keyed by a new column list. Shared
// columns keep their values and color overrides; columns absent from the
// new list are dropped; new columns start empty. Used when a layout
// change leaves persisted rows keyed by an outdated header.
func (r *Row) Rekey(columnNames []string) *Row {
	out := NewRow(columnNames)
	for _, name := range columnNames {
		if v, ok := r.values[name]; ok {
			out.values[name] = v
		}
		if c, ok := r.colors[name]; ok {
			out.colors[name] = c
		}
	}
	return out
}

var formulaNumPattern = regexp.MustCompile(`"(\d+)"\)$`)
var formulaURLPattern = regexp.MustCompile(`^=HYPERLINK\("([^"]+)"`)

// URLFormula builds the hyperlink cell formula shown in link columns:
// the item number displayed, the canonical URL behind it.
func URLFormula(url string, number int) string {
	return fmt.Sprintf(`=HYPERLINK("%s";"%d")`, url, number)
}

// URLFromFormula extracts the canonical URL out of a hyperlink formula.
// A cell that is not a formula is returned unchanged (older snapshots
// stored bare URLs).
func URLFromFormula(cell string) string {
	if m := formulaURLPattern.FindStringSubmatch(cell); m != nil {
		return m[1]
	}
	return cell
}

// NumberFromFormula extracts the displayed item number out of a hyperlink
// formula. Returns 0 when the cell holds neither a formula nor a number.
func NumberFromFormula(cell string) int {
	if m := formulaNumPattern.FindStringSubmatch(cell); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	n, err := strconv.Atoi(cell)
	if err != nil {
		return 0
	}
	return n
}
