package sheet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/steveyegge/tracksheet/internal/store"
)

var testNames = []string{"Priority", "Issue", "Comment"}

func TestRowRoundTrip(t *testing.T) {
	row := NewRow(testNames)
	row.Set("Priority", "New")
	row.Set("Issue", `=HYPERLINK("https://github.com/org/repo/issues/5";"5")`)

	cells := row.AsList(testNames)
	want := []string{"New", `=HYPERLINK("https://github.com/org/repo/issues/5";"5")`, ""}
	if diff := cmp.Diff(want, cells); diff != "" {
		t.Errorf("AsList mismatch (-want +got):\n%s", diff)
	}

	back := NewRow(testNames)
	back.FillFromList(cells)
	if back.Get("Priority") != "New" {
		t.Errorf("FillFromList lost Priority: %q", back.Get("Priority"))
	}
}

func TestRowAsListPadsAndTruncates(t *testing.T) {
	row := NewRow(testNames)
	row.Set("Priority", "High")

	// Narrower target layout truncates.
	if got := row.AsList([]string{"Priority"}); len(got) != 1 || got[0] != "High" {
		t.Errorf("truncate mismatch: %v", got)
	}

	// Wider target layout pads with empty strings.
	got := row.AsList([]string{"Priority", "Issue", "Comment", "Extra"})
	if len(got) != 4 || got[3] != "" {
		t.Errorf("pad mismatch: %v", got)
	}
}

func TestRowEmptySerializesToNil(t *testing.T) {
	row := NewRow(testNames)
	if got := row.AsList(testNames); got != nil {
		t.Errorf("empty row should serialize to nil, got %v", got)
	}
}

func TestRowFillFromShortList(t *testing.T) {
	row := NewRow(testNames)
	row.FillFromList([]string{"Low"})

	if row.Get("Priority") != "Low" || row.Get("Issue") != "" || row.Get("Comment") != "" {
		t.Errorf("short list fill mismatch: %v", row.AsList(testNames))
	}
}

func TestRowRekey(t *testing.T) {
	row := NewRow(testNames)
	row.Set("Priority", "High")
	row.Set("Comment", "hand-written")
	row.SetColor("Priority", store.Color{Red: 1})

	moved := row.Rekey([]string{"Priority", "Issue", "Updated", "Comment"})

	if moved.Get("Priority") != "High" || moved.Get("Comment") != "hand-written" {
		t.Errorf("shared columns lost on rekey: %v", moved.AsList(moved.Names()))
	}
	if moved.Get("Updated") != "" {
		t.Errorf("new column not empty: %q", moved.Get("Updated"))
	}
	if c, ok := moved.Color("Priority"); !ok || c != (store.Color{Red: 1}) {
		t.Error("color override lost on rekey")
	}

	// Dropped columns are really gone: writing one panics.
	narrowed := row.Rekey([]string{"Priority"})
	defer func() {
		if recover() == nil {
			t.Error("Set on a dropped column should panic")
		}
	}()
	narrowed.Set("Comment", "x")
}

func TestRowSetUnknownColumnPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Set on unknown column should panic")
		}
	}()
	NewRow(testNames).Set("Nope", "x")
}

func TestURLFormulaHelpers(t *testing.T) {
	formula := URLFormula("https://github.com/org/repo/issues/42", 42)
	if formula != `=HYPERLINK("https://github.com/org/repo/issues/42";"42")` {
		t.Errorf("unexpected formula: %s", formula)
	}
	if got := URLFromFormula(formula); got != "https://github.com/org/repo/issues/42" {
		t.Errorf("URLFromFormula mismatch: %s", got)
	}
	if got := NumberFromFormula(formula); got != 42 {
		t.Errorf("NumberFromFormula mismatch: %d", got)
	}

	// Bare values pass through.
	if got := URLFromFormula("https://example.com/x"); got != "https://example.com/x" {
		t.Errorf("bare URL mangled: %s", got)
	}
	if got := NumberFromFormula("17"); got != 17 {
		t.Errorf("bare number mismatch: %d", got)
	}
	if got := NumberFromFormula("garbage"); got != 0 {
		t.Errorf("garbage should yield 0, got %d", got)
	}
}

func TestLayoutRequestsTitleRowFirst(t *testing.T) {
	grey := store.Color{Red: 0.6, Green: 0.6, Blue: 0.6}
	layout := Layout{Columns: []Column{
		{Name: "Priority", Width: 80, Align: "CENTER", Values: []ValueOption{
			{Value: "New"},
			{Value: "Closed", Color: &grey},
		}},
		{Name: "Created", Align: "CENTER", Type: "date"},
		{Name: "Comment", Width: 550},
	}}

	requests := layout.Requests(7)
	if len(requests) == 0 || requests[0].FormatTitleRow == nil {
		t.Fatal("title-row request must be first in the batch")
	}
	if requests[0].FormatTitleRow.Columns != 3 {
		t.Errorf("title row width mismatch: %d", requests[0].FormatTitleRow.Columns)
	}

	var widths, aligns, validations, conditionals, dates int
	for _, r := range requests {
		switch {
		case r.SetColumnWidth != nil:
			widths++
		case r.SetAlignment != nil:
			aligns++
			if r.SetAlignment.Range.StartRow != 1 {
				t.Error("alignment must be scoped to data rows only")
			}
		case r.SetDataValidation != nil:
			validations++
		case r.AddConditionalFormat != nil:
			conditionals++
		case r.SetNumberFormat != nil:
			dates++
		}
	}
	if widths != 2 || aligns != 2 || validations != 1 || conditionals != 1 || dates != 1 {
		t.Errorf("request counts mismatch: widths=%d aligns=%d validations=%d conditionals=%d dates=%d",
			widths, aligns, validations, conditionals, dates)
	}
}

func TestLayoutValidate(t *testing.T) {
	bad := Layout{Columns: []Column{{Name: "A"}, {Name: "A"}}}
	if err := bad.Validate(); err == nil {
		t.Error("duplicate column should fail validation")
	}
	if err := (Layout{}).Validate(); err == nil {
		t.Error("empty layout should fail validation")
	}
	good := Layout{Columns: []Column{{Name: "A"}, {Name: "B"}}}
	if err := good.Validate(); err != nil {
		t.Errorf("valid layout rejected: %v", err)
	}
}

func TestBuildIndexUsesHeaderRow(t *testing.T) {
	grid := [][]string{
		{"Priority", "Issue"},
		{"New", `=HYPERLINK("https://github.com/org/repo/issues/5";"5")`},
		{"Low", `=HYPERLINK("https://github.com/org/repo/issues/9";"9")`},
		{"", ""}, // blank trailing row
	}

	index := BuildIndex(grid, "Issue")
	if len(index) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(index))
	}

	row, ok := index["https://github.com/org/repo/issues/5"]
	if !ok {
		t.Fatal("missing row for issue 5")
	}
	if row.Get("Priority") != "New" {
		t.Errorf("row fields not preserved: %q", row.Get("Priority"))
	}
}
