package fill

import (
	"testing"
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/store"
	"github.com/steveyegge/tracksheet/internal/xref"
)

var testColumns = []string{
	"Priority", "Issue", "Work status", "Created", "Description",
	"Repository", "Project", "Assignee", "Internal PR", "Public PR",
}

func testSheet() *config.Sheet {
	return &config.Sheet{
		Repos: map[string]string{"org/widgets": "Widgets"},
		Labels: map[string]string{
			"api: storage": "Storage",
			"api: pubsub":  "PubSub",
		},
		Team: []string{"alice", "bob", "Other", "N/A"},
		Columns: []config.ColumnSpec{
			{Name: "Priority", Fill: "priority"},
			{Name: "Issue", Fill: "issue"},
			{Name: "Work status", Fill: "status"},
			{Name: "Created", Fill: "created"},
			{Name: "Description", Fill: "description"},
			{Name: "Repository", Fill: "repository"},
			{Name: "Project", Fill: "project"},
			{Name: "Assignee", Fill: "assignee"},
			{Name: "Internal PR", Fill: "internal_pr"},
			{Name: "Public PR", Fill: "public_pr"},
		},
	}
}

func testContext(column string, isNew bool) *Context {
	return &Context{
		SheetName: "Test",
		Sheet:     testSheet(),
		Column:    column,
		IsNew:     isNew,
		Now:       time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func testItem() *source.Item {
	created := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)
	return &source.Item{
		Number:    42,
		URL:       source.ItemURL("org/widgets", 42),
		Repo:      "org/widgets",
		Title:     "widget frobnication is slow",
		Labels:    []string{"api: storage"},
		State:     "open",
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestPriorityNewAndTerminal(t *testing.T) {
	item := testItem()

	row := sheet.NewRow(testColumns)
	Lookup("priority")(row, item, testContext("Priority", true))
	if got := row.Get("Priority"); got != "New" {
		t.Errorf("new item priority = %q, want New", got)
	}

	for _, terminal := range []string{"Closed", "Done"} {
		row := sheet.NewRow(testColumns)
		row.Set("Priority", terminal)
		Lookup("priority")(row, item, testContext("Priority", false))
		if got := row.Get("Priority"); got != terminal {
			t.Errorf("terminal priority %q was overwritten to %q", terminal, got)
		}
	}
}

func TestPriorityLabelRules(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"backend is low", []string{"backend"}, "Low"},
		{"help wanted is high", []string{"help wanted"}, "High"},
		{"backend beats help wanted", []string{"backend", "help wanted"}, "Low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := testItem()
			item.Labels = tt.labels

			row := sheet.NewRow(testColumns)
			row.Set("Priority", "Medium")
			Lookup("priority")(row, item, testContext("Priority", false))
			if got := row.Get("Priority"); got != tt.want {
				t.Errorf("priority = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPriorityAging(t *testing.T) {
	ctx := testContext("Priority", false)

	tests := []struct {
		name   string
		age    time.Duration
		labels []string
		want   string
	}{
		{"fresh stays new", 2 * 24 * time.Hour, []string{"api: storage"}, "New"},
		{"aged tracked bug", 4 * 24 * time.Hour, []string{"api: storage", "type: bug"}, "High"},
		{"aged tracked", 4 * 24 * time.Hour, []string{"api: storage"}, "Medium"},
		{"aged untracked", 4 * 24 * time.Hour, []string{"docs"}, "Low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := testItem()
			item.Labels = tt.labels
			item.CreatedAt = ctx.Now.Add(-tt.age)

			row := sheet.NewRow(testColumns)
			row.Set("Priority", "New")
			Lookup("priority")(row, item, ctx)
			if got := row.Get("Priority"); got != tt.want {
				t.Errorf("priority = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIssueLinkAndGrey(t *testing.T) {
	item := testItem()
	row := sheet.NewRow(testColumns)
	Lookup("issue")(row, item, testContext("Issue", true))

	if got := sheet.URLFromFormula(row.Get("Issue")); got != item.URL {
		t.Errorf("issue link URL = %q, want %q", got, item.URL)
	}
	if _, ok := row.Color("Issue"); ok {
		t.Error("open item should not be greyed")
	}

	closedAt := item.UpdatedAt.Add(time.Hour)
	item.ClosedAt = &closedAt
	Lookup("issue")(row, item, testContext("Issue", false))
	if c, ok := row.Color("Issue"); !ok || c != colorGrey {
		t.Errorf("closed item link color = %+v, want grey", c)
	}
	// The formula must survive the non-new pass untouched.
	if got := sheet.NumberFromFormula(row.Get("Issue")); got != 42 {
		t.Errorf("issue number lost on update: %q", row.Get("Issue"))
	}
}

func TestProjectJoinsSorted(t *testing.T) {
	item := testItem()
	item.Labels = []string{"api: pubsub", "api: storage", "unrelated"}

	row := sheet.NewRow(testColumns)
	Lookup("project")(row, item, testContext("Project", false))
	if got := row.Get("Project"); got != "PubSub, Storage" {
		t.Errorf("project = %q, want %q", got, "PubSub, Storage")
	}
}

func TestAssignee(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		assignees []string
		want      string
	}{
		{"no assignees", "", nil, "N/A"},
		{"team member", "", []string{"mallory", "bob"}, "bob"},
		{"outside team", "", []string{"mallory"}, "Other"},
		{"hand-picked member stands", "alice", []string{"mallory"}, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := testItem()
			item.Assignees = tt.assignees

			row := sheet.NewRow(testColumns)
			if tt.current != "" {
				row.Set("Assignee", tt.current)
			}
			Lookup("assignee")(row, item, testContext("Assignee", false))
			if got := row.Get("Assignee"); got != tt.want {
				t.Errorf("assignee = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPRLinkStatusColors(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mk := func(author, state string, merged bool) source.LinkedItem {
		return source.LinkedItem{
			Number: 7, URL: source.PullURL("org/widgets", 7),
			Author: author, State: state, Merged: merged,
			CreatedAt: base, UpdatedAt: base,
		}
	}

	tests := []struct {
		name string
		pull source.LinkedItem
		want store.Color
	}{
		{"outside team", mk("mallory", "open", false), colorOutsideTeam},
		{"outside team wins over merged", mk("mallory", "closed", true), colorOutsideTeam},
		{"merged", mk("alice", "closed", true), colorMerged},
		{"closed unmerged", mk("alice", "closed", false), colorClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext("Public PR", false)
			ctx.Related = xref.Related{Public: []source.LinkedItem{tt.pull}}

			row := sheet.NewRow(testColumns)
			Lookup("public_pr")(row, testItem(), ctx)
			if got := sheet.NumberFromFormula(row.Get("Public PR")); got != 7 {
				t.Fatalf("pull link number = %d, want 7", got)
			}
			if c, _ := row.Color("Public PR"); c != tt.want {
				t.Errorf("pull link color = %+v, want %+v", c, tt.want)
			}
		})
	}
}

func TestHandlersIdempotent(t *testing.T) {
	item := testItem()
	item.Assignees = []string{"alice"}

	row := sheet.NewRow(testColumns)
	runAll := func(isNew bool) {
		for _, spec := range testSheet().Columns {
			ctx := testContext(spec.Name, isNew)
			Lookup(spec.Fill)(row, item, ctx)
		}
	}

	runAll(true)
	snapshot := row.AsList(testColumns)
	runAll(false)
	runAll(false)

	for i, name := range testColumns {
		if row.Get(name) != snapshot[i] {
			t.Errorf("column %q drifted on re-run: %q -> %q", name, snapshot[i], row.Get(name))
		}
	}
}

func TestUnknownHandlerIsNoop(t *testing.T) {
	row := sheet.NewRow(testColumns)
	row.Set("Description", "hand-written note")
	Lookup("no_such_handler")(row, testItem(), testContext("Description", false))
	if got := row.Get("Description"); got != "hand-written note" {
		t.Errorf("unknown handler touched the row: %q", got)
	}
}

func TestPolicyDeleted(t *testing.T) {
	p := NewPolicy(testSheet())
	item := testItem()
	closedAt := item.CreatedAt.Add(time.Hour)

	row := sheet.NewRow(testColumns)
	row.Set("Assignee", "Other")
	if p.ToBeDeleted(row, item) {
		t.Error("open item must never be deleted")
	}

	item.ClosedAt = &closedAt
	if !p.ToBeDeleted(row, item) {
		t.Error("closed item assigned to Other should be deleted")
	}

	row.Set("Assignee", "alice")
	if p.ToBeDeleted(row, item) {
		t.Error("closed item with a real assignee must stay")
	}

	if p.ToBeDeleted(row, nil) {
		t.Error("missing item must not trigger deletion")
	}
}

func TestPolicyIgnored(t *testing.T) {
	p := NewPolicy(testSheet())
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	item := testItem()
	if p.ToBeIgnored(item, now) {
		t.Error("open item must not be ignored")
	}

	recent := now.Add(-2 * 24 * time.Hour)
	item.ClosedAt = &recent
	if p.ToBeIgnored(item, now) {
		t.Error("recently closed item should still get a row")
	}

	stale := now.Add(-4 * 24 * time.Hour)
	item.ClosedAt = &stale
	if !p.ToBeIgnored(item, now) {
		t.Error("item closed past the window should be ignored")
	}
}

func TestPolicySortKey(t *testing.T) {
	p := NewPolicy(testSheet())

	row := sheet.NewRow(testColumns)
	row.Set("Repository", "Widgets")
	row.Set("Project", "Storage")
	row.Set("Issue", sheet.URLFormula(source.ItemURL("org/widgets", 42), 42))

	repo, project, number := p.SortKey(row)
	if repo != "Widgets" || project != "Storage" || number != 42 {
		t.Errorf("sort key = (%q, %q, %d)", repo, project, number)
	}
	if got := p.Identity(row); got != source.ItemURL("org/widgets", 42) {
		t.Errorf("identity = %q", got)
	}
}
