package fill

import (
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
)

// Policy evaluates row lifecycle decisions for one sheet. Columns are
// located by their configured handler names, so a sheet may label its
// priority column however it likes.
type Policy struct {
	priorityCol   string
	assigneeCol   string
	repositoryCol string
	projectCol    string
	issueCol      string
}

// NewPolicy builds a Policy from the sheet's column configuration.
func NewPolicy(sh *config.Sheet) *Policy {
	p := &Policy{}
	for _, col := range sh.Columns {
		switch col.Fill {
		case "priority":
			p.priorityCol = col.Name
		case "assignee":
			p.assigneeCol = col.Name
		case "repository":
			p.repositoryCol = col.Name
		case "project":
			p.projectCol = col.Name
		case "issue":
			p.issueCol = col.Name
		}
	}
	return p
}

// ignoreAge is how long an item may be closed before it is considered
// stale on first sight. The inclusive since filter makes recently closed
// items reappear in the changed stream; items closed longer ago than
// this never had a row and should not get one now.
const ignoreAge = 3 * 24 * time.Hour

// ToBeDeleted reports whether an existing row should be dropped: the
// backing item is closed and nobody on the team ever picked it up.
func (p *Policy) ToBeDeleted(row *sheet.Row, item *source.Item) bool {
	if item == nil || !item.Closed() {
		return false
	}
	assignee := row.Get(p.assigneeCol)
	return assignee == "Other" || assignee == "N/A"
}

// ToBeIgnored reports whether a not-yet-tracked item should stay
// untracked.
func (p *Policy) ToBeIgnored(item *source.Item, now time.Time) bool {
	if !item.Closed() {
		return false
	}
	return now.Sub(*item.ClosedAt) > ignoreAge
}

// ToBeArchived reports whether a row is finished and belongs in the
// archive sheet.
func (p *Policy) ToBeArchived(row *sheet.Row) bool {
	return p.priorityCol != "" && row.Get(p.priorityCol) == "Done"
}

// SortKey orders rows within a sheet: repository, then project, then
// item number. Numbers are unique within a repository, so the order is
// total.
func (p *Policy) SortKey(row *sheet.Row) (string, string, int) {
	return row.Get(p.repositoryCol), row.Get(p.projectCol), p.rowNumber(row)
}

// ArchiveSortKey orders archive rows: source sheet, then project, then
// item number. The archive merges rows from several sheets, so the
// sheet stamp replaces the repository as the primary key.
func (p *Policy) ArchiveSortKey(sheetCol string) func(row *sheet.Row) (string, string, int) {
	return func(row *sheet.Row) (string, string, int) {
		return row.Get(sheetCol), row.Get(p.projectCol), p.rowNumber(row)
	}
}

// Identity extracts the row's identity URL from its item link formula.
// Empty when the row has no link yet.
func (p *Policy) Identity(row *sheet.Row) string {
	return sheet.URLFromFormula(row.Get(p.issueCol))
}

func (p *Policy) rowNumber(row *sheet.Row) int {
	return sheet.NumberFromFormula(row.Get(p.issueCol))
}

// IssueColumn names the column holding the item link formula.
func (p *Policy) IssueColumn() string { return p.issueCol }
