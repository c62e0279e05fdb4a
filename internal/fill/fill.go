// Package fill implements column projection handlers.
//
// Every machine-controlled column names one registered handler. A handler
// owns exactly its own column: it mutates that field (and may set a color
// override) from the authoritative item, but never writes another
// handler's column. Handlers may read sibling fields of the same row for
// cross-field logic, such as refusing to downgrade an already-closed
// priority.
//
// Handlers must be idempotent: re-running one on an unchanged (row, item)
// pair yields the same row. That property is what makes the engine's
// at-least-once delivery safe.
package fill

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/store"
	"github.com/steveyegge/tracksheet/internal/xref"
)

// Context carries everything a handler may consult besides the row and
// the item itself.
type Context struct {
	SheetName string
	Sheet     *config.Sheet
	Column    string
	Related   xref.Related
	IsNew     bool

	// Now anchors age-based rules; the engine sets it once per pass so
	// every projection in a pass sees the same clock.
	Now time.Time
}

// Func projects one column of a row from the authoritative item.
type Func func(row *sheet.Row, item *source.Item, ctx *Context)

var (
	registry      = make(map[string]Func)
	registryMutex sync.RWMutex
)

// Register registers a projection handler under a name referenced by
// column configuration. Called from init(); registering nil or a
// duplicate name is a programming error and panics.
func Register(name string, fn Func) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if fn == nil {
		panic(fmt.Sprintf("fill: Register handler is nil for %q", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("fill: Register called twice for %q", name))
	}
	registry[name] = fn
}

// Lookup returns the handler registered under name. Columns without a
// handler (or with an unknown one) get the no-op handler, which leaves
// hand-entered values untouched.
func Lookup(name string) Func {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	if fn, ok := registry[name]; ok {
		return fn
	}
	return dontFill
}

// IsRegistered reports whether a handler exists under name.
func IsRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := registry[name]
	return ok
}

// dontFill is the default handler: the column belongs to humans.
func dontFill(row *sheet.Row, item *source.Item, ctx *Context) {}

func init() {
	Register("priority", fillPriority)
	Register("issue", fillIssue)
	Register("status", fillStatus)
	Register("created", fillCreated)
	Register("description", fillDescription)
	Register("repository", fillRepository)
	Register("project", fillProject)
	Register("assignee", fillAssignee)
	Register("internal_pr", fillInternalPR)
	Register("public_pr", fillPublicPR)
}

// Status colors for pull-request link cells.
var (
	colorMerged      = store.Color{Red: 0.73, Green: 0.33, Blue: 0.83} // purple
	colorClosed      = store.Color{Red: 1, Green: 0.36, Blue: 0.47}    // pink
	colorOutsideTeam = store.Color{Red: 1, Green: 0.81, Blue: 0.28}    // yellow
	colorGrey        = store.Color{Red: 0.6, Green: 0.6, Blue: 0.6}
)

// newPriorityAge is how long an item may stay "New" before its priority
// is designated automatically.
const newPriorityAge = 3 * 24 * time.Hour

func fillPriority(row *sheet.Row, item *source.Item, ctx *Context) {
	if ctx.IsNew {
		row.Set(ctx.Column, "New")
		return
	}

	current := row.Get(ctx.Column)
	// Terminal states are never downgraded by automation.
	if current == "Closed" || current == "Done" {
		return
	}

	labels := labelSet(item)
	switch {
	case labels["backend"]:
		row.Set(ctx.Column, "Low")
	case labels["help wanted"]:
		row.Set(ctx.Column, "High")
	case current == "New" && ctx.Now.Sub(item.CreatedAt) > newPriorityAge:
		row.Set(ctx.Column, agedPriority(labels, ctx.Sheet))
	}
}

// agedPriority designates a priority for an item that stayed "New" past
// the aging window: bugs in tracked projects are High, other tracked
// project items Medium, everything else Low.
func agedPriority(labels map[string]bool, sh *config.Sheet) string {
	tracked := false
	for label := range sh.Labels {
		if labels[label] {
			tracked = true
			break
		}
	}
	if !tracked {
		return "Low"
	}
	if labels["type: bug"] {
		return "High"
	}
	return "Medium"
}

func fillIssue(row *sheet.Row, item *source.Item, ctx *Context) {
	if ctx.IsNew {
		row.Set(ctx.Column, sheet.URLFormula(item.URL, item.Number))
	}
	if item.Closed() {
		row.SetColor(ctx.Column, colorGrey)
	}
}

func fillStatus(row *sheet.Row, item *source.Item, ctx *Context) {
	if ctx.IsNew {
		row.Set(ctx.Column, "Pending")
	}
}

func fillCreated(row *sheet.Row, item *source.Item, ctx *Context) {
	row.Set(ctx.Column, item.CreatedAt.Format("02 Jan 2006"))
}

func fillDescription(row *sheet.Row, item *source.Item, ctx *Context) {
	row.Set(ctx.Column, item.Title)
}

func fillRepository(row *sheet.Row, item *source.Item, ctx *Context) {
	if ctx.IsNew {
		row.Set(ctx.Column, ctx.Sheet.ShortName(item.Repo))
	}
}

func fillProject(row *sheet.Row, item *source.Item, ctx *Context) {
	projects := make(map[string]bool)
	for _, label := range item.Labels {
		if project, ok := ctx.Sheet.Labels[label]; ok {
			projects[project] = true
		}
	}

	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)
	row.Set(ctx.Column, strings.Join(names, ", "))
}

func fillAssignee(row *sheet.Row, item *source.Item, ctx *Context) {
	// A value already in the roster was either set by us or hand-picked;
	// either way it stands.
	if inTeam(row.Get(ctx.Column), ctx.Sheet.Team) {
		return
	}

	if len(item.Assignees) == 0 {
		row.Set(ctx.Column, "N/A")
		return
	}
	for _, assignee := range item.Assignees {
		if inTeam(assignee, ctx.Sheet.Team) {
			row.Set(ctx.Column, assignee)
			return
		}
	}
	row.Set(ctx.Column, "Other")
}

func inTeam(login string, team []string) bool {
	for _, member := range team {
		if member == login {
			return true
		}
	}
	return false
}

func fillInternalPR(row *sheet.Row, item *source.Item, ctx *Context) {
	fillPRLink(row, ctx, ctx.Related.Internal)
}

func fillPublicPR(row *sheet.Row, item *source.Item, ctx *Context) {
	fillPRLink(row, ctx, ctx.Related.Public)
}

// fillPRLink shows the most recent related pull request as a hyperlink,
// colored by its status.
func fillPRLink(row *sheet.Row, ctx *Context, pulls []source.LinkedItem) {
	if len(pulls) == 0 {
		return
	}

	latest := pulls[0]
	row.Set(ctx.Column, sheet.URLFormula(latest.URL, latest.Number))
	row.SetColor(ctx.Column, statusColor(latest, ctx.Sheet.Team))
}

// statusColor maps a pull request's state to its cell color: authored
// outside the team wins over everything, then merged, then closed
// without merging.
func statusColor(pull source.LinkedItem, team []string) store.Color {
	if !inTeam(pull.Author, team) {
		return colorOutsideTeam
	}
	if pull.Merged {
		return colorMerged
	}
	if pull.State == "closed" {
		return colorClosed
	}
	return store.Color{Red: 1, Green: 1, Blue: 1}
}

func labelSet(item *source.Item) map[string]bool {
	labels := make(map[string]bool, len(item.Labels))
	for _, l := range item.Labels {
		labels[l] = true
	}
	return labels
}
