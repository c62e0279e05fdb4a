// Package xref maintains the cross-reference index between tracked items
// and the pull requests that mention them.
//
// The index scans linked-item bodies for recognized reference phrases and
// files each pull request under the item it targets, split into two
// partitions: "internal" for pull requests originating from privileged
// repositories, "public" for everything else. Scanning is incremental: a
// persisted per-repository watermark lets each pass stop as soon as it
// reaches items older than the last completed scan.
package xref

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/steveyegge/tracksheet/internal/match"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/state"
)

// Key identifies a reference target: item number plus the short name of
// the repository it lives in.
type Key struct {
	Number string
	Repo   string
}

// Related is the result of a lookup: both partitions, newest-created
// first.
type Related struct {
	Internal []source.LinkedItem
	Public   []source.LinkedItem
}

// Config wires the index to the active sheet configuration.
type Config struct {
	// InternalRepos holds full names of privileged repositories.
	InternalRepos map[string]bool

	// KnownNames feeds the reference matcher's qualifier set.
	KnownNames []string

	// ResolveShort maps a reference qualifier (full or bare repository
	// name) to a short display name. Unresolvable qualifiers cause the
	// reference to be dropped.
	ResolveShort func(qualifier string) string
}

// Index is the linked-item index for one sheet.
type Index struct {
	store  *state.Store
	sheet  string
	logger *log.Logger

	mu       sync.Mutex
	cfg      Config
	internal map[Key][]source.LinkedItem
	public   map[Key][]source.LinkedItem
}

// New creates an empty index backed by the given durable store for
// watermarks. A nil logger defaults to stderr.
func New(st *state.Store, sheetName string, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(os.Stderr, "[xref] ", log.LstdFlags)
	}
	return &Index{
		store:    st,
		sheet:    sheetName,
		logger:   logger,
		internal: make(map[Key][]source.LinkedItem),
		public:   make(map[Key][]source.LinkedItem),
	}
}

// ReloadConfig swaps in the current pass's sheet configuration.
func (x *Index) ReloadConfig(cfg Config) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cfg = cfg
}

// IndexClosed scans repo's closed linked items and files every recognized
// reference. The scan early-exits at the persisted watermark; the
// watermark advances only after a complete scan, so an interrupted scan is
// simply redone next pass (upserts make the re-scan harmless).
func (x *Index) IndexClosed(ctx context.Context, client source.Client, repoFull, repoShort string) error {
	pulls, err := client.ListClosedLinkedItems(ctx, repoFull)
	if err != nil {
		return fmt.Errorf("failed to list closed linked items for %s: %w", repoFull, err)
	}
	if len(pulls) == 0 {
		return nil
	}

	watermark, haveWatermark, err := x.store.GetCursor(state.NamespacePulls, x.sheet, repoFull)
	if err != nil {
		return fmt.Errorf("failed to load linked-item watermark for %s: %w", repoFull, err)
	}

	// Results arrive newest-updated-first, so everything after the first
	// pre-watermark entry was already indexed by an earlier pass.
	for _, pull := range pulls {
		if haveWatermark && pull.UpdatedAt.Before(watermark.UpdatedAt) {
			break
		}
		x.AddMatches(repoFull, repoShort, pull)
	}

	newest := pulls[0]
	err = x.store.PutCursor(state.NamespacePulls, x.sheet, repoFull, state.Cursor{
		UpdatedAt: newest.UpdatedAt,
		Identity:  newest.URL,
	})
	if err != nil {
		return fmt.Errorf("failed to persist linked-item watermark for %s: %w", repoFull, err)
	}
	return nil
}

// AddMatches runs the matcher over a linked item's body and files every
// resolvable reference. Used both by IndexClosed and by the engine when an
// open pull request shows up in the changed-item stream.
func (x *Index) AddMatches(repoFull, repoShort string, pull source.LinkedItem) {
	x.mu.Lock()
	known := x.cfg.KnownNames
	x.mu.Unlock()

	for _, ref := range match.Find(pull.Body, known) {
		x.Add(repoFull, repoShort, pull, ref)
	}
}

// Add upserts one linked item under the reference's target. References
// whose repository qualifier cannot be resolved are dropped silently —
// free-text scanning produces noise and an unresolvable name is expected,
// not an error.
func (x *Index) Add(repoFull, repoShort string, pull source.LinkedItem, ref match.Reference) {
	x.mu.Lock()
	defer x.mu.Unlock()

	targetRepo := repoShort
	if !ref.SameRepo() {
		if x.cfg.ResolveShort == nil {
			return
		}
		targetRepo = x.cfg.ResolveShort(ref.Repo)
		if targetRepo == "" {
			return
		}
	}

	key := Key{Number: ref.Number, Repo: targetRepo}
	partition := x.public
	if x.cfg.InternalRepos[repoFull] {
		partition = x.internal
	}

	partition[key] = upsert(partition[key], pull)
}

// upsert replaces an existing entry with the same URL in place, keeping
// list positions stable, or appends a new one. Repeated indexing of an
// unchanged item therefore never grows the list.
func upsert(pulls []source.LinkedItem, pull source.LinkedItem) []source.LinkedItem {
	for i, existing := range pulls {
		if existing.URL == pull.URL {
			pulls[i] = pull
			return pulls
		}
	}
	return append(pulls, pull)
}

// Related returns both partitions for a target item, each freshly sorted
// newest-created-first. The returned slices are copies; callers may keep
// them across passes.
func (x *Index) Related(number, repoShort string) Related {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := Key{Number: number, Repo: repoShort}
	return Related{
		Internal: sortedCopy(x.internal[key]),
		Public:   sortedCopy(x.public[key]),
	}
}

func sortedCopy(pulls []source.LinkedItem) []source.LinkedItem {
	out := append([]source.LinkedItem(nil), pulls...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
