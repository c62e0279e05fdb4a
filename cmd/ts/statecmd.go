package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/steveyegge/tracksheet/internal/state"
	"github.com/steveyegge/tracksheet/internal/ui"
)

var stateSince string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted fetch cursors",
	Long: `Print the watermark stored for every (sheet, repository) pair, for
both the primary item cursors and the closed linked-item scans.

The --since filter accepts natural language as well as RFC 3339
timestamps, e.g. --since "3 days ago" or --since "last friday", and
keeps only cursors that advanced after that moment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var cutoff time.Time
		if stateSince != "" {
			cutoff, err = parseSince(stateSince)
			if err != nil {
				return err
			}
		}

		for _, ns := range []string{state.NamespaceIssues, state.NamespacePulls} {
			cursors, err := st.ListCursors(ns)
			if err != nil {
				return err
			}
			printCursors(ns, cursors, cutoff)
		}
		return nil
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <sheet> <repo>",
	Short: "Drop the cursors for one sheet/repository pair",
	Long: `Delete the stored watermarks so the next pass refetches the
repository from scratch. Safe to run at any time; the merge is
idempotent, so refetched items simply overwrite their rows.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		sheetName, repo := args[0], args[1]
		for _, ns := range []string{state.NamespaceIssues, state.NamespacePulls} {
			if err := st.DeleteCursor(ns, sheetName, repo); err != nil {
				return err
			}
		}
		fmt.Printf("%s Cursors cleared for %s/%s; next pass does a full fetch\n",
			ui.RenderPass("✓"), sheetName, repo)
		return nil
	},
}

// parseSince turns a natural-language or RFC 3339 time string into a
// cutoff timestamp.
func parseSince(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", s)
	}
	return r.Time, nil
}

func printCursors(namespace string, cursors map[string]state.Cursor, cutoff time.Time) {
	title := "Item cursors"
	if namespace == state.NamespacePulls {
		title = "Closed linked-item watermarks"
	}
	fmt.Printf("%s\n", ui.RenderHeader(title))

	keys := make([]string, 0, len(cursors))
	for k := range cursors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	shown := 0
	for _, k := range keys {
		c := cursors[k]
		if !cutoff.IsZero() && !c.UpdatedAt.After(cutoff) {
			continue
		}
		shown++
		identity := c.Identity
		if identity == "" {
			identity = ui.RenderDim("(empty scan)")
		}
		fmt.Printf("  %-40s %s  %s\n", k, c.UpdatedAt.Local().Format(time.RFC3339), identity)
	}
	if shown == 0 {
		fmt.Printf("  %s\n", ui.RenderDim("none"))
	}
	fmt.Println()
}

func init() {
	stateCmd.Flags().StringVar(&stateSince, "since", "", "only show cursors advanced after this time (natural language ok)")
	stateCmd.AddCommand(stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}
