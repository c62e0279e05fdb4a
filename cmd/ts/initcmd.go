package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively scaffold a config file",
	Long: `Walk through the minimal questions needed for a working config and
write it to the --config path. The generated file starts with a standard
column layout; edit it to taste afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}

		var (
			title     string
			sheetName = "Main"
			reposRaw  string
			teamRaw   string
			interval  = "1h"
			archive   bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Document title").
					Placeholder("Issue Tracker").
					Value(&title),
				huh.NewInput().
					Title("Sheet name").
					Value(&sheetName),
				huh.NewInput().
					Title("Repositories (owner/name=Short, comma separated)").
					Placeholder("org/widgets=Widgets").
					Value(&reposRaw),
				huh.NewInput().
					Title("Team logins (comma separated)").
					Value(&teamRaw),
				huh.NewInput().
					Title("Update interval").
					Value(&interval),
				huh.NewConfirm().
					Title("Maintain an archive sheet for finished rows?").
					Value(&archive),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		cfg, err := buildInitialConfig(title, sheetName, reposRaw, teamRaw, interval, archive)
		if err != nil {
			return err
		}

		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("%s Run \"ts sync\" for a first pass\n", ui.RenderDim("→"))
		return nil
	},
}

// buildInitialConfig assembles and validates a starter configuration.
func buildInitialConfig(title, sheetName, reposRaw, teamRaw, interval string, archive bool) (*config.Config, error) {
	repos := make(map[string]string)
	for _, pair := range strings.Split(reposRaw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		full, short, found := strings.Cut(pair, "=")
		if !found {
			// Default the short name to the bare repository name.
			short = full
			if _, name, ok := strings.Cut(full, "/"); ok {
				short = name
			}
		}
		repos[strings.TrimSpace(full)] = strings.TrimSpace(short)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("at least one repository is required")
	}

	var team []string
	for _, member := range strings.Split(teamRaw, ",") {
		if member = strings.TrimSpace(member); member != "" {
			team = append(team, member)
		}
	}

	parsed, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("bad interval %q: %w", interval, err)
	}

	sh := &config.Sheet{
		Repos:   repos,
		Team:    team,
		Columns: defaultColumns(),
	}
	if archive {
		sh.ArchiveSheet = "Archive"
	}

	cfg := &config.Config{
		Title:          title,
		UpdateInterval: config.Duration(parsed),
		Sheets:         map[string]*config.Sheet{sheetName: sh},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultColumns is the standard tracking layout.
func defaultColumns() []config.ColumnSpec {
	return []config.ColumnSpec{
		{Name: "Priority", Width: 80, Align: "CENTER", Fill: "priority", Values: []config.ValueSpec{
			{Value: "Critical"}, {Value: "High"}, {Value: "Medium"},
			{Value: "Low"}, {Value: "New"}, {Value: "Done"}, {Value: "Closed"},
		}},
		{Name: "Issue", Width: 60, Align: "CENTER", Type: "link", Fill: "issue"},
		{Name: "Work status", Width: 100, Align: "CENTER", Fill: "status"},
		{Name: "Created", Width: 90, Align: "CENTER", Type: "date", Fill: "created"},
		{Name: "Description", Width: 340, Fill: "description"},
		{Name: "Repository", Width: 110, Align: "CENTER", Fill: "repository"},
		{Name: "Project", Width: 120, Align: "CENTER", Fill: "project"},
		{Name: "Assignee", Width: 120, Align: "CENTER", Fill: "assignee"},
		{Name: "Internal PR", Width: 100, Align: "CENTER", Type: "link", Fill: "internal_pr"},
		{Name: "Public PR", Width: 100, Align: "CENTER", Type: "link", Fill: "public_pr"},
		{Name: "Comment", Width: 340},
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}
