package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/tracksheet/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the normalized configuration",
	Long: `Load and validate the config file, then print it back out with
defaults applied and team rosters resolved. Useful for checking what the
tracker will actually do with a hand-edited file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n\n", ui.RenderHeader("Config:"), configPath())
		fmt.Print(string(out))
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repos := make(map[string]bool)
		for _, sh := range cfg.Sheets {
			for full := range sh.AllRepos() {
				repos[full] = true
			}
		}
		fmt.Printf("%s %s is valid (%d sheets, %d repos)\n",
			ui.RenderPass("✓"), configPath(), len(cfg.Sheets), len(repos))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
