package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/tracksheet/internal/tracker"
	"github.com/steveyegge/tracksheet/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	Long: `Run a single pass over every configured sheet: fetch changed items,
merge them into the rows, apply cleanup policies, and write the result
back. Useful for cron-driven setups and for verifying a config change.`,
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

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		tr := tracker.New(configPath(), newSourceClient(logger), newStoreClient(), st, logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		start := time.Now()
		fmt.Printf("%s Syncing %d sheets...\n", ui.RenderAccent("🔄"), len(cfg.Sheets))
		if err := tr.RunOnce(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("%s Document: %s\n", ui.RenderDim("→"), tr.SpreadsheetID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
