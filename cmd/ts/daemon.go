package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/tracksheet/internal/dashboard"
	"github.com/steveyegge/tracksheet/internal/tracker"
	"github.com/steveyegge/tracksheet/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the tracker continuously",
	Long: `Run synchronization passes on the configured interval until
interrupted.

The daemon watches the config file and starts a fresh pass as soon as it
changes, instead of waiting out the interval. When log_path is set in
the config, logs rotate through it; when dashboard_addr is set, a
WebSocket status endpoint reports pass events in real time.

Example usage:
  ts daemon -c /etc/tracksheet/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var logSink io.Writer = os.Stderr
		if cfg.LogPath != "" {
			logSink = &lumberjack.Logger{
				Filename:   cfg.LogPath,
				MaxSize:    10, // megabytes
				MaxBackups: 5,
				MaxAge:     30, // days
			}
		}
		logger := log.New(logSink, "[daemon] ", log.LstdFlags)

		st, err := openState(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		tr := tracker.New(configPath(), newSourceClient(logger), newStoreClient(), st, logger)

		var dash *dashboard.Server
		if cfg.DashboardAddr != "" {
			dash = dashboard.NewServer(cfg.DashboardAddr, logger)
			if err := dash.Start(); err != nil {
				return err
			}
			defer func() { _ = dash.Stop() }()
			tr.SetPublisher(dash)
			fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("📊"), dash.Addr())
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		wake, stopWatch, err := watchConfig(configPath(), logger)
		if err != nil {
			logger.Printf("config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}

		fmt.Printf("%s Tracker daemon started (interval %v)\n", ui.RenderAccent("🚀"), cfg.UpdateInterval.Std())
		fmt.Println("Press Ctrl+C to stop...")

		err = tr.Run(ctx, wake)
		if errors.Is(err, context.Canceled) {
			fmt.Printf("\n%s Daemon stopped\n", ui.RenderPass("✓"))
			return nil
		}
		return err
	},
}

// watchConfig watches the config file's directory and signals wake on
// changes to the file itself. Watching the directory rather than the
// file survives editors that replace the file on save.
func watchConfig(path string, logger *log.Logger) (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	target := filepath.Clean(path)

	go func() {
		// Debounce: editors fire several events per save.
		var pending *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(500*time.Millisecond, func() {
					logger.Printf("config file changed")
					select {
					case wake <- struct{}{}:
					default:
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("config watch error: %v", err)
			}
		}
	}()

	return wake, func() { _ = watcher.Close() }, nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
