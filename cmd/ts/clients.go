package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/steveyegge/tracksheet/internal/config"
	"github.com/steveyegge/tracksheet/internal/source"
	"github.com/steveyegge/tracksheet/internal/source/github"
	"github.com/steveyegge/tracksheet/internal/state"
	"github.com/steveyegge/tracksheet/internal/store"
	"github.com/steveyegge/tracksheet/internal/store/local"
)

// configPath returns the active config file location: --config flag or
// TRACKSHEET_CONFIG.
func configPath() string {
	return viper.GetString("config")
}

// loadConfig reads and validates the config file.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

// openState opens (and migrates) the durable cursor store named by the
// configuration.
func openState(cfg *config.Config) (*state.Store, error) {
	st, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to init state schema: %w", err)
	}
	return st, nil
}

// newSourceClient builds the issue-tracker client. The token comes from
// TRACKSHEET_GITHUB_TOKEN; an empty token works but rate-limits hard.
func newSourceClient(logger *log.Logger) source.Client {
	return github.New(viper.GetString("github_token"), github.WithLogger(logger))
}

// newStoreClient builds the tabular store client: a JSON-file-backed
// document next to the config file, overridable with
// TRACKSHEET_STORE_FILE.
func newStoreClient() store.Client {
	path := viper.GetString("store_file")
	if path == "" {
		path = filepath.Join(filepath.Dir(configPath()), "tracksheet.sheets.json")
	}
	return local.New(path)
}
