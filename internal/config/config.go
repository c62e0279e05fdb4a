// Package config loads the declarative tracker configuration.
//
// Configuration is a YAML file converted into an immutable Config value
// at the top of each pass. Sheet names, repository names and label keys
// are case-sensitive, so the file is decoded with yaml directly rather
// than through a case-folding layer. The tracker diffs fingerprints
// between passes and skips structural updates when nothing material
// changed; a malformed file never partially applies — Load fails and the
// previous valid Config stays active.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/tracksheet/internal/sheet"
	"github.com/steveyegge/tracksheet/internal/store"
)

// Duration is a time.Duration that decodes from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full tracker configuration, immutable per pass.
type Config struct {
	Title          string   `yaml:"title"`
	SpreadsheetID  string   `yaml:"spreadsheet_id,omitempty"`
	UpdateInterval Duration `yaml:"update_interval,omitempty"`
	StatePath      string   `yaml:"state_path,omitempty"`
	LogPath        string   `yaml:"log_path,omitempty"`
	DashboardAddr  string   `yaml:"dashboard_addr,omitempty"`

	Sheets map[string]*Sheet `yaml:"sheets"`
}

// Sheet configures one tracked sheet: which repositories feed it, how
// labels map to project names, who is on the team, and the column layout.
type Sheet struct {
	// Repos maps full repository names ("owner/name") to the short names
	// shown in the Repository column.
	Repos map[string]string `yaml:"repos"`

	// InternalRepos are privileged repositories whose pull requests land
	// in the internal linked-item partition.
	InternalRepos map[string]string `yaml:"internal_repos,omitempty"`

	// Labels maps item labels to project display names.
	Labels map[string]string `yaml:"labels,omitempty"`

	// Team is the assignee roster. "Other" and "N/A" are always present.
	Team []string `yaml:"team,omitempty"`

	// RosterFile optionally loads Team from a TOML file (relative paths
	// resolve against the config file's directory).
	RosterFile string `yaml:"roster_file,omitempty"`

	// Columns is the sheet's column layout, in display order.
	Columns []ColumnSpec `yaml:"columns"`

	// ArchiveSheet names the sheet archived rows move to; empty disables
	// archiving.
	ArchiveSheet string `yaml:"archive_sheet,omitempty"`
}

// ColumnSpec describes one column in configuration form.
type ColumnSpec struct {
	Name   string      `yaml:"name"`
	Width  int         `yaml:"width,omitempty"`
	Align  string      `yaml:"align,omitempty"`
	Type   string      `yaml:"type,omitempty"`
	Fill   string      `yaml:"fill,omitempty"`
	Values []ValueSpec `yaml:"values,omitempty"`
}

// ValueSpec is one enumerated column value with an optional color.
type ValueSpec struct {
	Value string       `yaml:"value"`
	Color *store.Color `yaml:"color,omitempty"`
}

// DefaultUpdateInterval is used when the config omits update_interval.
const DefaultUpdateInterval = time.Hour

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = Duration(DefaultUpdateInterval)
	}
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(filepath.Dir(path), "tracksheet.db")
	}

	for name, sh := range cfg.Sheets {
		if err := sh.finish(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish resolves the roster file and normalizes the team list.
func (s *Sheet) finish(baseDir string) error {
	if s.RosterFile != "" {
		path := s.RosterFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		var roster struct {
			Team []string `toml:"team"`
		}
		if _, err := toml.DecodeFile(path, &roster); err != nil {
			return fmt.Errorf("failed to load roster %s: %w", s.RosterFile, err)
		}
		s.Team = roster.Team
	}

	// The assignee handler relies on these fallback entries.
	for _, required := range []string{"Other", "N/A"} {
		found := false
		for _, member := range s.Team {
			if member == required {
				found = true
				break
			}
		}
		if !found {
			s.Team = append(s.Team, required)
		}
	}
	return nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("config: title is required")
	}
	if len(c.Sheets) == 0 {
		return fmt.Errorf("config: at least one sheet is required")
	}

	for name, sh := range c.Sheets {
		if len(sh.Repos) == 0 && len(sh.InternalRepos) == 0 {
			return fmt.Errorf("config: sheet %q tracks no repositories", name)
		}
		if err := sh.Layout().Validate(); err != nil {
			return fmt.Errorf("config: sheet %q: %w", name, err)
		}
	}
	return nil
}

// SheetNames returns the configured sheet names in deterministic order.
func (c *Config) SheetNames() []string {
	names := make([]string, 0, len(c.Sheets))
	for name := range c.Sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint returns a stable hash of the configuration, used to detect
// "no material change" between passes.
func (c *Config) Fingerprint() string {
	normalized, err := yaml.Marshal(c)
	if err != nil {
		// Config values are plain data; Marshal cannot realistically fail.
		return ""
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

// Dump returns the normalized YAML rendering of the configuration.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// Layout converts the sheet's column specs into the presentation layout.
// The team roster is injected as the value set of the assignee column so
// the dropdown always matches the roster.
func (s *Sheet) Layout() sheet.Layout {
	columns := make([]sheet.Column, len(s.Columns))
	for i, spec := range s.Columns {
		col := sheet.Column{
			Name:  spec.Name,
			Width: spec.Width,
			Align: spec.Align,
			Type:  spec.Type,
			Fill:  spec.Fill,
		}
		for _, v := range spec.Values {
			col.Values = append(col.Values, sheet.ValueOption{Value: v.Value, Color: v.Color})
		}
		if spec.Fill == "assignee" && len(col.Values) == 0 {
			for _, member := range s.Team {
				col.Values = append(col.Values, sheet.ValueOption{Value: member})
			}
		}
		columns[i] = col
	}
	return sheet.Layout{Columns: columns}
}

// AllRepos merges public and internal repositories into one full→short map.
func (s *Sheet) AllRepos() map[string]string {
	out := make(map[string]string, len(s.Repos)+len(s.InternalRepos))
	for full, short := range s.Repos {
		out[full] = short
	}
	for full, short := range s.InternalRepos {
		out[full] = short
	}
	return out
}

// RepoNames returns all tracked full repository names, sorted.
func (s *Sheet) RepoNames() []string {
	all := s.AllRepos()
	names := make([]string, 0, len(all))
	for full := range all {
		names = append(names, full)
	}
	sort.Strings(names)
	return names
}

// ShortName resolves a full repository name to its short display name.
func (s *Sheet) ShortName(full string) string {
	if short, ok := s.Repos[full]; ok {
		return short
	}
	return s.InternalRepos[full]
}

// IsInternal reports whether a full repository name is privileged.
func (s *Sheet) IsInternal(full string) bool {
	_, ok := s.InternalRepos[full]
	return ok
}

// KnownNames returns every name the reference matcher may resolve: full
// repository names and their short names.
func (s *Sheet) KnownNames() []string {
	var names []string
	for full, short := range s.AllRepos() {
		names = append(names, full, short)
	}
	sort.Strings(names)
	return names
}

// ResolveShort maps a matcher qualifier (full or short repository name) to
// the short display name. Returns "" when the qualifier is unknown.
func (s *Sheet) ResolveShort(qualifier string) string {
	all := s.AllRepos()
	if short, ok := all[qualifier]; ok {
		return short
	}
	for _, short := range all {
		if short == qualifier {
			return short
		}
	}
	// Bare repository name ("name" of "owner/name").
	for full, short := range all {
		if idx := len(full) - len(qualifier); idx > 0 && full[idx-1] == '/' && full[idx:] == qualifier {
			return short
		}
	}
	return ""
}
