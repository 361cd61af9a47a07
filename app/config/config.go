package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/graft/xtime"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Database defines options of the migrated database.
type Database struct {
	// Path is the SQLite database file path or DSN.
	Path sql.Null[string] `json:"path"`
	// BusyTimeout is how long to wait for locks held by other connections.
	// It serializes from/to duration strings such as "5s" or "1m30s".
	BusyTimeout sql.Null[time.Duration] `json:"busy_timeout"`
}

// Migrations defines where migrations are read from and how they're tracked.
type Migrations struct {
	// Dir is the directory containing SQL migration files.
	Dir sql.Null[string] `json:"dir"`
	// Table is the name of the table recording applied migrations.
	Table sql.Null[string] `json:"table"`
}

type cfgWrapper struct {
	Database   dbCfgWrapper  `json:"database"`
	Migrations migCfgWrapper `json:"migrations"`
}
type dbCfgWrapper struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
type migCfgWrapper struct {
	Dir   string `json:"dir,omitempty"`
	Table string `json:"table,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Path.Valid {
		w.Database.Path = c.Database.Path.V
	}
	if c.Database.BusyTimeout.Valid {
		w.Database.BusyTimeout = xtime.FormatDuration(c.Database.BusyTimeout.V, time.Millisecond)
	}
	if c.Migrations.Dir.Valid {
		w.Migrations.Dir = c.Migrations.Dir.V
	}
	if c.Migrations.Table.Valid {
		w.Migrations.Table = c.Migrations.Table.V
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Path != "" {
		c.Database.Path = sql.Null[string]{V: w.Database.Path, Valid: true}
	}
	if w.Database.BusyTimeout != "" {
		dur, err := xtime.ParseDuration(w.Database.BusyTimeout)
		if err != nil {
			return fmt.Errorf("failed parsing database busy timeout: %w", err)
		}
		if dur < 0 {
			return fmt.Errorf("database busy timeout must not be negative, got %s", w.Database.BusyTimeout)
		}
		c.Database.BusyTimeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}
	if w.Migrations.Dir != "" {
		c.Migrations.Dir = sql.Null[string]{V: w.Migrations.Dir, Valid: true}
	}
	if w.Migrations.Table != "" {
		c.Migrations.Table = sql.Null[string]{V: w.Migrations.Table, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// The default database file is created in dataDir.
func (c *Config) SetDefaults(dataDir string) {
	if !c.Database.Path.Valid {
		c.Database.Path = sql.Null[string]{V: filepath.Join(dataDir, "graft.db"), Valid: true}
	}
	if !c.Database.BusyTimeout.Valid {
		c.Database.BusyTimeout = sql.Null[time.Duration]{V: 5 * time.Second, Valid: true}
	}
	if !c.Migrations.Dir.Valid {
		c.Migrations.Dir = sql.Null[string]{V: "migrations", Valid: true}
	}
	if !c.Migrations.Table.Valid {
		c.Migrations.Table = sql.Null[string]{V: "_migrations", Valid: true}
	}
}
