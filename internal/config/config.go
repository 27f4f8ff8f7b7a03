// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultEncoding         = "cp932"
	DefaultHeaderRow        = 2
	DefaultTimeColumn       = "TIME"
	DefaultFileGlob         = "*.csv"
	DefaultSnapshotPath     = "table/d_tube_assembly.csv"
	DefaultStatePath        = "state.json"
	DefaultDebounceN        = 1
	DefaultWriteGuardWaitMs = 300
	DefaultSettle           = 2 * time.Second
	DefaultRescan           = time.Minute
	DefaultHTTPAddr         = ":8080"
	DefaultTopic            = "signal-pairer/pairs"
	DefaultSystemTopic      = "signal-pairer/system"
	DefaultClientID         = "signal-pairer"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	IO    IOConfig    `yaml:"io"`
	Paths PathsConfig `yaml:"paths"`
	Logic LogicConfig `yaml:"logic"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Watch WatchConfig `yaml:"watch"`
	Log   LogConfig   `yaml:"log"`
}

// IOConfig describes how snapshot files are encoded and laid out.
type IOConfig struct {
	// Encoding is a WHATWG label or one of cp932, sjis, utf8.
	Encoding string `yaml:"encoding"`

	// HeaderRow is the number of lines before the header line.
	HeaderRow int `yaml:"header_row"`

	TimeColumn string `yaml:"time_column"`

	// TimeLayouts are Go reference layouts tried in order. Empty uses the
	// built-in list.
	TimeLayouts []string `yaml:"time_layouts"`
}

// PathsConfig holds every file and directory the tool reads or writes.
type PathsConfig struct {
	BaseDir              string `yaml:"base_dir"`
	FileGlob             string `yaml:"file_glob"`
	PreviousSnapshotPath string `yaml:"previous_snapshot_path"`
	AssociationTablePath string `yaml:"association_table_path"`
	UnmatchedLedgerPath  string `yaml:"unmatched_ledger_path"`
	OutputDir            string `yaml:"output_dir"`
	StatePath            string `yaml:"state_path"`
}

// LogicConfig tunes edge detection and pairing.
type LogicConfig struct {
	// DebounceN is the number of consecutive High samples that confirm a rise.
	DebounceN int `yaml:"debounce_n"`

	// DurationMinMs and DurationMaxMs bound accepted pair durations. 0 disables.
	DurationMinMs int64 `yaml:"duration_min_ms"`
	DurationMaxMs int64 `yaml:"duration_max_ms"`

	WriteGuardEnable bool `yaml:"write_guard_enable"`
	WriteGuardWaitMs int  `yaml:"write_guard_wait_ms"`

	// RecentDays limits processing to files whose path carries a YYYYMMDD
	// date within this many days. 0 disables.
	RecentDays int `yaml:"recent_days"`
}

// MQTTConfig configures live publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Topic       string `yaml:"topic"`
	SystemTopic string `yaml:"system_topic"`
}

// WatchConfig configures the long-running watch mode.
type WatchConfig struct {
	// Settle is how long the tree must stay quiet before a run starts.
	Settle time.Duration `yaml:"settle"`

	// Rescan triggers a run even without filesystem events. 0 disables.
	Rescan time.Duration `yaml:"rescan"`

	// HTTPAddr is the status server address. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: text | json.
	Format string `yaml:"format"`
}

// WriteGuardWait returns the write guard wait as a duration.
func (l LogicConfig) WriteGuardWait() time.Duration {
	return time.Duration(l.WriteGuardWaitMs) * time.Millisecond
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		IO: IOConfig{
			Encoding:   DefaultEncoding,
			HeaderRow:  DefaultHeaderRow,
			TimeColumn: DefaultTimeColumn,
		},
		Paths: PathsConfig{
			FileGlob:             DefaultFileGlob,
			PreviousSnapshotPath: DefaultSnapshotPath,
			StatePath:            DefaultStatePath,
		},
		Logic: LogicConfig{
			DebounceN:        DefaultDebounceN,
			WriteGuardWaitMs: DefaultWriteGuardWaitMs,
		},
		MQTT: MQTTConfig{
			ClientID:    DefaultClientID,
			Topic:       DefaultTopic,
			SystemTopic: DefaultSystemTopic,
		},
		Watch: WatchConfig{
			Settle:   DefaultSettle,
			Rescan:   DefaultRescan,
			HTTPAddr: DefaultHTTPAddr,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch {
	case cfg.Paths.BaseDir == "":
		return fmt.Errorf("paths.base_dir is required")
	case cfg.Paths.AssociationTablePath == "":
		return fmt.Errorf("paths.association_table_path is required")
	case cfg.Paths.UnmatchedLedgerPath == "":
		return fmt.Errorf("paths.unmatched_ledger_path is required")
	case cfg.Paths.OutputDir == "":
		return fmt.Errorf("paths.output_dir is required")
	case cfg.Paths.PreviousSnapshotPath == "":
		return fmt.Errorf("paths.previous_snapshot_path must not be empty")
	case cfg.Paths.StatePath == "":
		return fmt.Errorf("paths.state_path must not be empty")
	}

	if cfg.IO.HeaderRow < 0 {
		return fmt.Errorf("io.header_row must not be negative")
	}
	if cfg.Logic.DebounceN < 1 {
		return fmt.Errorf("logic.debounce_n must be at least 1")
	}
	if cfg.Logic.DurationMinMs < 0 || cfg.Logic.DurationMaxMs < 0 {
		return fmt.Errorf("logic.duration_min_ms and duration_max_ms must not be negative")
	}
	if cfg.Logic.DurationMinMs > 0 && cfg.Logic.DurationMaxMs > 0 && cfg.Logic.DurationMaxMs < cfg.Logic.DurationMinMs {
		return fmt.Errorf("logic.duration_max_ms (%d) is below duration_min_ms (%d)", cfg.Logic.DurationMaxMs, cfg.Logic.DurationMinMs)
	}
	if cfg.Logic.WriteGuardWaitMs < 0 {
		return fmt.Errorf("logic.write_guard_wait_ms must not be negative")
	}
	if cfg.Logic.RecentDays < 0 {
		return fmt.Errorf("logic.recent_days must not be negative")
	}
	if cfg.Watch.Settle < 0 || cfg.Watch.Rescan < 0 {
		return fmt.Errorf("watch.settle and watch.rescan must not be negative")
	}

	for _, out := range []struct{ key, path string }{
		{"paths.output_dir", cfg.Paths.OutputDir},
		{"paths.unmatched_ledger_path", cfg.Paths.UnmatchedLedgerPath},
		{"paths.previous_snapshot_path", cfg.Paths.PreviousSnapshotPath},
		{"paths.state_path", cfg.Paths.StatePath},
	} {
		if within(cfg.Paths.BaseDir, out.path) {
			return fmt.Errorf("%s (%s) must not be inside paths.base_dir (%s)", out.key, out.path, cfg.Paths.BaseDir)
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	return nil
}

// within reports whether path is base or lies below it. Relative paths are
// resolved against the working directory, as they are when the files are
// opened.
func within(base, path string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
