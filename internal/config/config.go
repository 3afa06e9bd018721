// Package config holds the lmirror CLI's own settings: global,
// process-level choices (base directory, logging, default signing key) as
// distinct from a mirror set's on-disk set.conf/content.conf (spec.md §9
// ambient configuration layer). Modeled on
// desertwitch-mirrorshuttle/cmd/mirrorshuttle's flag+YAML merge pattern.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigMissing is returned when a named --config file does not exist.
	ErrConfigMissing = errors.New("config file does not exist")

	// ErrConfigMalformed is returned when a --config file fails to parse, or
	// names an unrecognized log level.
	ErrConfigMalformed = errors.New("config file is malformed")
)

// Options is the CLI's own configuration, overlaid by YAML file then CLI
// flags (flags win). It never describes a specific mirror set.
type Options struct {
	BaseDir     string `yaml:"base_dir"`
	Server      string `yaml:"server"`
	SigningKey  string `yaml:"signing_key"`
	LogLevel    string `yaml:"log_level"`
	JSON        bool   `yaml:"json"`
	ListenAddr  string `yaml:"listen_addr"`
	WatchSets   bool   `yaml:"watch_sets"`

	// Verify has receive re-read and re-hash every materialized file after
	// it lands on disk, independently of the streaming sha1 check.
	Verify bool `yaml:"verify"`
}

// Default returns the baseline configuration applied before any YAML file
// or flag overrides it.
func Default() Options {
	return Options{
		BaseDir:    ".",
		LogLevel:   "info",
		ListenAddr: ":8337",
	}
}

// LoadYAML reads and merges a YAML config file on top of base. Unknown
// fields are rejected, matching the teacher's strict decode.
func LoadYAML(fsys afero.Fs, path string, base Options) (Options, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrConfigMissing, err)
	}
	defer f.Close()

	merged := base

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&merged); err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrConfigMalformed, err)
	}

	return merged, nil
}

// Validate normalizes and checks opts, matching the kind of up-front
// argument validation desertwitch-mirrorshuttle performs before running.
func Validate(opts *Options) error {
	if opts.BaseDir == "" {
		return fmt.Errorf("%w: base_dir must be set", ErrConfigMalformed)
	}

	opts.BaseDir = filepath.Clean(opts.BaseDir)

	if _, err := parseLogLevel(opts.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q: %w", ErrConfigMalformed, opts.LogLevel, err)
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unrecognized log level: %w", err)
	}

	return level, nil
}

// LogHandler builds the slog handler for opts, switching between
// human-readable (tint) and machine-readable (JSON) output.
func LogHandler(opts Options, w io.Writer) slog.Handler {
	level, _ := parseLogLevel(opts.LogLevel)

	if opts.JSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
}
