/*
lmirror tracks filesystem changes as a journal of per-path actions, replays
those journals to bring a destination tree up to date with a source, and
serves a mirror set's history over HTTP for pull-based replication.

A mirror set lives under its base directory's ".lmirror/sets/<name>" and
".lmirror/metadata/<name>" namespaces, and tracks a separate content tree
("content_root" in set.conf). Changes are captured by scanning the content
tree between a "start-change" and a "finish-change" call and published as a
new journal; a receiver pulls every journal newer than its own and replays
the combined delta into its own content tree.

# USAGE

	lmirror [--config=PATH] [--base-dir=PATH] [--log-level=LEVEL] [--json] <command> [args]

# COMMANDS

	help [command]
		Prints global usage, or one command's usage line if named.

	init <name> <content-root>
		Creates a brand-new mirror set under base-dir.

	start-change <name>
		Marks a set as being updated; must precede finish-change.

	finish-change <name>
		Scans the set's content tree and publishes a new journal if
		anything changed since the last finished change.

	cancel-change <name>
		Clears the updating flag without publishing anything.

	mirror <name>
		Diagnostic: scans the set's content tree against its current
		basis..latest journal and prints what finish-change would
		publish, without starting a change or writing anything.

	receive <name> <source>
		Pulls and applies every journal newer than the local set's
		latest from source, which is either the name of another set
		under base-dir or an http(s):// smart server URL.

	serve
		Runs the HTTP smart server over every set found under base-dir.

# GLOBAL FLAGS

	--config string
		Optional. Path to a YAML configuration file. Direct CLI flags
		always override values set via the configuration file.

	--base-dir string
		Base directory holding every mirror set's .lmirror namespace.

		Default: .

	--signing-key string
		Optional. Path to an armored OpenPGP private key used to sign
		journals published by finish-change.

	--listen-addr string
		Address the "serve" command binds to.

		Default: :8337

	--watch-sets
		Optional. Have "serve" run an inotify watcher per set, backing
		the /changes and /updated smart-server endpoints.

	--verify
		Optional. Have "receive" re-read and re-hash every file it
		writes after the fact, on top of the streaming sha1 check.

	--log-level [debug|info|warn|error]
		Default: info

	--json
		Outputs logs in JSON instead of human-readable form.

# RETURN CODES

  - 0: Success
  - 1: Failure
  - 5: Invalid command-line arguments and/or configuration file

(c) lmirror contributors / License: GNU General Public License v2
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/desertwitch/lmirror/internal/config"
)

const (
	exitCodeSuccess        = 0
	exitCodeFailure        = 1
	exitCodePartialFailure = 2
	exitCodeConfigFailure  = 5

	exitTimeout = 10 * time.Second
)

// app holds everything a subcommand needs: the filesystem it operates
// against, where to write output, its merged configuration, and a logger
// built from that configuration.
type app struct {
	fsys   afero.Fs
	stdout io.Writer
	stderr io.Writer

	cfg config.Options
	log *slog.Logger

	globalFlags *flag.FlagSet
}

// newApp parses the global flags out of cliArgs, merges a --config file
// (if any) underneath them, validates the result, and returns the app plus
// whatever arguments remain for the subcommand dispatcher.
func newApp(cliArgs []string, fsys afero.Fs, stdout, stderr io.Writer) (*app, []string, error) {
	a := &app{fsys: fsys, stdout: stdout, stderr: stderr}

	base := config.Default()

	fs := flag.NewFlagSet("lmirror", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: lmirror [flags] <command> [args]\n")
		fmt.Fprintf(stderr, "commands: help, init, start-change, finish-change, cancel-change, mirror, receive, serve\n\n")
		fs.PrintDefaults()
	}

	var yamlFile string

	fs.StringVar(&yamlFile, "config", "", "path to a yaml configuration file")
	fs.StringVar(&base.BaseDir, "base-dir", base.BaseDir, "base directory holding every mirror set")
	fs.StringVar(&base.Server, "server", base.Server, "default smart server base URL for receive")
	fs.StringVar(&base.SigningKey, "signing-key", base.SigningKey, "path to an armored OpenPGP private key for signing")
	fs.StringVar(&base.LogLevel, "log-level", base.LogLevel, "debug, info, warn, or error")
	fs.BoolVar(&base.JSON, "json", base.JSON, "output logs as JSON")
	fs.StringVar(&base.ListenAddr, "listen-addr", base.ListenAddr, "address for the serve command to bind to")
	fs.BoolVar(&base.WatchSets, "watch-sets", base.WatchSets, "run an inotify watcher per set under serve")
	fs.BoolVar(&base.Verify, "verify", base.Verify, "re-read and re-hash every file receive writes, after the fact")

	a.globalFlags = fs

	if err := fs.Parse(cliArgs); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrConfigMalformed, err)
	}

	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	opts := base

	if yamlFile != "" {
		merged, err := config.LoadYAML(fsys, yamlFile, base)
		if err != nil {
			return nil, nil, err
		}

		opts = merged

		if setFlags["base-dir"] {
			opts.BaseDir = base.BaseDir
		}
		if setFlags["server"] {
			opts.Server = base.Server
		}
		if setFlags["signing-key"] {
			opts.SigningKey = base.SigningKey
		}
		if setFlags["log-level"] {
			opts.LogLevel = base.LogLevel
		}
		if setFlags["json"] {
			opts.JSON = base.JSON
		}
		if setFlags["listen-addr"] {
			opts.ListenAddr = base.ListenAddr
		}
		if setFlags["watch-sets"] {
			opts.WatchSets = base.WatchSets
		}
		if setFlags["verify"] {
			opts.Verify = base.Verify
		}
	}

	if err := config.Validate(&opts); err != nil {
		return nil, nil, err
	}

	a.cfg = opts
	a.log = slog.New(config.LogHandler(opts, stderr))

	return a, fs.Args(), nil
}

func (a *app) baseDir() string {
	return filepath.Clean(a.cfg.BaseDir)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
