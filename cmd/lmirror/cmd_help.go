package main

import (
	"context"
	"fmt"
)

// commandUsage gives the one-line invocation form for each subcommand, used
// by help <command> and echoed by a subcommand's own argument-count checks.
var commandUsage = map[string]string{
	"init":          "lmirror init <name> <content-root>",
	"start-change":  "lmirror start-change <name>",
	"cancel-change": "lmirror cancel-change <name>",
	"finish-change": "lmirror finish-change <name>",
	"mirror":        "lmirror mirror <name>",
	"receive":       "lmirror receive <name> <source>",
	"serve":         "lmirror serve",
}

// runHelp prints the global usage, or a single command's usage line when
// named: "lmirror help [command]".
func (a *app) runHelp(_ context.Context, args []string) error {
	if len(args) == 0 {
		a.globalFlags.Usage()

		return nil
	}

	usage, ok := commandUsage[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	fmt.Fprintf(a.stdout, "usage: %s\n", usage)

	return nil
}
