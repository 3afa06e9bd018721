package main

import (
	"context"
	"fmt"

	"github.com/desertwitch/lmirror/internal/mirrorset"
)

func (a *app) runInit(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: lmirror init <name> <content-root>")
	}

	name, contentRoot := args[0], args[1]

	a.log.Info("initialising mirror set",
		"op", "init",
		"set", name,
		"content_root", contentRoot,
	)

	ms, err := mirrorset.Initialise(ctx, a.localBase(), name, contentRoot)
	if err != nil {
		return fmt.Errorf("initialise set %q: %w", name, err)
	}

	a.log.Info("mirror set initialised", "op", "init", "set", ms.Name)

	return nil
}
