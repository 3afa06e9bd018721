package main

import (
	"context"
	"fmt"

	"github.com/desertwitch/lmirror/internal/signing"
)

func (a *app) runReceive(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: lmirror receive <name> <source>")
	}

	name, src := args[0], args[1]

	dest, err := a.openLocalSet(ctx, name)
	if err != nil {
		return fmt.Errorf("open destination set %q: %w", name, err)
	}

	dest.Verifier = &signing.OpenPGP{}

	source, sourceName, err := a.openSource(ctx, src)
	if err != nil {
		return fmt.Errorf("open source %q: %w", src, err)
	}

	a.log.Info("receiving changes",
		"op", "receive",
		"set", name,
		"source", sourceName,
	)

	if err := dest.Receive(ctx, source); err != nil {
		return fmt.Errorf("receive into %q from %q: %w", name, sourceName, err)
	}

	a.log.Info("receive complete", "op", "receive", "set", name)

	return nil
}
