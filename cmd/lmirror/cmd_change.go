package main

import (
	"context"
	"fmt"
	"time"
)

func nowStamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (a *app) parseSetName(args []string, usage string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s", usage)
	}

	return args[0], nil
}

func (a *app) runStartChange(ctx context.Context, args []string) error {
	name, err := a.parseSetName(args, "lmirror start-change <name>")
	if err != nil {
		return err
	}

	ms, err := a.openLocalSet(ctx, name)
	if err != nil {
		return fmt.Errorf("open set %q: %w", name, err)
	}

	if err := ms.StartChange(ctx); err != nil {
		return fmt.Errorf("start change on %q: %w", name, err)
	}

	a.log.Info("change started", "op", "start-change", "set", name)

	return nil
}

func (a *app) runCancelChange(ctx context.Context, args []string) error {
	name, err := a.parseSetName(args, "lmirror cancel-change <name>")
	if err != nil {
		return err
	}

	ms, err := a.openLocalSet(ctx, name)
	if err != nil {
		return fmt.Errorf("open set %q: %w", name, err)
	}

	if err := ms.CancelChange(ctx); err != nil {
		return fmt.Errorf("cancel change on %q: %w", name, err)
	}

	a.log.Info("change cancelled", "op", "cancel-change", "set", name)

	return nil
}

func (a *app) runFinishChange(ctx context.Context, args []string) error {
	name, err := a.parseSetName(args, "lmirror finish-change <name>")
	if err != nil {
		return err
	}

	return a.finishChangeFor(ctx, name)
}

func (a *app) finishChangeFor(ctx context.Context, name string) error {
	ms, err := a.openLocalSet(ctx, name)
	if err != nil {
		return fmt.Errorf("open set %q: %w", name, err)
	}

	content, err := ms.ReadContentConf(ctx)
	if err != nil {
		return fmt.Errorf("read content.conf for %q: %w", name, err)
	}

	if err := ms.FinishChange(ctx, nowStamp(), content); err != nil {
		return fmt.Errorf("finish change on %q: %w", name, err)
	}

	a.log.Info("change finished", "op", "finish-change", "set", name)

	return nil
}
