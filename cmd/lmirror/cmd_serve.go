package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertwitch/lmirror/internal/mirrorset"
	"github.com/desertwitch/lmirror/internal/server"
	"github.com/desertwitch/lmirror/internal/watcher"
)

const setsDir = ".lmirror/sets"

func (a *app) discoverSets(ctx context.Context) ([]string, error) {
	names, err := a.localBase().ListDir(ctx, setsDir)
	if err != nil {
		return nil, fmt.Errorf("list mirror sets under %q: %w", setsDir, err)
	}

	return names, nil
}

// runServe opens every mirror set under base-dir, optionally attaches a
// watcher to each, and runs the HTTP smart server until ctx is cancelled.
func (a *app) runServe(ctx context.Context, _ []string) error {
	names, err := a.discoverSets(ctx)
	if err != nil {
		return err
	}

	sets := make(map[string]*mirrorset.MirrorSet, len(names))
	watchers := make(map[string]*watcher.Watcher, len(names))

	for _, name := range names {
		ms, err := a.openLocalSet(ctx, name)
		if err != nil {
			return fmt.Errorf("open set %q: %w", name, err)
		}

		sets[name] = ms

		if a.cfg.WatchSets {
			root, err := ms.Content.LocalAbspath("")
			if err != nil {
				return fmt.Errorf("resolve content root of %q: %w", name, err)
			}

			w, err := watcher.New(root, nowStamp(), a.log.With("set", name))
			if err != nil {
				return fmt.Errorf("watch %q: %w", name, err)
			}

			watchers[name] = w
		}
	}

	defer func() {
		for _, w := range watchers {
			_ = w.Close()
		}
	}()

	srv := server.New(func(name string) (*mirrorset.MirrorSet, bool) {
		ms, ok := sets[name]

		return ms, ok
	}, watchers, a.log)

	a.log.Info("serving mirror sets",
		"op", "serve",
		"listen_addr", a.cfg.ListenAddr,
		"sets", names,
	)

	httpSrv := &http.Server{Addr: a.cfg.ListenAddr, Handler: srv}

	errCh := make(chan error, 1)

	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return httpSrv.Close()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	}
}
