package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/mirrorset"
	"github.com/desertwitch/lmirror/internal/signing"
	"github.com/desertwitch/lmirror/internal/transport"
)

// localBase returns a Transport rooted at this app's base directory.
func (a *app) localBase() transport.Transport {
	return transport.NewLocal(a.fsys, a.baseDir())
}

// openLocalSet opens an already-initialised mirror set under base-dir,
// attaching a Signer if a signing key was configured and persisting a
// configured --server into the set's metadata.conf so finish-change can
// consult it for a change hint list and ping it afterwards (spec §4.5, §6).
func (a *app) openLocalSet(ctx context.Context, name string) (*mirrorset.MirrorSet, error) {
	ms, err := mirrorset.Open(ctx, a.localBase(), name)
	if err != nil {
		return nil, err
	}

	ms.VerifyWrites = a.cfg.Verify

	if a.cfg.Server != "" {
		if err := ms.SetServer(ctx, a.cfg.Server); err != nil {
			return nil, err
		}
	}

	if a.cfg.SigningKey != "" {
		signer, err := a.loadSigner()
		if err != nil {
			return nil, err
		}

		ms.Signer = signer
	}

	return ms, nil
}

// openSource opens a mirror set to receive from: a smart-server URL if src
// starts with http(s)://, otherwise the local set named src under base-dir.
func (a *app) openSource(ctx context.Context, src string) (*mirrorset.MirrorSet, string, error) {
	if isHTTPURL(src) {
		serverURL, name, err := splitServerURL(src)
		if err != nil {
			return nil, "", err
		}

		ms, err := mirrorset.OpenRemote(nil, serverURL, name)

		return ms, name, err
	}

	ms, err := mirrorset.Open(ctx, a.localBase(), src)

	return ms, src, err
}

// splitServerURL splits "http://host:port/<name>" into the server's base
// URL and the set name, matching the on-disk layout's one-set-per-name
// addressing.
func splitServerURL(rawURL string) (serverURL, name string, err error) {
	i := lastSlash(rawURL)
	if i < 0 || i == len(rawURL)-1 {
		return "", "", fmt.Errorf("%w: %q must end in /<set-name>", lmirrorerr.ErrNotFound, rawURL)
	}

	return rawURL[:i], rawURL[i+1:], nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}

	return -1
}

func (a *app) loadSigner() (*signing.OpenPGP, error) {
	f, err := a.fsys.Open(a.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("open signing key %q: %w", a.cfg.SigningKey, err)
	}
	defer f.Close()

	entity, err := signing.LoadSigningKey(f)
	if err != nil {
		return nil, err
	}

	return &signing.OpenPGP{SigningKey: entity}, nil
}

// exitCodeFor maps a returned error onto the process exit code, following
// the sentinel taxonomy in internal/lmirrorerr.
func exitCodeFor(err error) int {
	if err == nil {
		return exitCodeSuccess
	}

	switch {
	case errors.Is(err, lmirrorerr.ErrWrongState),
		errors.Is(err, lmirrorerr.ErrNotFound),
		errors.Is(err, lmirrorerr.ErrAlreadyExists),
		errors.Is(err, lmirrorerr.ErrBadFormat):
		return exitCodeConfigFailure
	default:
		return exitCodeFailure
	}
}
