package replay

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
	"github.com/desertwitch/lmirror/internal/transport"
)

const tempSuffix = ".lmirrortemp"

// Replayer applies an incoming replay stream to Dest, cross-checking every
// entry against Expected (the consolidated journal the caller already knows)
// before applying it (spec §4.4).
type Replayer struct {
	Dest     transport.Transport
	Expected *journal.Journal

	// VerifyWrites has stageFile re-read and re-hash a file with blake3
	// immediately after writing it, independently of the sha1 computed
	// in-transit against the journal, catching corruption the write itself
	// introduced.
	VerifyWrites bool
}

// Apply reads the replay stream from r and mutates Dest accordingly.
// Replace-new file renames are deferred until every entry in the stream
// (including the trailing del phase) has been applied.
func (r *Replayer) Apply(ctx context.Context, stream io.Reader) error {
	br := bufio.NewReader(stream)

	remaining := make(map[string]journal.Entry, len(r.Expected.Paths))
	for path, entry := range r.Expected.Paths {
		remaining[path] = entry
	}

	var deferredRenames []func() error

	for {
		path, entry, err := readEntryFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return err
		}

		expected, ok := remaining[path]
		if !ok || !entriesMatch(expected, entry) {
			return fmt.Errorf("%w: stream entry at %q does not match expected journal", lmirrorerr.ErrProtocol, path)
		}
		delete(remaining, path)

		switch entry.Action {
		case journal.ActionNew:
			if err := r.applyNew(ctx, br, path, entry.New); err != nil {
				return err
			}

		case journal.ActionReplace:
			rename, err := r.applyReplace(ctx, br, path, entry.New)
			if err != nil {
				return err
			}

			if rename != nil {
				deferredRenames = append(deferredRenames, rename)
			}

		case journal.ActionDel:
			if err := r.applyDel(ctx, path, entry.Old); err != nil {
				return err
			}
		}
	}

	for _, rename := range deferredRenames {
		if err := rename(); err != nil {
			return err
		}
	}

	if len(remaining) > 0 {
		return fmt.Errorf("%w: stream ended with %d expected entries unapplied", lmirrorerr.ErrProtocol, len(remaining))
	}

	return nil
}

func entriesMatch(a, b journal.Entry) bool {
	return a.Action == b.Action && a.Old.Equal(b.Old) && a.New.Equal(b.New)
}

// applyNew materializes content at path, renaming a file into place
// immediately once its body is verified.
func (r *Replayer) applyNew(ctx context.Context, br *bufio.Reader, path string, content pathcontent.PathContent) error {
	switch content.Kind {
	case pathcontent.KindDirectory:
		return r.applyDirectory(ctx, path)
	case pathcontent.KindSymlink:
		return r.applySymlink(ctx, path, content.Target)
	case pathcontent.KindFile:
		rename, err := r.stageFile(ctx, br, path, content)
		if err != nil {
			return err
		}

		return rename()
	default:
		return fmt.Errorf("%w: unknown kind for %q", lmirrorerr.ErrBadFormat, path)
	}
}

// applyReplace materializes the new side of a replace entry. File renames
// are returned rather than executed so the caller can defer them.
func (r *Replayer) applyReplace(ctx context.Context, br *bufio.Reader, path string, newContent pathcontent.PathContent) (func() error, error) {
	switch newContent.Kind {
	case pathcontent.KindDirectory:
		return nil, r.applyDirectory(ctx, path)
	case pathcontent.KindSymlink:
		return nil, r.applySymlink(ctx, path, newContent.Target)
	case pathcontent.KindFile:
		return r.stageFile(ctx, br, path, newContent)
	default:
		return nil, fmt.Errorf("%w: unknown kind for %q", lmirrorerr.ErrBadFormat, path)
	}
}

func (r *Replayer) applyDirectory(ctx context.Context, path string) error {
	info, err := r.Dest.Stat(ctx, path)
	if err == nil {
		if !info.IsDir {
			return fmt.Errorf("%w: %q exists and is not a directory", lmirrorerr.ErrUnexpectedKind, path)
		}

		return nil
	}

	if err := r.Dest.Mkdir(ctx, path); err != nil {
		return fmt.Errorf("mkdir %q: %w", path, err)
	}

	return nil
}

func (r *Replayer) applySymlink(ctx context.Context, path, target string) error {
	info, err := r.Dest.Stat(ctx, path)
	if err == nil {
		if !info.IsSymlink {
			return fmt.Errorf("%w: %q exists and is not a symlink", lmirrorerr.ErrUnexpectedKind, path)
		}

		if err := r.Dest.Delete(ctx, path); err != nil {
			return fmt.Errorf("unlink existing symlink %q: %w", path, err)
		}
	}

	if err := r.Dest.Symlink(ctx, target, path); err != nil {
		return fmt.Errorf("symlink %q -> %q: %w", path, target, err)
	}

	return nil
}

// stageFile reads exactly content.Length bytes from br into PATH.lmirrortemp,
// verifying the running sha1 and byte count, and returns a closure that
// renames the temp file into place. The caller decides when to invoke it
// (immediately for new, deferred for replace).
func (r *Replayer) stageFile(ctx context.Context, br *bufio.Reader, path string, content pathcontent.PathContent) (func() error, error) {
	if present, err := r.alreadyPresent(ctx, path, content); err != nil {
		return nil, err
	} else if present {
		if _, err := io.CopyN(io.Discard, br, content.Length); err != nil {
			return nil, fmt.Errorf("discard body for %q: %w", path, err)
		}

		return func() error { return nil }, nil
	}

	tempPath := path + tempSuffix

	out, err := r.Dest.PutWriter(ctx, tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp %q: %w", tempPath, err)
	}

	hasher := sha1.New() //nolint:gosec
	inTransit := blake3.New()
	limited := io.LimitReader(&ctxReader{ctx, br}, content.Length)

	n, copyErr := io.Copy(io.MultiWriter(out, hasher, inTransit), limited)

	closeErr := out.Close()

	if copyErr != nil {
		_ = r.Dest.Delete(ctx, tempPath)

		return nil, fmt.Errorf("stream body for %q: %w", path, copyErr)
	}

	if closeErr != nil {
		_ = r.Dest.Delete(ctx, tempPath)

		return nil, fmt.Errorf("close temp %q: %w", tempPath, closeErr)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))

	if n != content.Length || sum != content.SHA1 {
		_ = r.Dest.Delete(ctx, tempPath)

		return nil, fmt.Errorf("%w: %q got %d bytes sha1=%s, want %d bytes sha1=%s",
			lmirrorerr.ErrContentMismatch, path, n, sum, content.Length, content.SHA1)
	}

	if r.VerifyWrites {
		if err := r.verifyWrite(ctx, tempPath, inTransit.Sum(nil)); err != nil {
			_ = r.Dest.Delete(ctx, tempPath)

			return nil, err
		}
	}

	if err := r.setMTime(ctx, tempPath, content); err != nil {
		_ = r.Dest.Delete(ctx, tempPath)

		return nil, err
	}

	return func() error {
		if err := r.Dest.Rename(ctx, tempPath, path); err != nil {
			return fmt.Errorf("rename %q -> %q: %w", tempPath, path, err)
		}

		return nil
	}, nil
}

// setMTime applies content's journaled mtime (if any) to path at Dest. A
// read-only destination (transport.ErrReadOnly) is tolerated: mtime
// preservation only matters for local destinations (spec §4.4 step 2).
func (r *Replayer) setMTime(ctx context.Context, path string, content pathcontent.PathContent) error {
	if content.MTime == nil {
		return nil
	}

	sec := int64(*content.MTime)
	nsec := int64((*content.MTime - float64(sec)) * float64(time.Second))

	err := r.Dest.SetModTime(ctx, path, time.Unix(sec, nsec))
	if err == nil || errors.Is(err, transport.ErrReadOnly) {
		return nil
	}

	return fmt.Errorf("set mtime %q: %w", path, err)
}

// verifyWrite re-reads path from Dest and compares its blake3 digest against
// wantSum, the digest computed while the bytes were still in flight,
// confirming the write itself didn't corrupt what was streamed.
func (r *Replayer) verifyWrite(ctx context.Context, path string, wantSum []byte) error {
	f, err := r.Dest.GetReader(ctx, path)
	if err != nil {
		return fmt.Errorf("reopen %q for verify pass: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("re-read %q for verify pass: %w", path, err)
	}

	if !bytes.Equal(h.Sum(nil), wantSum) {
		return fmt.Errorf("%w: %q changed between write and verify re-read", lmirrorerr.ErrContentMismatch, path)
	}

	return nil
}

// alreadyPresent reports whether path already holds a file matching
// content's sha1 and length, letting the caller skip rewriting it (spec
// §4.4: "let the pre-existing file stand").
func (r *Replayer) alreadyPresent(ctx context.Context, path string, content pathcontent.PathContent) (bool, error) {
	info, err := r.Dest.Stat(ctx, path)
	if err != nil || info.IsDir || info.IsSymlink || info.Size != content.Length {
		return false, nil
	}

	existing, err := r.Dest.GetReader(ctx, path)
	if err != nil {
		return false, nil
	}
	defer existing.Close()

	hasher := sha1.New() //nolint:gosec
	if _, err := io.Copy(hasher, existing); err != nil {
		return false, fmt.Errorf("hash existing %q: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)) == content.SHA1, nil
}

func (r *Replayer) applyDel(ctx context.Context, path string, old pathcontent.PathContent) error {
	var err error

	if old.Kind == pathcontent.KindDirectory {
		err = r.Dest.Rmdir(ctx, path)
	} else {
		err = r.Dest.Delete(ctx, path)
	}

	// Absence at the destination is tolerated (idempotent delete); any other
	// error still propagates.
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", path, err)
	}

	return nil
}
