// Package transport defines the narrow capability the rest of the engine
// reads and writes a content tree through, regardless of whether it is
// backed by local disk or an HTTP smart server (spec §9 "Transport
// abstraction").
package transport

import (
	"context"
	"io"
	"time"
)

// FileInfo is the subset of on-disk metadata the engine cares about.
type FileInfo struct {
	IsDir     bool
	IsSymlink bool
	Size      int64
	ModTime   time.Time
}

// Transport is implemented by both the local filesystem and the HTTP smart
// server client. It is passed around as a handle, never implemented via
// embedding/inheritance.
type Transport interface {
	ListDir(ctx context.Context, path string) ([]string, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	GetReader(ctx context.Context, path string) (io.ReadCloser, error)
	PutWriter(ctx context.Context, path string) (io.WriteCloser, error)
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	CreatePrefix(ctx context.Context, path string) error

	// SetModTime sets path's modification time. Only supported on local
	// transports; read-only transports return ErrReadOnly, which replay
	// treats as a best-effort miss rather than a fatal error.
	SetModTime(ctx context.Context, path string, mtime time.Time) error

	// LocalAbspath returns the absolute on-disk path for path, or an error
	// if this transport is not backed by local disk.
	LocalAbspath(path string) (string, error)

	// Readlink returns the target of the symlink at path. Only supported
	// on local transports whose underlying filesystem supports symlinks.
	Readlink(ctx context.Context, path string) (string, error)

	// Symlink creates a symlink at path pointing at target. Only supported
	// on local transports whose underlying filesystem supports symlinks.
	Symlink(ctx context.Context, target, path string) error
}
