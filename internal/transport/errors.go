package transport

import "errors"

// ErrNotLocal is returned by LocalAbspath on a transport not backed by
// local disk (e.g. the HTTP transport).
var ErrNotLocal = errors.New("transport is not backed by local disk")

// ErrNoSymlink is returned by Readlink/Symlink when the underlying
// filesystem does not support symlinks.
var ErrNoSymlink = errors.New("filesystem does not support symlinks")

// ErrReadOnly is returned by mutating operations on a read-only transport
// (e.g. the HTTP transport, which only ever serves snapshots).
var ErrReadOnly = errors.New("transport is read-only")
