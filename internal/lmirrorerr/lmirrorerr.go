// Package lmirrorerr defines the sentinel error taxonomy shared by every
// engine component (spec §7). Callers wrap a sentinel with the offending
// path and match it back with errors.Is.
package lmirrorerr

import "errors"

var (
	// ErrBadFormat covers a wrong journal header, an unknown kind token, a
	// truncated token stream, or an unrecognized set format marker.
	ErrBadFormat = errors.New("bad format")

	// ErrConflict is returned by the combiner when an (old, new) action
	// pair is inconsistent.
	ErrConflict = errors.New("conflicting change")

	// ErrMissingParent is returned by as_tree when a path's parent
	// directory was never created in the journal being materialized.
	ErrMissingParent = errors.New("missing parent directory")

	// ErrNotASnapshot is returned by as_tree when the journal contains any
	// del or replace entries.
	ErrNotASnapshot = errors.New("journal is not a from-empty snapshot")

	// ErrUnexpectedKind is returned by the replayer when the destination
	// holds a path of the wrong kind for the incoming entry.
	ErrUnexpectedKind = errors.New("unexpected kind at destination path")

	// ErrContentMismatch is returned when a received file's hash or length
	// disagrees with its payload.
	ErrContentMismatch = errors.New("content mismatch")

	// ErrProtocol is returned when a replay stream entry does not match the
	// expected consolidated journal.
	ErrProtocol = errors.New("protocol error")

	// ErrBadSignature is returned when GPG verification of a journal fails.
	ErrBadSignature = errors.New("bad signature")

	// ErrAlreadyExists is returned by initialise on an existing set.
	ErrAlreadyExists = errors.New("mirror set already exists")

	// ErrWrongState is returned by start_change/finish_change/cancel_change
	// when the updating flag forbids the requested transition.
	ErrWrongState = errors.New("wrong updating state for operation")

	// ErrNotFound covers a missing path, journal id, or mirror set.
	ErrNotFound = errors.New("not found")
)
