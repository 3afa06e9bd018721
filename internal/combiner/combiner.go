// Package combiner folds a sequence of journals into one, detecting
// semantic conflicts between them (spec §4.2).
package combiner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

// ConflictError reports a path whose accumulated and incoming actions
// could not be reconciled.
type ConflictError struct {
	Path   string
	Reason string
	Old    journal.Entry
	New    journal.Entry
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s at %q: old=%v new=%v", e.Reason, e.Path, e.Old, e.New)
}

func (e *ConflictError) Unwrap() error {
	return lmirrorerr.ErrConflict
}

func conflict(path, reason string, old, newEntry journal.Entry) error {
	return &ConflictError{Path: path, Reason: reason, Old: old, New: newEntry}
}

// Combiner accumulates the net effect of a sequence of journals.
type Combiner struct {
	journal *journal.Journal
}

// New returns an empty Combiner.
func New() *Combiner {
	return &Combiner{journal: journal.New()}
}

// Journal returns the combined journal accumulated so far.
func (c *Combiner) Journal() *journal.Journal {
	return c.journal
}

// Add folds j into the accumulator. On error the accumulator is left
// exactly as it was before the call (changes are buffered, then committed
// atomically only if every path in j resolves cleanly).
func (c *Combiner) Add(j *journal.Journal) error {
	pendingDel := make([]string, 0)
	merged := make(map[string]journal.Entry)

	for path, newEntry := range j.Paths {
		oldEntry, exists := c.journal.Paths[path]
		if !exists {
			continue
		}

		resolved, del, err := resolve(path, oldEntry, newEntry)
		if err != nil {
			return err
		}

		if del {
			pendingDel = append(pendingDel, path)

			continue
		}

		merged[path] = resolved
	}

	// Commit: copy the incoming journal wholesale, then apply the resolved
	// overrides and pending deletes, mirroring the original's "backdoor for
	// speed" update-then-patch approach.
	for path, entry := range j.Paths {
		c.journal.Paths[path] = entry
	}

	for path, entry := range merged {
		c.journal.Paths[path] = entry
	}

	for _, path := range pendingDel {
		delete(c.journal.Paths, path)
	}

	return nil
}

// resolve applies the conflict table from spec §4.2 to a single path whose
// old and new actions both exist. del reports whether the path should be
// removed from the accumulator rather than replaced with entry.
func resolve(path string, old, newEntry journal.Entry) (entry journal.Entry, del bool, err error) {
	switch old.Action {
	case journal.ActionNew:
		switch newEntry.Action {
		case journal.ActionNew:
			return entry, false, conflict(path, "add-twice", old, newEntry)
		case journal.ActionDel:
			if !old.New.Equal(newEntry.Old) {
				return entry, false, conflict(path, "delete-mismatch", old, newEntry)
			}

			return entry, true, nil
		case journal.ActionReplace:
			if !old.New.Equal(newEntry.Old) {
				return entry, false, conflict(path, "replace-mismatch", old, newEntry)
			}

			return journal.Entry{Action: journal.ActionNew, New: newEntry.New}, false, nil
		}
	case journal.ActionDel:
		switch newEntry.Action {
		case journal.ActionNew:
			return journal.Entry{Action: journal.ActionReplace, Old: old.Old, New: newEntry.New}, false, nil
		case journal.ActionDel:
			return entry, false, conflict(path, "delete-twice", old, newEntry)
		case journal.ActionReplace:
			return entry, false, conflict(path, "replace-deleted", old, newEntry)
		}
	case journal.ActionReplace:
		switch newEntry.Action {
		case journal.ActionNew:
			return entry, false, conflict(path, "add-twice", old, newEntry)
		case journal.ActionDel:
			if !old.New.Equal(newEntry.Old) {
				return entry, false, conflict(path, "delete-mismatch", old, newEntry)
			}

			return journal.Entry{Action: journal.ActionDel, Old: old.Old}, false, nil
		case journal.ActionReplace:
			if !old.New.Equal(newEntry.Old) {
				return entry, false, conflict(path, "replace-mismatch", old, newEntry)
			}

			return journal.Entry{Action: journal.ActionReplace, Old: old.Old, New: newEntry.New}, false, nil
		}
	}

	return entry, false, fmt.Errorf("%w: unknown action pair (%v, %v)", lmirrorerr.ErrConflict, old.Action, newEntry.Action)
}

// AsTree materializes a from-empty combined journal into a nested tree: a
// directory is represented as map[string]any, a leaf as a
// pathcontent.PathContent. Meaningful only for a journal with no del/replace
// entries (spec §4.2).
func (c *Combiner) AsTree() (map[string]any, error) {
	result := make(map[string]any)

	paths := make([]string, 0, len(c.journal.Paths))
	for p := range c.journal.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := c.journal.Paths[path]
		if entry.Action != journal.ActionNew {
			return nil, fmt.Errorf("%w: path %q is not new", lmirrorerr.ErrNotASnapshot, path)
		}

		segments := strings.Split(path, "/")
		cwd := result

		for _, segment := range segments[:len(segments)-1] {
			next, ok := cwd[segment]
			if !ok {
				return nil, fmt.Errorf("%w: for path %q", lmirrorerr.ErrMissingParent, path)
			}

			sub, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: for path %q", lmirrorerr.ErrMissingParent, path)
			}

			cwd = sub
		}

		leaf := segments[len(segments)-1]
		if entry.New.Kind == pathcontent.KindDirectory {
			cwd[leaf] = make(map[string]any)
		} else {
			cwd[leaf] = entry.New
		}
	}

	return result, nil
}
