// Package journal implements the typed, stable on-wire journal format: an
// ordered map from path to (action, payload) describing filesystem
// mutations (spec §3, §4.1).
package journal

import (
	"fmt"
	"sort"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

// Action identifies what kind of mutation an Entry describes.
type Action int

const (
	ActionNew Action = iota
	ActionDel
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionDel:
		return "del"
	case ActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Entry is the payload for one path. Old is meaningful for del/replace,
// New is meaningful for new/replace.
type Entry struct {
	Action Action
	Old    pathcontent.PathContent
	New    pathcontent.PathContent
}

// Journal is an ordered map from path to Entry (invariant J1: each path
// appears at most once; enforced by Add).
type Journal struct {
	Paths map[string]Entry
}

// New returns an empty Journal.
func New() *Journal {
	return &Journal{Paths: make(map[string]Entry)}
}

// Add records a new/del mutation for relpath. Returns an error wrapping
// ErrBadFormat if relpath is already present (invariant J1).
func (j *Journal) Add(relpath string, action Action, content pathcontent.PathContent) error {
	if _, exists := j.Paths[relpath]; exists {
		return fmt.Errorf("%w: path %q already in use", lmirrorerr.ErrBadFormat, relpath)
	}

	entry := Entry{Action: action}
	switch action {
	case ActionNew:
		entry.New = content
	case ActionDel:
		entry.Old = content
	default:
		return fmt.Errorf("%w: AddReplace must be used for replace entries", lmirrorerr.ErrBadFormat)
	}

	j.Paths[relpath] = entry

	return nil
}

// AddReplace records a replace mutation for relpath (invariant J2: both old
// and new payloads are present).
func (j *Journal) AddReplace(relpath string, oldContent, newContent pathcontent.PathContent) error {
	if _, exists := j.Paths[relpath]; exists {
		return fmt.Errorf("%w: path %q already in use", lmirrorerr.ErrBadFormat, relpath)
	}

	j.Paths[relpath] = Entry{Action: ActionReplace, Old: oldContent, New: newContent}

	return nil
}

// SortedPaths returns the journal's paths in lexicographic order.
func (j *Journal) SortedPaths() []string {
	paths := make([]string, 0, len(j.Paths))
	for p := range j.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths
}
