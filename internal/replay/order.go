// Package replay applies a consolidated journal (plus the file bytes it
// references) to a destination content tree, verifying hashes as bytes
// stream in (spec §4.4).
package replay

import (
	"sort"

	"github.com/desertwitch/lmirror/internal/journal"
)

// Plan groups a journal's paths into the three ordered phases replay
// requires: new paths ascending so parents precede children, replace paths
// descending so the deepest replacements land first, del paths descending so
// children are removed before their parent directory.
type Plan struct {
	New     []string
	Replace []string
	Del     []string
}

// NewPlan builds a Plan from j.
func NewPlan(j *journal.Journal) Plan {
	var p Plan

	for path, entry := range j.Paths {
		switch entry.Action {
		case journal.ActionNew:
			p.New = append(p.New, path)
		case journal.ActionReplace:
			p.Replace = append(p.Replace, path)
		case journal.ActionDel:
			p.Del = append(p.Del, path)
		}
	}

	sort.Strings(p.New)

	sort.Strings(p.Replace)
	reverse(p.Replace)

	sort.Strings(p.Del)
	reverse(p.Del)

	return p
}

// Ordered returns the full generation order: new, then replace, then del.
func (p Plan) Ordered() []string {
	ordered := make([]string, 0, len(p.New)+len(p.Replace)+len(p.Del))
	ordered = append(ordered, p.New...)
	ordered = append(ordered, p.Replace...)
	ordered = append(ordered, p.Del...)

	return ordered
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
