package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

func TestPlanOrdersNewAscendingReplaceDescendingDelDescending(t *testing.T) {
	j := journal.New()
	require.NoError(t, j.Add("new/b", journal.ActionNew, pathcontent.NewDirectory()))
	require.NoError(t, j.Add("new/a", journal.ActionNew, pathcontent.NewDirectory()))
	require.NoError(t, j.AddReplace("replace/a",
		pathcontent.NewFile("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, nil),
		pathcontent.NewFile("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 1, nil)))
	require.NoError(t, j.AddReplace("replace/b",
		pathcontent.NewFile("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, nil),
		pathcontent.NewFile("cccccccccccccccccccccccccccccccccccccccc", 1, nil)))
	require.NoError(t, j.Add("del/a", journal.ActionDel, pathcontent.NewDirectory()))
	require.NoError(t, j.Add("del/b", journal.ActionDel, pathcontent.NewDirectory()))

	plan := NewPlan(j)

	require.Equal(t, []string{"new/a", "new/b"}, plan.New)
	require.Equal(t, []string{"replace/b", "replace/a"}, plan.Replace)
	require.Equal(t, []string{"del/b", "del/a"}, plan.Del)

	ordered := plan.Ordered()
	require.Equal(t, []string{
		"new/a", "new/b",
		"replace/b", "replace/a",
		"del/b", "del/a",
	}, ordered)
}

func TestReplayOrderingScenario(t *testing.T) {
	// spec §8 scenario 5: new("new"), replace("abc", A, B), del("bye").
	j := journal.New()
	require.NoError(t, j.Add("new", journal.ActionNew, pathcontent.NewDirectory()))
	require.NoError(t, j.AddReplace("abc",
		pathcontent.NewFile("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, nil),
		pathcontent.NewFile("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 1, nil)))
	require.NoError(t, j.Add("bye", journal.ActionDel, pathcontent.NewDirectory()))

	plan := NewPlan(j)
	require.Equal(t, []string{"new", "abc", "bye"}, plan.Ordered())
}
