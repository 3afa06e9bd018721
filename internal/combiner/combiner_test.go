package combiner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

func fileContent(sha1 string, length int64) pathcontent.PathContent {
	return pathcontent.NewFile(sha1, length, nil)
}

func TestDisjointJournalsOrderIndependent(t *testing.T) {
	j1 := journal.New()
	require.NoError(t, j1.Add("a", journal.ActionNew, pathcontent.NewDirectory()))
	j2 := journal.New()
	require.NoError(t, j2.Add("b", journal.ActionNew, pathcontent.NewDirectory()))

	forward := New()
	require.NoError(t, forward.Add(j1))
	require.NoError(t, forward.Add(j2))

	backward := New()
	require.NoError(t, backward.Add(j2))
	require.NoError(t, backward.Add(j1))

	require.Equal(t, forward.Journal().Paths, backward.Journal().Paths)
}

func TestNewThenDelSamePayloadDrops(t *testing.T) {
	h := "1111111111111111111111111111111111111111"
	j1 := journal.New()
	require.NoError(t, j1.Add("abc", journal.ActionNew, fileContent(h, 11)))
	j2 := journal.New()
	require.NoError(t, j2.Add("abc", journal.ActionDel, fileContent(h, 11)))

	c := New()
	require.NoError(t, c.Add(j1))
	require.NoError(t, c.Add(j2))
	require.Empty(t, c.Journal().Paths)
}

func TestNewThenDelWrongPayloadConflicts(t *testing.T) {
	h1 := "1111111111111111111111111111111111111111"
	h2 := "2222222222222222222222222222222222222222"
	j1 := journal.New()
	require.NoError(t, j1.Add("abc", journal.ActionNew, fileContent(h1, 11)))
	j2 := journal.New()
	require.NoError(t, j2.Add("abc", journal.ActionDel, fileContent(h2, 11)))

	c := New()
	require.NoError(t, c.Add(j1))
	err := c.Add(j2)
	require.Error(t, err)
	require.ErrorIs(t, err, lmirrorerr.ErrConflict)

	// accumulator left unchanged after failed Add
	require.Contains(t, c.Journal().Paths, "abc")
}

func TestConflictTableTotal(t *testing.T) {
	h1 := fileContent("1111111111111111111111111111111111111111", 1)
	h2 := fileContent("2222222222222222222222222222222222222222", 2)
	h3 := fileContent("3333333333333333333333333333333333333333", 3)

	cases := []struct {
		name    string
		old     journal.Entry
		newer   journal.Entry
		wantErr bool
	}{
		{"new-new", journal.Entry{Action: journal.ActionNew, New: h1}, journal.Entry{Action: journal.ActionNew, New: h2}, true},
		{"new-del-match", journal.Entry{Action: journal.ActionNew, New: h1}, journal.Entry{Action: journal.ActionDel, Old: h1}, false},
		{"new-del-mismatch", journal.Entry{Action: journal.ActionNew, New: h1}, journal.Entry{Action: journal.ActionDel, Old: h2}, true},
		{"new-replace-match", journal.Entry{Action: journal.ActionNew, New: h1}, journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, false},
		{"new-replace-mismatch", journal.Entry{Action: journal.ActionNew, New: h1}, journal.Entry{Action: journal.ActionReplace, Old: h2, New: h3}, true},
		{"del-new", journal.Entry{Action: journal.ActionDel, Old: h1}, journal.Entry{Action: journal.ActionNew, New: h2}, false},
		{"del-del", journal.Entry{Action: journal.ActionDel, Old: h1}, journal.Entry{Action: journal.ActionDel, Old: h1}, true},
		{"del-replace", journal.Entry{Action: journal.ActionDel, Old: h1}, journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, true},
		{"replace-new", journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, journal.Entry{Action: journal.ActionNew, New: h3}, true},
		{"replace-del-match", journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, journal.Entry{Action: journal.ActionDel, Old: h2}, false},
		{"replace-del-mismatch", journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, journal.Entry{Action: journal.ActionDel, Old: h3}, true},
		{"replace-replace-match", journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, journal.Entry{Action: journal.ActionReplace, Old: h2, New: h3}, false},
		{"replace-replace-mismatch", journal.Entry{Action: journal.ActionReplace, Old: h1, New: h2}, journal.Entry{Action: journal.ActionReplace, Old: h3, New: h3}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, _, err := resolve("p", tc.old, tc.newer)
			if tc.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, lmirrorerr.ErrConflict)
			} else {
				require.NoError(t, err)
				_ = entry
			}
		})
	}
}

func TestAsTreeRejectsNonSnapshot(t *testing.T) {
	j := journal.New()
	require.NoError(t, j.Add("abc", journal.ActionDel, fileContent("1111111111111111111111111111111111111111", 1)))

	c := New()
	require.NoError(t, c.Add(j))

	_, err := c.AsTree()
	require.ErrorIs(t, err, lmirrorerr.ErrNotASnapshot)
}

func TestAsTreeRejectsMissingParent(t *testing.T) {
	j := journal.New()
	require.NoError(t, j.Add("a/b", journal.ActionNew, pathcontent.NewDirectory()))

	c := New()
	require.NoError(t, c.Add(j))

	_, err := c.AsTree()
	require.ErrorIs(t, err, lmirrorerr.ErrMissingParent)
}

func TestAsTreeBuildsNestedStructure(t *testing.T) {
	j := journal.New()
	require.NoError(t, j.Add("dir1", journal.ActionNew, pathcontent.NewDirectory()))
	require.NoError(t, j.Add("dir1/file", journal.ActionNew, fileContent("1111111111111111111111111111111111111111", 3)))

	c := New()
	require.NoError(t, c.Add(j))

	tree, err := c.AsTree()
	require.NoError(t, err)

	dir1, ok := tree["dir1"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, fileContent("1111111111111111111111111111111111111111", 3), dir1["file"])
}
