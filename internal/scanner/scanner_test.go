package scanner

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/pathcontent"
	"github.com/desertwitch/lmirror/internal/transport"
)

func newLocalFs(t *testing.T) (afero.Fs, *transport.Local) {
	t.Helper()
	fs := afero.NewMemMapFs()
	tr := transport.NewLocal(fs, "/root")
	require.NoError(t, tr.CreatePrefix(context.Background(), ""))

	return fs, tr
}

func writeFile(t *testing.T, tr *transport.Local, path, content string) {
	t.Helper()
	ctx := context.Background()
	w, err := tr.PutWriter(ctx, path)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestScanFreshTreeReportsEverythingAsNew(t *testing.T) {
	ctx := context.Background()
	_, tr := newLocalFs(t)

	require.NoError(t, tr.Mkdir(ctx, "dir1"))
	require.NoError(t, tr.Mkdir(ctx, "dir2"))
	writeFile(t, tr, "abc", "hello")
	writeFile(t, tr, "dir1/def", "world")
	require.NoError(t, tr.CreatePrefix(ctx, ".lmirror/sets/myset"))
	writeFile(t, tr, ".lmirror/sets/myset/format", "1\n")
	writeFile(t, tr, ".lmirror/sets/myset/set.conf", "")

	s, err := New(nil, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)

	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{
		".lmirror",
		".lmirror/sets",
		".lmirror/sets/myset",
		".lmirror/sets/myset/format",
		".lmirror/sets/myset/set.conf",
		"abc",
		"dir1",
		"dir1/def",
		"dir2",
	}, j.SortedPaths())

	for _, p := range j.SortedPaths() {
		require.Equal(t, journal.ActionNew, j.Paths[p].Action, "path %q", p)
	}
}

func TestScanTinyTreeMatchesKnownHashes(t *testing.T) {
	ctx := context.Background()
	_, tr := newLocalFs(t)

	require.NoError(t, tr.Mkdir(ctx, "dir1"))
	require.NoError(t, tr.Mkdir(ctx, "dir2"))
	writeFile(t, tr, "abc", "1234567890\n")
	writeFile(t, tr, "dir1/def", "abcdef")
	require.NoError(t, tr.CreatePrefix(ctx, ".lmirror/sets/myset"))
	writeFile(t, tr, ".lmirror/sets/myset/format", "1\n")
	writeFile(t, tr, ".lmirror/sets/myset/set.conf", "")

	s, err := New(nil, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)

	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{
		".lmirror",
		".lmirror/sets",
		".lmirror/sets/myset",
		".lmirror/sets/myset/format",
		".lmirror/sets/myset/set.conf",
		"abc",
		"dir1",
		"dir1/def",
		"dir2",
	}, j.SortedPaths())

	require.Equal(t, "12039d6dd9a7e27622301e935b6eefc78846802e", j.Paths["abc"].New.SHA1)
	require.Equal(t, int64(11), j.Paths["abc"].New.Length)
	require.Equal(t, "1f8ac10f23c5b5bc1167bda84b833e5c057a77d2", j.Paths["dir1/def"].New.SHA1)
	require.Equal(t, int64(6), j.Paths["dir1/def"].New.Length)
}

func TestScanExcludesOtherSetsAndMetadata(t *testing.T) {
	ctx := context.Background()
	_, tr := newLocalFs(t)

	require.NoError(t, tr.CreatePrefix(ctx, ".lmirror/sets/myset"))
	require.NoError(t, tr.CreatePrefix(ctx, ".lmirror/sets/other"))
	require.NoError(t, tr.CreatePrefix(ctx, ".lmirror/metadata/myset"))
	writeFile(t, tr, ".lmirror/sets/myset/format", "1\n")
	writeFile(t, tr, ".lmirror/sets/other/format", "1\n")
	writeFile(t, tr, ".lmirror/metadata/myset/metadata.conf", "")

	s, err := New(nil, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)

	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{
		".lmirror",
		".lmirror/sets",
		".lmirror/sets/myset",
		".lmirror/sets/myset/format",
	}, j.SortedPaths())
}

func TestScanSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	_, tr := newLocalFs(t)
	writeFile(t, tr, "abc.lmirrortemp", "partial")
	writeFile(t, tr, "abc", "final")

	s, err := New(nil, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)

	j, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"abc"}, j.SortedPaths())
}

func TestScanDetectsReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	_, tr := newLocalFs(t)
	writeFile(t, tr, "keep", "same")
	writeFile(t, tr, "changed", "before")
	writeFile(t, tr, "removed", "gone-soon")

	s, err := New(nil, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)
	first, err := s.Scan(ctx)
	require.NoError(t, err)

	prior := make(map[string]any, len(first.Paths))
	for path, entry := range first.Paths {
		prior[path] = entry.New
	}

	require.NoError(t, tr.Delete(ctx, "removed"))
	writeFile(t, tr, "changed", "after")

	s2, err := New(prior, tr, 0, Options{SetName: "myset"})
	require.NoError(t, err)
	second, err := s2.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, journal.ActionReplace, second.Paths["changed"].Action)
	require.Equal(t, journal.ActionDel, second.Paths["removed"].Action)
	_, stillThere := second.Paths["keep"]
	require.False(t, stillThere, "unchanged file should not appear in the journal")
}

func TestScanMTimeWindowSkipsStaleUnchangedPath(t *testing.T) {
	ctx := context.Background()
	fs, tr := newLocalFs(t)
	writeFile(t, tr, "stale", "v1")

	lastTimestamp := float64(time.Now().Unix())
	require.NoError(t, fs.Chtimes("/root/stale", time.Now(), time.Unix(int64(lastTimestamp)-4, 0)))

	// Mutate the file on disk without updating the prior tree; since its
	// mtime sits outside the window the scanner must not re-hash it and
	// must not report a replace.
	require.NoError(t, afero.WriteFile(fs, "/root/stale", []byte("v2-not-detected"), 0o644))
	require.NoError(t, fs.Chtimes("/root/stale", time.Now(), time.Unix(int64(lastTimestamp)-4, 0)))

	prior := map[string]any{"stale": pathcontent.NewFile(sha1Hex("v1"), 2, nil)}

	s, err := New(prior, tr, lastTimestamp, Options{SetName: "myset"})
	require.NoError(t, err)
	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Empty(t, j.Paths, "stale path outside the mtime window must be treated as unchanged")
}

func TestScanHintBypassesMTimeWindow(t *testing.T) {
	ctx := context.Background()
	fs, tr := newLocalFs(t)
	writeFile(t, tr, "stale", "v2")

	lastTimestamp := float64(time.Now().Unix())
	require.NoError(t, fs.Chtimes("/root/stale", time.Now(), time.Unix(int64(lastTimestamp)-4, 0)))

	prior := map[string]any{"stale": pathcontent.NewFile(sha1Hex("v1"), 2, nil)}

	s, err := New(prior, tr, lastTimestamp, Options{SetName: "myset", Hints: HintSet{"stale": {}}})
	require.NoError(t, err)
	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, journal.ActionReplace, j.Paths["stale"].Action)
}

func TestScanNewlyAppearingNameBypassesMTimeWindow(t *testing.T) {
	ctx := context.Background()
	fs, tr := newLocalFs(t)
	writeFile(t, tr, "fresh", "v1")

	lastTimestamp := float64(time.Now().Unix())
	require.NoError(t, fs.Chtimes("/root/fresh", time.Now(), time.Unix(int64(lastTimestamp)-4, 0)))

	s, err := New(nil, tr, lastTimestamp, Options{SetName: "myset"})
	require.NoError(t, err)
	j, err := s.Scan(ctx)
	require.NoError(t, err)

	require.Equal(t, journal.ActionNew, j.Paths["fresh"].Action)
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s)) //nolint:gosec

	return hex.EncodeToString(h[:])
}
