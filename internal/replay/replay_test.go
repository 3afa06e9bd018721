package replay

import (
	"bytes"
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

func sha1Of(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec

	return hex.EncodeToString(sum[:])
}

func TestGenerateThenApplyReproducesContent(t *testing.T) {
	ctx := context.Background()

	srcFs := afero.NewMemMapFs()
	src := transport.NewLocal(srcFs, "/src")
	require.NoError(t, src.CreatePrefix(ctx, ""))
	require.NoError(t, src.Mkdir(ctx, "dir1"))
	w, err := src.PutWriter(ctx, "dir1/file")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	j := journal.New()
	require.NoError(t, j.Add("dir1", journal.ActionNew, pathcontent.NewDirectory()))
	require.NoError(t, j.Add("dir1/file", journal.ActionNew, pathcontent.NewFile(sha1Of("hello world"), 11, nil)))

	var stream bytes.Buffer
	gen := &Generator{Journal: j, Content: src}
	require.NoError(t, gen.Generate(ctx, &stream))

	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	replayer := &Replayer{Dest: dst, Expected: j}
	require.NoError(t, replayer.Apply(ctx, &stream))

	r, err := dst.GetReader(ctx, "dir1/file")
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", buf.String())
}

func TestApplySetsMTimeFromJournal(t *testing.T) {
	ctx := context.Background()

	srcFs := afero.NewMemMapFs()
	src := transport.NewLocal(srcFs, "/src")
	require.NoError(t, src.CreatePrefix(ctx, ""))
	w, err := src.PutWriter(ctx, "file")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	want := time.Date(2019, 6, 15, 12, 0, 0, 0, time.UTC)
	mtime := float64(want.Unix())

	j := journal.New()
	require.NoError(t, j.Add("file", journal.ActionNew, pathcontent.NewFile(sha1Of("hello"), 5, &mtime)))

	var stream bytes.Buffer
	gen := &Generator{Journal: j, Content: src}
	require.NoError(t, gen.Generate(ctx, &stream))

	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	replayer := &Replayer{Dest: dst, Expected: j}
	require.NoError(t, replayer.Apply(ctx, &stream))

	info, err := dst.Stat(ctx, "file")
	require.NoError(t, err)
	require.True(t, info.ModTime.Equal(want), "got %v want %v", info.ModTime, want)
}

func TestApplyVerifyWritesRereadsAndMatches(t *testing.T) {
	ctx := context.Background()

	srcFs := afero.NewMemMapFs()
	src := transport.NewLocal(srcFs, "/src")
	require.NoError(t, src.CreatePrefix(ctx, ""))
	w, err := src.PutWriter(ctx, "file")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	j := journal.New()
	require.NoError(t, j.Add("file", journal.ActionNew, pathcontent.NewFile(sha1Of("hello world"), 11, nil)))

	var stream bytes.Buffer
	gen := &Generator{Journal: j, Content: src}
	require.NoError(t, gen.Generate(ctx, &stream))

	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	replayer := &Replayer{Dest: dst, Expected: j, VerifyWrites: true}
	require.NoError(t, replayer.Apply(ctx, &stream))

	r, err := dst.GetReader(ctx, "file")
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", buf.String())
}

func TestApplyRejectsContentMismatch(t *testing.T) {
	ctx := context.Background()
	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	j := journal.New()
	require.NoError(t, j.Add("abc", journal.ActionNew, pathcontent.NewFile(sha1Of("right"), 5, nil)))

	var stream bytes.Buffer
	require.NoError(t, writeEntryFrame(&stream, "abc", j.Paths["abc"]))
	stream.WriteString("wrong") // 5 bytes, but doesn't hash to "right"'s sha1

	replayer := &Replayer{Dest: dst, Expected: j}
	err := dst.CreatePrefix(ctx, "")
	require.NoError(t, err)
	err = replayer.Apply(ctx, &stream)
	require.Error(t, err)
}

func TestApplyRejectsStreamNotMatchingExpected(t *testing.T) {
	ctx := context.Background()
	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	expected := journal.New()
	require.NoError(t, expected.Add("abc", journal.ActionNew, pathcontent.NewDirectory()))

	incoming := journal.New()
	require.NoError(t, incoming.Add("xyz", journal.ActionNew, pathcontent.NewDirectory()))

	var stream bytes.Buffer
	require.NoError(t, writeEntryFrame(&stream, "xyz", incoming.Paths["xyz"]))

	replayer := &Replayer{Dest: dst, Expected: expected}
	require.Error(t, replayer.Apply(ctx, &stream))
}

func TestApplyDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	j := journal.New()
	require.NoError(t, j.Add("gone", journal.ActionDel, pathcontent.NewDirectory()))

	var stream bytes.Buffer
	require.NoError(t, writeEntryFrame(&stream, "gone", j.Paths["gone"]))

	replayer := &Replayer{Dest: dst, Expected: j}
	require.NoError(t, replayer.Apply(ctx, &stream))
}

func TestApplyReplaceDefersRenameUntilAfterDeletes(t *testing.T) {
	ctx := context.Background()
	dstFs := afero.NewMemMapFs()
	dst := transport.NewLocal(dstFs, "/dst")
	require.NoError(t, dst.CreatePrefix(ctx, ""))

	w, err := dst.PutWriter(ctx, "abc")
	require.NoError(t, err)
	_, err = w.Write([]byte("old"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	j := journal.New()
	require.NoError(t, j.AddReplace("abc",
		pathcontent.NewFile(sha1Of("old"), 3, nil),
		pathcontent.NewFile(sha1Of("new-content"), 11, nil)))
	require.NoError(t, j.Add("other", journal.ActionDel, pathcontent.NewDirectory()))

	plan := NewPlan(j)

	var stream bytes.Buffer
	for _, path := range plan.Ordered() {
		require.NoError(t, writeEntryFrame(&stream, path, j.Paths[path]))
		if needsBody(j.Paths[path]) {
			stream.WriteString("new-content")
		}
	}

	replayer := &Replayer{Dest: dst, Expected: j}
	require.NoError(t, replayer.Apply(ctx, &stream))

	r, err := dst.GetReader(ctx, "abc")
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "new-content", buf.String())
}
