package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/desertwitch/lmirror/internal/mirrorset"
	"github.com/desertwitch/lmirror/internal/transport"
)

func newLocalTransport(fs afero.Fs) transport.Transport {
	return transport.NewLocal(fs, "/root")
}

func writeContentFile(ctx context.Context, ms *mirrorset.MirrorSet, relpath, data string) error {
	w, err := ms.Content.PutWriter(ctx, relpath)
	if err != nil {
		return err
	}

	if _, err := w.Write([]byte(data)); err != nil {
		w.Close()

		return err
	}

	return w.Close()
}

func newTestSet(t *testing.T) *mirrorset.MirrorSet {
	t.Helper()

	ctx := context.Background()
	fs := afero.NewMemMapFs()

	base := newLocalTransport(fs)

	ms, err := mirrorset.Initialise(ctx, base, "myset", "content")
	require.NoError(t, err)

	require.NoError(t, ms.StartChange(ctx))
	require.NoError(t, writeContentFile(ctx, ms, "a.txt", "hello"))
	require.NoError(t, ms.FinishChange(ctx, 1000, mirrorset.ContentConf{}))

	return ms
}

func TestHandleSetFormatServesMarker(t *testing.T) {
	ms := newTestSet(t)

	srv := New(func(name string) (*mirrorset.MirrorSet, bool) {
		if name == "myset" {
			return ms, true
		}

		return nil, false
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/.lmirror/sets/myset/format", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1\n", w.Body.String())
}

func TestHandleUnknownSetIs404(t *testing.T) {
	srv := New(func(string) (*mirrorset.MirrorSet, bool) {
		return nil, false
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/.lmirror/sets/nope/format", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleContentServesFileBody(t *testing.T) {
	ms := newTestSet(t)

	srv := New(func(string) (*mirrorset.MirrorSet, bool) {
		return ms, true
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/content/myset/a.txt", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello", w.Body.String())
}

func TestHandleContentRejectsPathTraversal(t *testing.T) {
	ms := newTestSet(t)

	srv := New(func(string) (*mirrorset.MirrorSet, bool) {
		return ms, true
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/content/myset/../../../etc/passwd", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleStreamServesReplayStream(t *testing.T) {
	ms := newTestSet(t)

	srv := New(func(string) (*mirrorset.MirrorSet, bool) {
		return ms, true
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/myset/0/1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/x-lmirror", w.Header().Get("Content-Type"))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.NotEmpty(t, body)
}

func TestHandleChangesWithNoWatcherReturnsEmptyArray(t *testing.T) {
	ms := newTestSet(t)

	srv := New(func(string) (*mirrorset.MirrorSet, bool) {
		return ms, true
	}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/changes/myset", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}
