package mirrorset

import (
	"context"
	"io"
	"time"

	"github.com/desertwitch/lmirror/internal/transport"
)

// rooted wraps a Transport so every path is joined under prefix, letting a
// mirror set's content tree (rooted at set.conf's content_root) be addressed
// through the same Transport interface as the base tree that carries
// .lmirror/sets and .lmirror/metadata.
type rooted struct {
	parent transport.Transport
	prefix string
}

func rootedAt(parent transport.Transport, prefix string) transport.Transport {
	if prefix == "" || prefix == "." {
		return parent
	}

	return &rooted{parent: parent, prefix: prefix}
}

func (r *rooted) join(p string) string {
	if p == "" {
		return r.prefix
	}

	return r.prefix + "/" + p
}

func (r *rooted) ListDir(ctx context.Context, path string) ([]string, error) {
	return r.parent.ListDir(ctx, r.join(path))
}

func (r *rooted) Stat(ctx context.Context, path string) (transport.FileInfo, error) {
	return r.parent.Stat(ctx, r.join(path))
}

func (r *rooted) GetReader(ctx context.Context, path string) (io.ReadCloser, error) {
	return r.parent.GetReader(ctx, r.join(path))
}

func (r *rooted) PutWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	return r.parent.PutWriter(ctx, r.join(path))
}

func (r *rooted) Mkdir(ctx context.Context, path string) error {
	return r.parent.Mkdir(ctx, r.join(path))
}

func (r *rooted) Rmdir(ctx context.Context, path string) error {
	return r.parent.Rmdir(ctx, r.join(path))
}

func (r *rooted) Delete(ctx context.Context, path string) error {
	return r.parent.Delete(ctx, r.join(path))
}

func (r *rooted) Rename(ctx context.Context, oldPath, newPath string) error {
	return r.parent.Rename(ctx, r.join(oldPath), r.join(newPath))
}

func (r *rooted) CreatePrefix(ctx context.Context, path string) error {
	return r.parent.CreatePrefix(ctx, r.join(path))
}

func (r *rooted) SetModTime(ctx context.Context, path string, mtime time.Time) error {
	return r.parent.SetModTime(ctx, r.join(path), mtime)
}

func (r *rooted) LocalAbspath(path string) (string, error) {
	return r.parent.LocalAbspath(r.join(path))
}

func (r *rooted) Readlink(ctx context.Context, path string) (string, error) {
	return r.parent.Readlink(ctx, r.join(path))
}

func (r *rooted) Symlink(ctx context.Context, target, path string) error {
	return r.parent.Symlink(ctx, target, r.join(path))
}
