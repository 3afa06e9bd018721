package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Local is a Transport backed by an afero filesystem rooted at Root.
type Local struct {
	Fs   afero.Fs
	Root string
}

// NewLocal returns a Local transport rooted at root on fs.
func NewLocal(fs afero.Fs, root string) *Local {
	return &Local{Fs: fs, Root: root}
}

func (l *Local) join(path string) string {
	if path == "" {
		return l.Root
	}

	return filepath.Join(l.Root, filepath.FromSlash(path))
}

func (l *Local) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := afero.ReadDir(l.Fs, l.join(path))
	if err != nil {
		return nil, fmt.Errorf("list dir %q: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

func (l *Local) Stat(_ context.Context, path string) (FileInfo, error) {
	info, err := l.Fs.Stat(l.join(path))
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %q: %w", path, err)
	}

	isSymlink := false
	if lst, ok := l.Fs.(afero.Lstater); ok {
		if sInfo, _, lerr := lst.LstatIfPossible(l.join(path)); lerr == nil {
			isSymlink = sInfo.Mode()&os.ModeSymlink != 0
		}
	}

	return FileInfo{
		IsDir:     info.IsDir(),
		IsSymlink: isSymlink,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (l *Local) GetReader(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := l.Fs.Open(l.join(path))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	return f, nil
}

func (l *Local) PutWriter(_ context.Context, path string) (io.WriteCloser, error) {
	f, err := l.Fs.Create(l.join(path))
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}

	return f, nil
}

func (l *Local) Mkdir(_ context.Context, path string) error {
	if err := l.Fs.Mkdir(l.join(path), 0o777); err != nil {
		return fmt.Errorf("mkdir %q: %w", path, err)
	}

	return nil
}

func (l *Local) Rmdir(_ context.Context, path string) error {
	if err := l.Fs.Remove(l.join(path)); err != nil {
		return fmt.Errorf("rmdir %q: %w", path, err)
	}

	return nil
}

func (l *Local) Delete(_ context.Context, path string) error {
	if err := l.Fs.Remove(l.join(path)); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}

	return nil
}

func (l *Local) Rename(_ context.Context, oldPath, newPath string) error {
	if err := l.Fs.Rename(l.join(oldPath), l.join(newPath)); err != nil {
		return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, err)
	}

	return nil
}

func (l *Local) CreatePrefix(_ context.Context, path string) error {
	if err := l.Fs.MkdirAll(l.join(path), 0o777); err != nil {
		return fmt.Errorf("create prefix %q: %w", path, err)
	}

	return nil
}

func (l *Local) SetModTime(_ context.Context, path string, mtime time.Time) error {
	if err := l.Fs.Chtimes(l.join(path), mtime, mtime); err != nil {
		return fmt.Errorf("set mtime %q: %w", path, err)
	}

	return nil
}

func (l *Local) LocalAbspath(path string) (string, error) {
	return l.join(path), nil
}

func (l *Local) Readlink(_ context.Context, path string) (string, error) {
	linker, ok := l.Fs.(afero.LinkReader)
	if !ok {
		return "", ErrNoSymlink
	}

	target, err := linker.ReadlinkIfPossible(l.join(path))
	if err != nil {
		return "", fmt.Errorf("readlink %q: %w", path, err)
	}

	return target, nil
}

func (l *Local) Symlink(_ context.Context, target, path string) error {
	linker, ok := l.Fs.(afero.Linker)
	if !ok {
		return ErrNoSymlink
	}

	if err := linker.SymlinkIfPossible(target, l.join(path)); err != nil {
		return fmt.Errorf("symlink %q -> %q: %w", path, target, err)
	}

	return nil
}
