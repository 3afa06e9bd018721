// Package pathcontent defines PathContent, the tagged variant describing
// what lives at a single path in a mirror set's content tree: a file (by
// sha1 and length), a symlink (by target), or a directory.
package pathcontent

import "fmt"

// Kind identifies which variant a PathContent holds.
type Kind int

const (
	KindFile Kind = iota
	KindSymlink
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindDirectory:
		return "dir"
	default:
		return "unknown"
	}
}

// PathContent is the payload describing a single path. Only the fields
// relevant to Kind are meaningful; callers should use the constructors
// below rather than building a literal directly.
type PathContent struct {
	Kind Kind

	// File fields.
	SHA1   string   // hex, 40 chars
	Length int64    // non-negative
	MTime  *float64 // advisory, nullable; v1 journals always decode this as nil

	// Symlink fields.
	Target string
}

// NewFile returns a file PathContent. mtime may be nil.
func NewFile(sha1 string, length int64, mtime *float64) PathContent {
	return PathContent{Kind: KindFile, SHA1: sha1, Length: length, MTime: mtime}
}

// NewSymlink returns a symlink PathContent.
func NewSymlink(target string) PathContent {
	return PathContent{Kind: KindSymlink, Target: target}
}

// NewDirectory returns a directory PathContent.
func NewDirectory() PathContent {
	return PathContent{Kind: KindDirectory}
}

// Equal reports whether two PathContents describe the same thing.
//
// Directories are always equal to each other. Symlinks compare by target.
// Files compare by sha1, length, and mtime — including mtime means a v1
// round-trip (which erases mtime to nil) is not bit-identical to an
// original that had a real mtime.
func (p PathContent) Equal(other PathContent) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case KindDirectory:
		return true
	case KindSymlink:
		return p.Target == other.Target
	case KindFile:
		if p.SHA1 != other.SHA1 || p.Length != other.Length {
			return false
		}
		return mtimeEqual(p.MTime, other.MTime)
	default:
		return false
	}
}

func mtimeEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

// WithoutMTime returns a copy of p with MTime cleared: the form a file
// payload takes after a v1 round-trip, since v1 journals never carry an
// mtime token. The v1 decoder in internal/journal builds such payloads
// directly and does not call it.
func (p PathContent) WithoutMTime() PathContent {
	if p.Kind != KindFile {
		return p
	}
	p.MTime = nil
	return p
}

func (p PathContent) String() string {
	switch p.Kind {
	case KindFile:
		return fmt.Sprintf("file(sha1=%s, len=%d, mtime=%v)", p.SHA1, p.Length, p.MTime)
	case KindSymlink:
		return fmt.Sprintf("symlink(target=%s)", p.Target)
	case KindDirectory:
		return "dir"
	default:
		return "unknown"
	}
}
