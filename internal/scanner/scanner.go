// Package scanner walks a content tree against a prior logical snapshot and
// produces the journal of mutations between them (spec §4.3).
package scanner

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/pathcontent"
	"github.com/desertwitch/lmirror/internal/transport"
)

// mtimeWindow is the width of the optimization window: a path whose stat
// mtime is older than lastTimestamp by more than this is assumed unchanged
// (spec §4.3).
const mtimeWindow = 3.0

// HintSet names paths a caller already knows changed, bypassing the mtime
// window optimization (e.g. from a watcher or an explicit changed-file
// list).
type HintSet map[string]struct{}

// Hinted reports whether path is in the set. A nil HintSet hints nothing.
func (h HintSet) Hinted(path string) bool {
	if h == nil {
		return false
	}
	_, ok := h[path]

	return ok
}

// Options configures a Scanner.
type Options struct {
	// SetName is substituted into the literal include rule that always
	// admits this set's own .lmirror/sets/<name> metadata.
	SetName string

	// Includes and Excludes are additional user-supplied regexes, ORed
	// with the literal rules.
	Includes []string
	Excludes []string

	// Hints bypasses the mtime window for specific paths.
	Hints HintSet

	// Filters, if non-nil, receives every surviving path's content line
	// before it is committed to the journal (spec §9 extension point).
	Filters *FilterSet
}

// Scanner walks a Transport's content tree against a prior tree (as produced
// by combiner.Combiner.AsTree) and emits a Journal of the difference.
type Scanner struct {
	tree          map[string]any
	tr            transport.Transport
	lastTimestamp float64
	includeRe     *regexp.Regexp
	excludeRe     *regexp.Regexp
	hints         HintSet
	filters       *FilterSet
}

// New builds a Scanner. tree is the prior logical snapshot (nil or empty for
// a from-scratch scan); lastTimestamp is the wall-clock time (seconds since
// epoch) the prior scan started at.
func New(tree map[string]any, tr transport.Transport, lastTimestamp float64, opts Options) (*Scanner, error) {
	if tree == nil {
		tree = make(map[string]any)
	}

	literalInclude := `(?:^|/)\.lmirror/sets(?:$|/` + regexp.QuoteMeta(opts.SetName) + `(?:$|/))`
	includeRe, err := compileOr(literalInclude, opts.Includes)
	if err != nil {
		return nil, fmt.Errorf("compile include rules: %w", err)
	}

	literalExclude := `(?:^|/)\.lmirror/`
	excludeRe, err := compileOr(literalExclude, opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("compile exclude rules: %w", err)
	}

	return &Scanner{
		tree:          tree,
		tr:            tr,
		lastTimestamp: lastTimestamp,
		includeRe:     includeRe,
		excludeRe:     excludeRe,
		hints:         opts.Hints,
		filters:       opts.Filters,
	}, nil
}

func compileOr(literal string, extra []string) (*regexp.Regexp, error) {
	parts := append([]string{literal}, extra...)

	return regexp.Compile(strings.Join(parts, "|"))
}

// skip reports whether path should be excluded from the scan entirely: the
// path (or its subtree, for a directory) is never descended into and never
// recorded.
func (s *Scanner) skip(path string) bool {
	if strings.HasSuffix(path, ".lmirror/metadata") || strings.HasSuffix(path, ".lmirrortemp") {
		return true
	}

	return s.excludeRe.MatchString(path) && !s.includeRe.MatchString(path)
}

// Scan walks the transport's tree from the root and returns the journal of
// mutations relative to the prior snapshot.
func (s *Scanner) Scan(ctx context.Context) (*journal.Journal, error) {
	j := journal.New()
	pending := []string{""}

	for len(pending) > 0 {
		dirname := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if err := s.scanDir(ctx, dirname, j, &pending); err != nil {
			return nil, err
		}
	}

	return j, nil
}

func (s *Scanner) scanDir(ctx context.Context, dirname string, j *journal.Journal, pending *[]string) error {
	names, err := s.tr.ListDir(ctx, dirname)
	if err != nil {
		return fmt.Errorf("list %q: %w", dirname, err)
	}

	priorSub := s.lookupPrior(dirname)
	onDisk := make(map[string]struct{}, len(names))
	for _, n := range names {
		onDisk[n] = struct{}{}
	}

	priorNames := make([]string, 0, len(priorSub))
	for n := range priorSub {
		priorNames = append(priorNames, n)
	}
	sort.Strings(priorNames)

	for _, name := range priorNames {
		if _, stillThere := onDisk[name]; stillThere {
			continue
		}

		path := joinPath(dirname, name)
		emitDeletes(j, path, priorSub[name])
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	for _, name := range sorted {
		path := joinPath(dirname, name)
		if s.skip(path) {
			continue
		}

		if err := s.scanEntry(ctx, path, name, priorSub, j, pending); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scanner) scanEntry(
	ctx context.Context,
	path, name string,
	priorSub map[string]any,
	j *journal.Journal,
	pending *[]string,
) error {
	info, err := s.tr.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	priorValue, existed := priorSub[name]

	mtimeSeconds := float64(info.ModTime.UnixNano()) / 1e9
	if s.lastTimestamp-mtimeSeconds > mtimeWindow && existed && !s.hints.Hinted(path) {
		return nil
	}

	var newContent pathcontent.PathContent

	switch {
	case info.IsSymlink:
		target, err := s.tr.Readlink(ctx, path)
		if err != nil {
			return fmt.Errorf("readlink %q: %w", path, err)
		}
		newContent = pathcontent.NewSymlink(target)

	case info.IsDir:
		newContent = pathcontent.NewDirectory()
		*pending = append(*pending, path)

	default:
		sum, length, err := hashFile(ctx, s.tr, path)
		if err != nil {
			return fmt.Errorf("hash %q: %w", path, err)
		}
		mtime := mtimeSeconds
		newContent = pathcontent.NewFile(sum, length, &mtime)
	}

	if s.filters != nil {
		for _, f := range s.filters.Filters {
			if err := f.Feed(path); err != nil {
				return err
			}
		}
	}

	if !existed {
		return j.Add(path, journal.ActionNew, newContent)
	}

	oldContent := asPathContent(priorValue)
	if oldContent.Equal(newContent) {
		return nil
	}

	return j.AddReplace(path, oldContent, newContent)
}

// emitDeletes records a del entry for path and, if it was a directory,
// recursively for everything beneath it in the prior tree.
func emitDeletes(j *journal.Journal, path string, value any) {
	if sub, ok := value.(map[string]any); ok {
		names := make([]string, 0, len(sub))
		for n := range sub {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, n := range names {
			emitDeletes(j, joinPath(path, n), sub[n])
		}

		_ = j.Add(path, journal.ActionDel, pathcontent.NewDirectory())

		return
	}

	_ = j.Add(path, journal.ActionDel, value.(pathcontent.PathContent))
}

func (s *Scanner) lookupPrior(dirname string) map[string]any {
	if dirname == "" {
		return s.tree
	}

	cwd := s.tree
	for _, segment := range strings.Split(dirname, "/") {
		next, ok := cwd[segment]
		if !ok {
			return map[string]any{}
		}

		sub, ok := next.(map[string]any)
		if !ok {
			return map[string]any{}
		}

		cwd = sub
	}

	return cwd
}

func asPathContent(v any) pathcontent.PathContent {
	if pc, ok := v.(pathcontent.PathContent); ok {
		return pc
	}

	return pathcontent.NewDirectory()
}

func joinPath(dirname, name string) string {
	if dirname == "" {
		return name
	}

	return dirname + "/" + name
}

func hashFile(ctx context.Context, tr transport.Transport, path string) (string, int64, error) {
	r, err := tr.GetReader(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	h := sha1.New() //nolint:gosec
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("read %q: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
