package journal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

const (
	headerV1 = "l-mirror-journal-1\n"
	headerV2 = "l-mirror-journal-2\n"

	tokenFile    = "file"
	tokenDir     = "dir"
	tokenSymlink = "symlink"
)

// Version identifies which wire format a journal was written (or should be
// written) in. Writers always emit V2; both versions are parseable.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// Serialize returns the byte representation of j in the given version. V1
// omits mtime tokens entirely; V2 includes one mtime token per file entry
// (empty string for a nil mtime).
func (j *Journal) Serialize(version Version) ([]byte, error) {
	header := headerV2
	if version == V1 {
		header = headerV1
	}

	paths := j.SortedPaths()
	if len(paths) == 0 {
		return []byte(header), nil
	}

	var tokens []string
	for _, path := range paths {
		entry := j.Paths[path]
		tokens = append(tokens, path, entry.Action.String())

		switch entry.Action {
		case ActionNew:
			tokens = append(tokens, kindTokens(entry.New, version)...)
		case ActionDel:
			tokens = append(tokens, kindTokens(entry.Old, version)...)
		case ActionReplace:
			tokens = append(tokens, kindTokens(entry.Old, version)...)
			tokens = append(tokens, kindTokens(entry.New, version)...)
		default:
			return nil, fmt.Errorf("%w: unknown action %v for path %q", lmirrorerr.ErrBadFormat, entry.Action, path)
		}
	}

	return []byte(header + strings.Join(tokens, "\x00")), nil
}

// EntryTokens returns the per-entry tokens for path (PATH, ACTION,
// KIND_TOKENS...) in the given version, with no leading header and no
// trailing NUL. Used by internal/replay to build wire frames identical to
// the journal serialization body (spec §4.4).
func EntryTokens(path string, entry Entry, version Version) []string {
	tokens := []string{path, entry.Action.String()}

	switch entry.Action {
	case ActionNew:
		tokens = append(tokens, kindTokens(entry.New, version)...)
	case ActionDel:
		tokens = append(tokens, kindTokens(entry.Old, version)...)
	case ActionReplace:
		tokens = append(tokens, kindTokens(entry.Old, version)...)
		tokens = append(tokens, kindTokens(entry.New, version)...)
	}

	return tokens
}

// ParseEntry decodes one (path, entry) starting at tokens[pos], returning the
// position just past the consumed tokens. It is the per-entry counterpart of
// Parse, reused by internal/replay to decode replay stream frames.
func ParseEntry(tokens []string, pos int, version Version) (string, Entry, int, error) {
	path, action, err := nextHeader(tokens, pos)
	if err != nil {
		return "", Entry{}, pos, err
	}
	pos += 2

	switch action {
	case "new":
		content, newPos, err := parseKindData(tokens, pos, version)
		if err != nil {
			return "", Entry{}, pos, err
		}

		return path, Entry{Action: ActionNew, New: content}, newPos, nil
	case "del":
		content, newPos, err := parseKindData(tokens, pos, version)
		if err != nil {
			return "", Entry{}, pos, err
		}

		return path, Entry{Action: ActionDel, Old: content}, newPos, nil
	case "replace":
		oldContent, newPos, err := parseKindData(tokens, pos, version)
		if err != nil {
			return "", Entry{}, pos, err
		}

		newContent, newPos2, err := parseKindData(tokens, newPos, version)
		if err != nil {
			return "", Entry{}, pos, err
		}

		return path, Entry{Action: ActionReplace, Old: oldContent, New: newContent}, newPos2, nil
	default:
		return "", Entry{}, pos, fmt.Errorf("%w: unknown action %q for path %q", lmirrorerr.ErrBadFormat, action, path)
	}
}

func kindTokens(pc pathcontent.PathContent, version Version) []string {
	switch pc.Kind {
	case pathcontent.KindFile:
		tokens := []string{tokenFile, pc.SHA1, strconv.FormatInt(pc.Length, 10)}
		if version == V2 {
			tokens = append(tokens, mtimeToken(pc.MTime))
		}

		return tokens
	case pathcontent.KindDirectory:
		return []string{tokenDir}
	case pathcontent.KindSymlink:
		return []string{tokenSymlink, pc.Target}
	default:
		return nil
	}
}

func mtimeToken(mtime *float64) string {
	if mtime == nil {
		return ""
	}

	return strconv.FormatFloat(*mtime, 'f', -1, 64)
}

// Parse decodes journal bytes produced by Serialize (either version).
// Unknown headers, unknown kind tokens, or a truncated token stream all
// fail with ErrBadFormat.
func Parse(data []byte) (*Journal, Version, error) {
	text := string(data)

	var version Version

	var rest string

	switch {
	case strings.HasPrefix(text, headerV1):
		version = V1
		rest = text[len(headerV1):]
	case strings.HasPrefix(text, headerV2):
		version = V2
		rest = text[len(headerV2):]
	default:
		return nil, 0, fmt.Errorf("%w: unrecognized journal header", lmirrorerr.ErrBadFormat)
	}

	result := New()

	if rest == "" {
		return result, version, nil
	}

	tokens := strings.Split(rest, "\x00")

	pos := 0
	for pos < len(tokens) {
		// A trailing empty token left by a terminal NUL is tolerated; it is
		// only dropped once every entry before it has consumed its own
		// tokens (a nil mtime on the last file is itself an empty token).
		if pos == len(tokens)-1 && tokens[pos] == "" {
			break
		}

		path, action, err := nextHeader(tokens, pos)
		if err != nil {
			return nil, 0, err
		}
		pos += 2

		switch action {
		case "new":
			content, newPos, err := parseKindData(tokens, pos, version)
			if err != nil {
				return nil, 0, err
			}
			pos = newPos

			if err := result.Add(path, ActionNew, content); err != nil {
				return nil, 0, err
			}
		case "del":
			content, newPos, err := parseKindData(tokens, pos, version)
			if err != nil {
				return nil, 0, err
			}
			pos = newPos

			if err := result.Add(path, ActionDel, content); err != nil {
				return nil, 0, err
			}
		case "replace":
			oldContent, newPos, err := parseKindData(tokens, pos, version)
			if err != nil {
				return nil, 0, err
			}
			pos = newPos

			newContent, newPos2, err := parseKindData(tokens, pos, version)
			if err != nil {
				return nil, 0, err
			}
			pos = newPos2

			if err := result.AddReplace(path, oldContent, newContent); err != nil {
				return nil, 0, err
			}
		default:
			return nil, 0, fmt.Errorf("%w: unknown action %q for path %q", lmirrorerr.ErrBadFormat, action, path)
		}
	}

	return result, version, nil
}

func nextHeader(tokens []string, pos int) (path, action string, err error) {
	if pos+1 >= len(tokens) {
		return "", "", fmt.Errorf("%w: truncated token stream", lmirrorerr.ErrBadFormat)
	}

	return tokens[pos], tokens[pos+1], nil
}

func parseKindData(tokens []string, pos int, version Version) (pathcontent.PathContent, int, error) {
	if pos >= len(tokens) {
		return pathcontent.PathContent{}, pos, fmt.Errorf("%w: truncated token stream", lmirrorerr.ErrBadFormat)
	}

	kind := tokens[pos]
	pos++

	switch kind {
	case tokenFile:
		need := 2
		if version == V2 {
			need = 3
		}

		if pos+need > len(tokens) {
			return pathcontent.PathContent{}, pos, fmt.Errorf("%w: truncated file token", lmirrorerr.ErrBadFormat)
		}

		sha1 := tokens[pos]
		pos++

		length, err := strconv.ParseInt(tokens[pos], 10, 64)
		if err != nil {
			return pathcontent.PathContent{}, pos, fmt.Errorf("%w: bad length token: %w", lmirrorerr.ErrBadFormat, err)
		}
		pos++

		var mtime *float64
		if version == V2 {
			if tokens[pos] != "" {
				parsed, err := strconv.ParseFloat(tokens[pos], 64)
				if err != nil {
					return pathcontent.PathContent{}, pos, fmt.Errorf("%w: bad mtime token: %w", lmirrorerr.ErrBadFormat, err)
				}
				mtime = &parsed
			}
			pos++
		}

		return pathcontent.NewFile(sha1, length, mtime), pos, nil

	case tokenDir:
		return pathcontent.NewDirectory(), pos, nil

	case tokenSymlink:
		if pos >= len(tokens) {
			return pathcontent.PathContent{}, pos, fmt.Errorf("%w: truncated symlink token", lmirrorerr.ErrBadFormat)
		}

		target := tokens[pos]
		pos++

		return pathcontent.NewSymlink(target), pos, nil

	default:
		return pathcontent.PathContent{}, pos, fmt.Errorf("%w: unknown kind %q", lmirrorerr.ErrBadFormat, kind)
	}
}
