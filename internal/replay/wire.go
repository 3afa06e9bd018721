package replay

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/pathcontent"
)

// writeEntryFrame writes one entry's framing tokens, each terminated by a
// NUL byte, identical in shape to the journal serialization body (spec
// §4.4): "PATH\0ACTION\0KIND_TOKENS\0" for new/del, with old- then
// new-kind-tokens for replace.
func writeEntryFrame(w io.Writer, path string, entry journal.Entry) error {
	for _, tok := range journal.EntryTokens(path, entry, journal.V2) {
		if _, err := io.WriteString(w, tok); err != nil {
			return fmt.Errorf("write token: %w", err)
		}

		if _, err := w.Write([]byte{0}); err != nil {
			return fmt.Errorf("write token separator: %w", err)
		}
	}

	return nil
}

// needsBody reports whether entry's wire frame is immediately followed by
// New.Length raw file bytes.
func needsBody(entry journal.Entry) bool {
	switch entry.Action {
	case journal.ActionNew, journal.ActionReplace:
		return entry.New.Kind == pathcontent.KindFile
	default:
		return false
	}
}

// readToken reads one NUL-terminated token from br.
func readToken(br *bufio.Reader) (string, error) {
	tok, err := br.ReadString(0)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return tok[:len(tok)-1], nil
}

// readEntryFrame decodes one entry's framing tokens from br. Returns io.EOF
// (unwrapped) when the stream is exhausted before any token is read.
func readEntryFrame(br *bufio.Reader) (string, journal.Entry, error) {
	path, err := readToken(br)
	if err != nil {
		return "", journal.Entry{}, err
	}

	action, err := readToken(br)
	if err != nil {
		return "", journal.Entry{}, fmt.Errorf("%w: truncated frame for %q: %w", lmirrorerr.ErrProtocol, path, err)
	}

	switch action {
	case "new":
		content, err := readKind(br)
		if err != nil {
			return "", journal.Entry{}, fmt.Errorf("%w: %q: %w", lmirrorerr.ErrProtocol, path, err)
		}

		return path, journal.Entry{Action: journal.ActionNew, New: content}, nil

	case "del":
		content, err := readKind(br)
		if err != nil {
			return "", journal.Entry{}, fmt.Errorf("%w: %q: %w", lmirrorerr.ErrProtocol, path, err)
		}

		return path, journal.Entry{Action: journal.ActionDel, Old: content}, nil

	case "replace":
		oldContent, err := readKind(br)
		if err != nil {
			return "", journal.Entry{}, fmt.Errorf("%w: %q: %w", lmirrorerr.ErrProtocol, path, err)
		}

		newContent, err := readKind(br)
		if err != nil {
			return "", journal.Entry{}, fmt.Errorf("%w: %q: %w", lmirrorerr.ErrProtocol, path, err)
		}

		return path, journal.Entry{Action: journal.ActionReplace, Old: oldContent, New: newContent}, nil

	default:
		return "", journal.Entry{}, fmt.Errorf("%w: unknown action %q for %q", lmirrorerr.ErrProtocol, action, path)
	}
}

func readKind(br *bufio.Reader) (pathcontent.PathContent, error) {
	kind, err := readToken(br)
	if err != nil {
		return pathcontent.PathContent{}, fmt.Errorf("read kind: %w", err)
	}

	switch kind {
	case "file":
		sha1, err := readToken(br)
		if err != nil {
			return pathcontent.PathContent{}, fmt.Errorf("read sha1: %w", err)
		}

		lengthTok, err := readToken(br)
		if err != nil {
			return pathcontent.PathContent{}, fmt.Errorf("read length: %w", err)
		}

		length, err := strconv.ParseInt(lengthTok, 10, 64)
		if err != nil {
			return pathcontent.PathContent{}, fmt.Errorf("bad length token %q: %w", lengthTok, err)
		}

		mtimeTok, err := readToken(br)
		if err != nil {
			return pathcontent.PathContent{}, fmt.Errorf("read mtime: %w", err)
		}

		var mtime *float64
		if mtimeTok != "" {
			parsed, err := strconv.ParseFloat(mtimeTok, 64)
			if err != nil {
				return pathcontent.PathContent{}, fmt.Errorf("bad mtime token %q: %w", mtimeTok, err)
			}
			mtime = &parsed
		}

		return pathcontent.NewFile(sha1, length, mtime), nil

	case "dir":
		return pathcontent.NewDirectory(), nil

	case "symlink":
		target, err := readToken(br)
		if err != nil {
			return pathcontent.PathContent{}, fmt.Errorf("read target: %w", err)
		}

		return pathcontent.NewSymlink(target), nil

	default:
		return pathcontent.PathContent{}, fmt.Errorf("%w: unknown kind token %q", lmirrorerr.ErrBadFormat, kind)
	}
}
