package mirrorset

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/scanner"
)

// ContentConf is a set's content.conf: the include/exclude regex rules and
// filter programs layered on top of the scanner's literal rules (spec §4.3,
// §9 "content.conf").
type ContentConf struct {
	Includes []string
	Excludes []string
	Programs []string
}

// parseContentConf reads one directive per non-blank, non-comment line:
//
//	include <regex>
//	exclude <regex>
//	program <cmdline>
func parseContentConf(data []byte) (ContentConf, error) {
	var cfg ContentConf

	scannerLines := bufio.NewScanner(bytes.NewReader(data))
	for scannerLines.Scan() {
		line := strings.TrimSpace(scannerLines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, arg, ok := strings.Cut(line, " ")
		if !ok {
			return ContentConf{}, fmt.Errorf("%w: malformed content.conf line %q", lmirrorerr.ErrBadFormat, line)
		}

		arg = strings.TrimSpace(arg)

		switch directive {
		case "include":
			cfg.Includes = append(cfg.Includes, arg)
		case "exclude":
			cfg.Excludes = append(cfg.Excludes, arg)
		case "program":
			cfg.Programs = append(cfg.Programs, arg)
		default:
			return ContentConf{}, fmt.Errorf("%w: unknown content.conf directive %q", lmirrorerr.ErrBadFormat, directive)
		}
	}

	if err := scannerLines.Err(); err != nil {
		return ContentConf{}, fmt.Errorf("read content.conf: %w", err)
	}

	return cfg, nil
}

func (c ContentConf) serialize() []byte {
	var buf bytes.Buffer

	for _, inc := range c.Includes {
		fmt.Fprintf(&buf, "include %s\n", inc)
	}

	for _, exc := range c.Excludes {
		fmt.Fprintf(&buf, "exclude %s\n", exc)
	}

	for _, prog := range c.Programs {
		fmt.Fprintf(&buf, "program %s\n", prog)
	}

	return buf.Bytes()
}

// scannerOptions builds the scanner.Options this content.conf describes for
// set name, starting any filter subprocesses it names. The caller owns the
// returned FilterSet's lifecycle and must Close it after the scan.
func (c ContentConf) scannerOptions(name string, hints scanner.HintSet) (scanner.Options, error) {
	var filters *scanner.FilterSet

	if len(c.Programs) > 0 {
		fs, err := scanner.StartFilterSet(c.Programs)
		if err != nil {
			return scanner.Options{}, fmt.Errorf("start content.conf filters: %w", err)
		}

		filters = fs
	}

	return scanner.Options{
		SetName:  name,
		Includes: c.Includes,
		Excludes: c.Excludes,
		Hints:    hints,
		Filters:  filters,
	}, nil
}
