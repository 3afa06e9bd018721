package scanner

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
)

// Filter owns a long-lived filter subprocess spawned for the duration of a
// scan. The core only guarantees lifecycle (spawn, drain, close on both
// success and error); the filtering semantics themselves are a host
// extension point (spec §4.3, §9).
type Filter struct {
	Program string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
}

// StartFilter spawns program (a full command line, split on spaces) with
// piped stdio.
func StartFilter(program string) (*Filter, error) {
	parts := splitCommandLine(program)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty filter program")
	}

	cmd := exec.Command(parts[0], parts[1:]...) //nolint:gosec

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("filter %q: stdin pipe: %w", program, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("filter %q: stdout pipe: %w", program, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("filter %q: start: %w", program, err)
	}

	return &Filter{
		Program: program,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewScanner(stdout),
	}, nil
}

// Feed sends a content line to the filter's stdin.
func (f *Filter) Feed(line string) error {
	if _, err := io.WriteString(f.stdin, line+"\n"); err != nil {
		return fmt.Errorf("filter %q: write: %w", f.Program, err)
	}

	return nil
}

// Close closes the filter's stdin and waits for it to exit, draining any
// remaining stdout. Safe to call multiple times.
func (f *Filter) Close() error {
	if f.stdin == nil {
		return nil
	}

	_ = f.stdin.Close()
	f.stdin = nil

	for f.stdout.Scan() { //nolint:revive
		// drain
	}

	if err := f.cmd.Wait(); err != nil {
		return fmt.Errorf("filter %q: wait: %w", f.Program, err)
	}

	return nil
}

// FilterSet owns a collection of filters for a single scan and guarantees
// they are drained and closed exactly once.
type FilterSet struct {
	Filters []*Filter
}

// StartFilterSet spawns one Filter per program.
func StartFilterSet(programs []string) (*FilterSet, error) {
	fs := &FilterSet{}

	for _, p := range programs {
		f, err := StartFilter(p)
		if err != nil {
			fs.Close()

			return nil, err
		}

		fs.Filters = append(fs.Filters, f)
	}

	return fs, nil
}

// Close drains and closes every filter, guaranteed on both the success and
// the error path of a scan.
func (fs *FilterSet) Close() {
	if fs == nil {
		return
	}

	for _, f := range fs.Filters {
		_ = f.Close()
	}
}

func splitCommandLine(s string) []string {
	var (
		fields  []string
		current []rune
		inQuote rune
	)

	flush := func() {
		if len(current) > 0 {
			fields = append(fields, string(current))
			current = nil
		}
	}

	for _, r := range s {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				current = append(current, r)
			}
		case r == '\'' || r == '"':
			inQuote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			current = append(current, r)
		}
	}
	flush()

	return fields
}
