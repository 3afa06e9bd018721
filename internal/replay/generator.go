package replay

import (
	"context"
	"fmt"
	"io"

	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/transport"
)

// Generator produces the replay stream for a consolidated journal: framing
// tokens per entry (§4.4), immediately followed by the new file body for any
// new/replace entry whose new payload is a file, read from Content.
type Generator struct {
	Journal *journal.Journal
	Content transport.Transport
}

// Generate writes the full ordered replay stream to w.
func (g *Generator) Generate(ctx context.Context, w io.Writer) error {
	plan := NewPlan(g.Journal)

	for _, path := range plan.Ordered() {
		entry := g.Journal.Paths[path]

		if err := writeEntryFrame(w, path, entry); err != nil {
			return fmt.Errorf("write frame for %q: %w", path, err)
		}

		if !needsBody(entry) {
			continue
		}

		if err := g.writeBody(ctx, w, path, entry.New.Length); err != nil {
			return fmt.Errorf("write body for %q: %w", path, err)
		}
	}

	return nil
}

func (g *Generator) writeBody(ctx context.Context, w io.Writer, path string, length int64) error {
	r, err := g.Content.GetReader(ctx, path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	n, err := io.Copy(w, io.LimitReader(r, length))
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	if n != length {
		return fmt.Errorf("source %q had %d bytes, expected %d", path, n, length)
	}

	return nil
}
