package replay

import (
	"context"
	"io"
)

// ctxReader wraps an io.Reader so a mid-transfer context cancellation is
// observed on the next Read rather than only after the whole body arrives,
// mirroring the teacher's contextReader (cmd/mirrorshuttle/util.go).
type ctxReader struct {
	ctx    context.Context //nolint:containedctx
	reader io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.reader.Read(p) //nolint:wrapcheck
	}
}
