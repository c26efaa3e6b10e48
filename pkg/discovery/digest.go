package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/q99/cloudservices/pkg/provider"
)

// DefaultChunkSize is the read buffer used while hashing object content.
const DefaultChunkSize = 8 * 1024

// Digester computes SHA-256 content digests by streaming objects through a
// fixed-size buffer.
type Digester struct {
	getter    provider.ObjectGetter
	chunkSize int
}

// NewDigester returns a digester reading through g. A chunkSize <= 0 uses
// DefaultChunkSize.
func NewDigester(g provider.ObjectGetter, chunkSize int) *Digester {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Digester{getter: g, chunkSize: chunkSize}
}

// Digest returns the lowercase hex SHA-256 of the object and the number of
// bytes read.
func (d *Digester) Digest(ctx context.Context, key string) (string, int64, error) {
	body, _, err := d.getter.GetObject(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = body.Close() }()

	h := sha256.New()
	buf := make([]byte, d.chunkSize)
	n, err := io.CopyBuffer(h, &ctxReader{ctx: ctx, r: body}, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ctxReader stops a copy at the next chunk boundary once ctx is done.
// Wrapping also hides any WriterTo on the body, so CopyBuffer uses buf.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
