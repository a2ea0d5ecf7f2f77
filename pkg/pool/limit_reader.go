package pool

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// LimitReader throttles r to limit bytes per second.
type LimitReader struct {
	r io.Reader
	l *rate.Limiter
	c context.Context
}

func NewLimitReader(ctx context.Context, r io.Reader, limit, burst int) *LimitReader {
	return &LimitReader{
		r: r,
		l: rate.NewLimiter(rate.Limit(limit), max(burst, 1)),
		c: ctx,
	}
}

// Read reads at most one burst at a time, then waits until the limiter
// allows what was read. A cancelled context ends the read with its error.
func (lr *LimitReader) Read(p []byte) (int, error) {
	if len(p) > lr.l.Burst() {
		p = p[:lr.l.Burst()]
	}
	n, err := lr.r.Read(p)
	if n > 0 {
		if werr := lr.l.WaitN(lr.c, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
