package direct

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// throttledWriter caps write throughput with a token bucket holding at most
// one copy buffer worth of bytes.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// newThrottledWriter returns w unchanged when limit is not positive.
func newThrottledWriter(ctx context.Context, w io.Writer, limit int64) io.Writer {
	if limit <= 0 {
		return w
	}
	burst := int(min(limit, copyBufferSize))
	l := rate.NewLimiter(rate.Limit(limit), burst)
	// start empty so the first second is not a free burst
	l.AllowN(time.Now(), burst)
	return &throttledWriter{ctx: ctx, w: w, limiter: l}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := min(len(p), t.limiter.Burst())
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			if ctxErr := t.ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, err
		}
		n, err := t.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}
