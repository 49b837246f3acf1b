package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/PeladoCollado/cpuload/server/logger"
)

type ConcurrencyOptions struct {
	// Max caps concurrent requests through the middleware. Max <= 0 disables the cap.
	Max          int
	RejectStatus int
	// AcquireTimeout bounds the wait for a free slot. Zero waits until the request ends.
	AcquireTimeout time.Duration
}

type slotPool struct {
	sem chan struct{}
}

func newSlotPool(max int) *slotPool {
	return &slotPool{sem: make(chan struct{}, max)}
}

func (p *slotPool) acquire(ctx context.Context, timeout time.Duration) (func(), bool) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// Concurrency limits how many load sessions run at once; each one already saturates every core.
func Concurrency(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	pool := newSlotPool(opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := pool.acquire(r.Context(), opts.AcquireTimeout)
			if !ok {
				logger.Logger.Warnw("Rejecting request, no free session slot", "path", r.URL.Path, "max", opts.Max)
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
