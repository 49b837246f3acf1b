package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/PeladoCollado/cpuload/server/logger"
	"golang.org/x/time/rate"
)

type RateLimitOptions struct {
	// RPS is the sustained rate of admitted requests. RPS <= 0 disables limiting.
	RPS          float64
	Burst        int
	RejectStatus int
}

// RateLimit admits requests through a single token bucket shared by every caller.
func RateLimit(opts RateLimitOptions) func(next http.Handler) http.Handler {
	if opts.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	limiter := rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			reservation := limiter.ReserveN(now, 1)
			if delay := reservation.DelayFrom(now); delay > 0 {
				reservation.CancelAt(now)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
				logger.Logger.Warnw("Rejecting request, rate limit exceeded", "path", r.URL.Path, "retryAfter", delay)
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(delay time.Duration) int {
	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
