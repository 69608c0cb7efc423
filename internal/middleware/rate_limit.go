package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-client request budgets for a route
type RateLimitConfig struct {
	Requests int
	Window   time.Duration     // zero means one minute
	IPConfig *pkghttp.IPConfig // forwarded headers are honoured only from these proxies
}

// DefaultAuthRateLimit allows 5 requests per minute per client on auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 5, Window: time.Minute}
}

// RateLimitByIP limits requests per client IP. Each call returns an
// independent counter, so routes do not share budgets.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}
	clientKey := func(r *http.Request) (string, error) {
		return pkghttp.ExtractClientIP(r, config.IPConfig), nil
	}
	return httprate.Limit(config.Requests, window,
		httprate.WithKeyFuncs(clientKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}
