package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AdminRateLimitConfig holds rate limiting configuration for the security admin surface
type AdminRateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAdminRateLimit returns the default admin surface limit (60 requests per minute)
func DefaultAdminRateLimit(ipConfig *pkghttp.IPConfig) AdminRateLimitConfig {
	return AdminRateLimitConfig{
		RequestsPerMinute: 60,
		IPConfig:          ipConfig,
	}
}

// AdminRateLimit throttles the administrative endpoints per client IP. It is a fixed
// window independent of the admission limiter, so no lockout applies here.
func AdminRateLimit(config AdminRateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests to the security API")
		}),
	)
}
