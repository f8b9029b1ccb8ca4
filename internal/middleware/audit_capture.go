package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// DefaultAuditBodyLimit caps how many bytes of each body are buffered for auditing
const DefaultAuditBodyLimit = 64 * 1024

// oversizedBody replaces bodies larger than the capture limit. A cut JSON document
// no longer parses, so its sensitive keys could not be redacted.
const oversizedBody = "[body exceeds audit capture limit]"

// AuditCaptureConfig holds configuration for the audit capture middleware
type AuditCaptureConfig struct {
	Audit        *services.AuditService
	IPConfig     *pkghttp.IPConfig
	BodyLimit    int64 // bytes captured per body, defaults to DefaultAuditBodyLimit
	MaxLogLength int   // characters kept after sanitizing, defaults to pkglogger.DefaultMaxBodyLength
}

// AuditCapture records sensitive requests with their sanitized bodies and emits
// the events derived from every response status. The handler still sees the
// complete request body and the client the unmodified response.
func AuditCapture(cfg AuditCaptureConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultAuditBodyLimit
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = pkglogger.DefaultMaxBodyLength
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sensitive := services.IsSensitiveEndpoint(r.URL.Path)

			var requestBody []byte
			if sensitive {
				requestBody = captureRequestBody(r, cfg.BodyLimit, logger)
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var responseBody *cappedBuffer
			if sensitive {
				responseBody = &cappedBuffer{limit: int(cfg.BodyLimit) + 1}
				wrapped.Tee(responseBody)
			}

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			status := responseStatus(wrapped)

			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "audit capture failed",
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec))
				}
			}()

			claims := auth.GetUserFromContext(r)
			var userID, role string
			if claims != nil {
				userID, role = claims.UserID, claims.Role
			}
			ip := pkghttp.ExtractClientIP(r, cfg.IPConfig)
			category := services.ClassifyEndpoint(r.URL.Path, r.Method)

			cfg.Audit.RecordOutcome(r.Context(), category, r.Method, r.URL.Path, userID, ip, status)

			if !sensitive {
				return
			}

			cfg.Audit.RecordRequest(r.Context(), pkglogger.AuditRecord{
				RequestID:    middleware.GetReqID(r.Context()),
				Method:       r.Method,
				Path:         r.URL.Path,
				Query:        r.URL.RawQuery,
				StatusCode:   status,
				Elapsed:      elapsed,
				UserID:       userID,
				Role:         role,
				IPAddress:    ip,
				UserAgent:    r.UserAgent(),
				ContentType:  r.Header.Get("Content-Type"),
				Referer:      r.Referer(),
				RequestBody:  sanitizeBody(requestBody, int(cfg.BodyLimit), cfg.MaxLogLength),
				ResponseBody: sanitizeBody(responseBody.Bytes(), int(cfg.BodyLimit), cfg.MaxLogLength),
				HighRisk:     services.IsHighRiskOperation(r.URL.Path, r.Method),
			})
		})
	}
}

// captureRequestBody reads up to limit+1 bytes and puts them back in front of the
// unread remainder so the handler sees the full body.
func captureRequestBody(r *http.Request, limit int64, logger *slog.Logger) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	captured, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		logger.WarnContext(r.Context(), "failed to capture request body for audit",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(captured), r.Body),
		Closer: r.Body,
	}
	return captured
}

func sanitizeBody(body []byte, limit, maxLen int) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > limit {
		return oversizedBody
	}
	return pkglogger.Truncate(pkglogger.SanitizePayload(string(body)), maxLen)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
// Write never fails so the tee cannot disturb the real response.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := c.limit - c.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			c.buf.Write(p[:remaining])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	if c == nil {
		return nil
	}
	return c.buf.Bytes()
}
