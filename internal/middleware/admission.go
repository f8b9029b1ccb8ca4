package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AdmissionConfig wires the admission middleware to its collaborators
type AdmissionConfig struct {
	Limiter  *services.RateLimitService
	Activity *services.ActivityService
	Sink     services.EventSink
	IPConfig *pkghttp.IPConfig
	Metrics  *metrics.Metrics // optional
}

type rateLimitPayload struct {
	Category   string `json:"category"`
	Identifier string `json:"identifier"`
	Endpoint   string `json:"endpoint"`
	Limit      int    `json:"limit"`
	Window     int    `json:"window"` // minutes
}

type suspiciousPayload struct {
	UserID          string `json:"userId,omitempty"`
	IPAddress       string `json:"ipAddress"`
	Endpoint        string `json:"endpoint"`
	Reason          string `json:"reason"`
	RequestCount    int    `json:"requestCount"`
	FailureCount    int    `json:"failureCount"`
	UniqueEndpoints int    `json:"uniqueEndpoints"`
}

// Admission returns the request admission middleware.
//
// Every request is checked against the global_ip policy keyed by client IP and
// then against its endpoint category, keyed by user id when authenticated and
// by IP otherwise. The first denial ends the request with a 429. Allowed
// requests are recorded in the activity heuristics once the handler has
// produced a status; flags are reported to the sink and never block.
//
// Internal faults fail open: the request is allowed and the fault logged.
// Must run after auth.IdentifyUser.
func Admission(cfg AdmissionConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			category := services.ClassifyEndpoint(r.URL.Path, r.Method)
			userID := auth.UserID(r)
			ip := pkghttp.ExtractClientIP(r, cfg.IPConfig)

			if denied := cfg.checkLimits(r.Context(), logger, category, userID, ip); denied != nil {
				cfg.reject(w, r, logger, *denied, category, userID, ip)
				return
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			cfg.evaluateActivity(r, logger, category, userID, ip, responseStatus(wrapped))
		})
	}
}

// checkLimits returns the first denying decision, or nil when the request is admitted
func (cfg AdmissionConfig) checkLimits(ctx context.Context, logger *slog.Logger, category models.RateLimitCategory, userID, ip string) (denied *models.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "rate limiter failed, admitting request",
				slog.String("category", category.String()),
				slog.Any("panic", rec))
			denied = nil
		}
	}()

	global := cfg.Limiter.CheckAndRegister(models.CategoryGlobalIP, ip)
	if !global.Allowed {
		return &global
	}

	identifier := ip
	if userID != "" {
		identifier = userID
	}

	decision := cfg.Limiter.CheckAndRegister(category, identifier)
	if !decision.Allowed {
		return &decision
	}

	cfg.Metrics.ObserveDecision(category.String(), "allowed")
	return nil
}

func (cfg AdmissionConfig) reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, decision models.Decision, endpoint models.RateLimitCategory, userID, ip string) {
	ctx := r.Context()
	category := decision.Category.String()

	logger.LogAttrs(ctx, slog.LevelWarn, "security event: rate limit exceeded",
		slog.String("category", category),
		slog.String("identifier", decision.Identifier),
		slog.String("endpoint", endpoint.String()),
		slog.String("ip_address", ip),
		slog.String("user_id", userID),
		slog.String("user_agent", r.UserAgent()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Duration("retry_after", decision.RetryAfter))

	cfg.Metrics.ObserveDecision(category, "denied")
	cfg.Sink.LogSecurityEvent(ctx, models.EventRateLimitExceeded, userID, ip, rateLimitPayload{
		Category:   category,
		Identifier: decision.Identifier,
		Endpoint:   endpoint.String(),
		Limit:      decision.Policy.MaxRequests,
		Window:     decision.Policy.WindowMinutes(),
	})

	pkghttp.WriteRateLimitExceeded(w, category,
		int(decision.RetryAfter/time.Second),
		decision.Policy.MaxRequests,
		decision.Policy.WindowMinutes())
}

func (cfg AdmissionConfig) evaluateActivity(r *http.Request, logger *slog.Logger, category models.RateLimitCategory, userID, ip string, status int) {
	ctx := r.Context()
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "activity heuristics failed",
				slog.String("category", category.String()),
				slog.Any("panic", rec))
		}
	}()

	identifier := ip
	if userID != "" {
		identifier = userID
	}

	eval := cfg.Activity.RecordAndEvaluate(identifier, category, status >= http.StatusBadRequest)
	for _, reason := range eval.Reasons {
		logger.LogAttrs(ctx, slog.LevelWarn, "security event: suspicious activity",
			slog.String("reason", string(reason)),
			slog.String("identifier", eval.Identifier),
			slog.String("endpoint", category.String()),
			slog.String("user_agent", r.UserAgent()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))

		cfg.Metrics.ObserveSuspicion(string(reason))
		cfg.Sink.LogSecurityEvent(ctx, models.EventSuspiciousActivity, userID, ip, suspiciousPayload{
			UserID:          userID,
			IPAddress:       ip,
			Endpoint:        category.String(),
			Reason:          string(reason),
			RequestCount:    eval.RequestCount,
			FailureCount:    eval.FailureCount,
			UniqueEndpoints: eval.UniqueEndpoints,
		})
	}
}

// responseStatus treats a handler that never wrote a header as 200
func responseStatus(w middleware.WrapResponseWriter) int {
	if status := w.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
