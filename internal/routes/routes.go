package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const defaultRequestTimeout = 30 * time.Second

// HealthChecker reports whether an optional dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds everything the router needs
type Dependencies struct {
	Logger         *slog.Logger
	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration
	IPConfig       *pkghttp.IPConfig

	TokenManager   *auth.TokenManager
	Admission      middleware.AdmissionConfig
	AuditCapture   middleware.AuditCaptureConfig
	AdminRateLimit middleware.AdminRateLimitConfig
	Security       *handlers.SecurityHandler

	// Gatherer serves MetricsPath when set
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Archive is checked by /health when the Postgres archive is enabled
	Archive HealthChecker
}

// NewRouter builds the middleware chain and registers every route.
//
// /health and the metrics endpoint sit outside admission control. Everything
// else passes RequestID, SecureLogger, Recoverer, IdentifyUser, Admission,
// AuditCapture and Timeout in that order.
func NewRouter(deps Dependencies) chi.Router {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.AllowedOrigins)))
	router.Use(middleware.SecureLogger(deps.Logger, deps.IPConfig))
	router.Use(chimiddleware.Recoverer)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Resource not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	router.Get("/health", healthHandler(deps.Archive))
	if deps.Gatherer != nil && deps.MetricsPath != "" {
		router.Handle(deps.MetricsPath, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(auth.IdentifyUser(deps.TokenManager, deps.Logger))
		r.Use(middleware.Admission(deps.Admission, deps.Logger))
		r.Use(middleware.AuditCapture(deps.AuditCapture, deps.Logger))
		r.Use(chimiddleware.Timeout(deps.RequestTimeout))

		r.Route("/api/security", func(r chi.Router) {
			registerSecurityRoutes(r, deps)
		})

		// Business endpoints are served elsewhere; unknown paths still pass admission
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteNotFound(w, "Resource not found")
		}))
	})

	return router
}

func registerSecurityRoutes(r chi.Router, deps Dependencies) {
	r.Use(middleware.AdminRateLimit(deps.AdminRateLimit))
	r.Use(auth.RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleAdmin, models.RoleTrainer))
		r.Get("/metrics", deps.Security.GetMetrics)
		r.Get("/alerts", deps.Security.GetAlerts)
		r.Post("/log-event", deps.Security.LogEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleAdmin))
		r.Post("/check-threats", deps.Security.CheckThreats)
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Archive string `json:"archive,omitempty"`
}

func healthHandler(archive HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if archive == nil {
			pkghttp.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := archive.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Archive: "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Archive: "up"})
	}
}
