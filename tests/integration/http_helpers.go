//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

const testJWTSecret = "integration-secret-0123456789-abcdefghijklmnopqrstuvwxyz"

// TestServer runs the full admission stack against a real archive
type TestServer struct {
	Server    *httptest.Server
	Monitor   *services.SecurityMonitoringService
	Forwarder *services.EventForwarder
	Tokens    *auth.TokenManager
	Logger    *slog.Logger

	stopForwarder context.CancelFunc
	forwarderDone chan struct{}
}

// NewTestLogger logs to stderr when GATEKEEPER_TEST_LOGS is set
func NewTestLogger() *slog.Logger {
	if os.Getenv("GATEKEEPER_TEST_LOGS") != "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// NewTestServer wires limiter, heuristics, monitor and forwarder the way cmd/api does
func NewTestServer(db *TestDB, logger *slog.Logger) (*TestServer, error) {
	m := metrics.New(metrics.NewRegistry())
	ipConfig := pkghttp.NewIPConfig(nil, true)

	forwarder := services.NewEventForwarder(services.EventForwarderConfig{},
		repositories.NewSecurityEventRepository(db.DB), nil, m, logger)

	limiter, err := services.NewRateLimitService(services.RateLimitConfig{}, logger)
	if err != nil {
		return nil, err
	}
	monitor := services.NewSecurityMonitoringService(services.SecurityMonitoringConfig{}, forwarder, m, logger)
	audit := services.NewAuditService(pkglogger.NewAuditLogger(logger), monitor, logger)
	tokens := auth.NewTokenManager(testJWTSecret, time.Hour)

	router := routes.NewRouter(routes.Dependencies{
		Logger:         logger,
		Env:            "test",
		RequestTimeout: 10 * time.Second,
		IPConfig:       ipConfig,
		TokenManager:   tokens,
		Admission: middleware.AdmissionConfig{
			Limiter:  limiter,
			Activity: services.NewActivityService(services.ActivityConfig{}, logger),
			Sink:     monitor,
			IPConfig: ipConfig,
			Metrics:  m,
		},
		AuditCapture:   middleware.AuditCaptureConfig{Audit: audit, IPConfig: ipConfig},
		AdminRateLimit: middleware.DefaultAdminRateLimit(ipConfig),
		Security:       handlers.NewSecurityHandler(monitor, ipConfig, logger),
		Archive:        db.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ts := &TestServer{
		Server:        httptest.NewServer(router),
		Monitor:       monitor,
		Forwarder:     forwarder,
		Tokens:        tokens,
		Logger:        logger,
		stopForwarder: cancel,
		forwarderDone: make(chan struct{}),
	}

	go func() {
		defer close(ts.forwarderDone)
		_ = forwarder.Run(ctx)
	}()

	return ts, nil
}

// Close stops the server and waits for the forwarder to drain
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.stopForwarder()
	<-ts.forwarderDone
}

// Do sends a request as the given client IP with an optional bearer token
func (ts *TestServer) Do(method, path, clientIP, token, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Forwarded-For", clientIP)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.Server.Client().Do(req)
}

// Token issues an access token for the given role
func (ts *TestServer) Token(userID, role string) (string, error) {
	return ts.Tokens.GenerateAccessToken(userID, userID+"@example.com", role)
}
