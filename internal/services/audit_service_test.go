package services_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

func newTestAuditService(buf *bytes.Buffer, sink services.EventSink) *services.AuditService {
	log := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return services.NewAuditService(logger.NewAuditLogger(log), sink, log)
}

func TestAuditService_RecordRequest(t *testing.T) {
	var buf bytes.Buffer
	sink := &services.RecordingSink{}
	svc := newTestAuditService(&buf, sink)

	svc.RecordRequest(context.Background(), logger.AuditRecord{
		Method:      http.MethodPost,
		Path:        "/auth/login",
		StatusCode:  http.StatusOK,
		Elapsed:     42 * time.Millisecond,
		UserID:      "user-1",
		IPAddress:   "203.0.113.7",
		RequestBody: `{"email":"***EMAIL***","password":"***REDACTED***"}`,
		HighRisk:    true,
	})

	events := sink.OfType(models.EventAuditSuccess)
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].AdditionalData), &payload))
	assert.Equal(t, "POST", payload["method"])
	assert.Equal(t, "/auth/login", payload["path"])
	assert.EqualValues(t, 200, payload["statusCode"])
	assert.EqualValues(t, 42, payload["elapsedMs"])
	assert.Equal(t, true, payload["highRisk"])
	assert.Contains(t, payload["requestBody"], "***REDACTED***")

	assert.Contains(t, buf.String(), "security audit: high risk operation")
}

func TestAuditService_RecordRequestFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := &services.RecordingSink{}
	svc := newTestAuditService(&buf, sink)

	svc.RecordRequest(context.Background(), logger.AuditRecord{
		Method:     http.MethodPut,
		Path:       "/api/me/profile",
		StatusCode: http.StatusUnprocessableEntity,
	})

	assert.Len(t, sink.OfType(models.EventAuditFailed), 1)
	assert.Empty(t, sink.OfType(models.EventAuditSuccess))
	assert.Contains(t, buf.String(), "security audit: failed request")
}

func TestAuditService_RecordOutcome(t *testing.T) {
	tests := []struct {
		name             string
		category         models.RateLimitCategory
		path             string
		userID           string
		status           int
		wantAuthFailed   int
		wantUnauthorized int
	}{
		{"failed login", models.CategoryAuthLogin, "/auth/login", "", 401, 1, 0},
		{"bad register", models.CategoryAuthRegister, "/auth/register", "", 400, 1, 0},
		{"successful login", models.CategoryAuthLogin, "/auth/login", "", 200, 0, 0},
		{"login server error", models.CategoryAuthLogin, "/auth/login", "", 500, 0, 0},
		{"authenticated forbidden", models.CategoryAPIGeneral, "/api/admin/users", "user-1", 403, 0, 1},
		{"authenticated unauthorized", models.CategoryAPIProfile, "/api/me/profile", "user-1", 401, 0, 1},
		{"anonymous forbidden", models.CategoryAPIGeneral, "/api/admin/users", "", 403, 0, 0},
		{"authenticated not found", models.CategoryAPIGeneral, "/api/plans/9", "user-1", 404, 0, 0},
		{"forbidden outside api", models.CategoryAPIGeneral, "/reports", "user-1", 403, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := &services.RecordingSink{}
			svc := newTestAuditService(&buf, sink)

			svc.RecordOutcome(context.Background(), tt.category, http.MethodPost, tt.path, tt.userID, "198.51.100.1", tt.status)

			assert.Len(t, sink.OfType(models.EventAuthFailed), tt.wantAuthFailed)
			assert.Len(t, sink.OfType(models.EventUnauthorizedAccess), tt.wantUnauthorized)
		})
	}
}

func TestAuditService_FailedLoginsFeedBruteForce(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	monitor := services.NewSecurityMonitoringService(services.SecurityMonitoringConfig{TimeProvider: clock.Now}, nil, nil, services.NewTestLogger())
	svc := services.NewAuditService(logger.NewAuditLogger(services.NewTestLogger()), monitor, services.NewTestLogger())

	for i := 0; i < 5; i++ {
		svc.RecordOutcome(context.Background(), models.CategoryAuthLogin, http.MethodPost, "/auth/login", "", "203.0.113.9", http.StatusUnauthorized)
		clock.Advance(time.Second)
	}

	alerts := monitor.GetActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertImmediateBruteForce, alerts[0].AlertType)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
}
