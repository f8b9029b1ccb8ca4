package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// auditPayload is the additional data attached to audit_success / audit_failed events
type auditPayload struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	StatusCode   int    `json:"statusCode"`
	ElapsedMs    int64  `json:"elapsedMs"`
	RequestBody  string `json:"requestBody,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
	HighRisk     bool   `json:"highRisk"`
}

type outcomePayload struct {
	Category   string `json:"category"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"statusCode"`
}

// AuditService handles audit logging with a dual-write pattern (slog + security event sink)
type AuditService struct {
	audit  *logger.AuditLogger
	sink   EventSink
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(audit *logger.AuditLogger, sink EventSink, logger *slog.Logger) *AuditService {
	return &AuditService{
		audit:  audit,
		sink:   sink,
		logger: logger,
	}
}

// RecordRequest writes the audit line for a sensitive request and emits the
// matching audit_success or audit_failed event.
func (s *AuditService) RecordRequest(ctx context.Context, rec logger.AuditRecord) {
	// Dual-write: immediate slog output
	s.audit.LogRequest(ctx, rec)

	eventType := models.EventAuditSuccess
	if rec.Failed() {
		eventType = models.EventAuditFailed
	}

	s.sink.LogSecurityEvent(ctx, eventType, rec.UserID, rec.IPAddress, auditPayload{
		Method:       rec.Method,
		Path:         rec.Path,
		StatusCode:   rec.StatusCode,
		ElapsedMs:    rec.Elapsed.Milliseconds(),
		RequestBody:  rec.RequestBody,
		ResponseBody: rec.ResponseBody,
		HighRisk:     rec.HighRisk,
	})
}

// RecordOutcome emits the events derived from a response status:
// auth_failed for rejected authentication attempts and unauthorized_access
// for authenticated API callers that were refused.
func (s *AuditService) RecordOutcome(ctx context.Context, category models.RateLimitCategory, method, path, userID, ipAddress string, statusCode int) {
	payload := outcomePayload{
		Category:   category.String(),
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
	}

	if category.IsAuth() && isAuthRejection(statusCode) {
		s.sink.LogSecurityEvent(ctx, models.EventAuthFailed, userID, ipAddress, payload)
	}

	refused := statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
	if userID != "" && refused && strings.HasPrefix(strings.ToLower(path), "/api/") {
		s.logger.DebugContext(ctx, "authenticated request refused",
			slog.String("user_id", userID),
			slog.String("path", path),
			slog.Int("status", statusCode))
		s.sink.LogSecurityEvent(ctx, models.EventUnauthorizedAccess, userID, ipAddress, payload)
	}
}

func isAuthRejection(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return false
	}
}
