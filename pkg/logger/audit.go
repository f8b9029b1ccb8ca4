package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditRecord describes one audited request
type AuditRecord struct {
	RequestID    string
	Method       string
	Path         string
	Query        string
	StatusCode   int
	Elapsed      time.Duration
	UserID       string
	Role         string
	IPAddress    string
	UserAgent    string
	ContentType  string
	Referer      string
	RequestBody  string // sanitized and truncated
	ResponseBody string // sanitized and truncated
	HighRisk     bool
}

// Failed reports whether the request ended with a client or server error
func (r AuditRecord) Failed() bool {
	return r.StatusCode >= 400
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogRequest writes one audit line. Failed requests and high risk operations are
// logged at WARN, everything else at INFO.
func (al *AuditLogger) LogRequest(ctx context.Context, rec AuditRecord) {
	attrs := []slog.Attr{
		slog.String("audit_type", "request"),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.Int("status", rec.StatusCode),
		slog.Int64("elapsed_ms", rec.Elapsed.Milliseconds()),
		slog.Bool("success", !rec.Failed()),
		slog.Bool("high_risk", rec.HighRisk),
		slog.Bool("authenticated", rec.UserID != ""),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if rec.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", rec.RequestID))
	}
	if rec.Query != "" {
		if SanitizeQueryString(rec.Query) {
			attrs = append(attrs, slog.String("query", "[REDACTED]"))
		} else {
			attrs = append(attrs, slog.String("query", rec.Query))
		}
	}
	if rec.UserID != "" {
		attrs = append(attrs, slog.String("user_id", rec.UserID))
	}
	if rec.Role != "" {
		attrs = append(attrs, slog.String("role", rec.Role))
	}
	if rec.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", rec.IPAddress))
	}
	if rec.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", rec.UserAgent))
	}
	if rec.ContentType != "" {
		attrs = append(attrs, slog.String("content_type", rec.ContentType))
	}
	if rec.Referer != "" {
		attrs = append(attrs, slog.String("referer", rec.Referer))
	}
	if rec.RequestBody != "" {
		attrs = append(attrs, slog.String("request_body", rec.RequestBody))
	}
	if rec.ResponseBody != "" {
		attrs = append(attrs, slog.String("response_body", rec.ResponseBody))
	}

	switch {
	case rec.Failed():
		al.logger.LogAttrs(ctx, slog.LevelWarn, "security audit: failed request", attrs...)
	case rec.HighRisk:
		al.logger.LogAttrs(ctx, slog.LevelWarn, "security audit: high risk operation", attrs...)
	default:
		al.logger.LogAttrs(ctx, slog.LevelInfo, "security audit: request", attrs...)
	}
}
