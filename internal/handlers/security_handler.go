package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const (
	defaultMetricsHours = 24
	maxMetricsHours     = 720
	maxLogEventBody     = 64 * 1024
)

// SecurityMonitor is the query and logging surface of the security monitoring service
type SecurityMonitor interface {
	LogSecurityEvent(ctx context.Context, eventType, userID, ipAddress string, data any)
	CheckForThreats(ctx context.Context) (int, error)
	GetActiveAlerts() []models.SecurityAlert
	GetSecurityMetrics(period time.Duration) models.SecurityMetrics
}

// SecurityHandler serves the administrative security endpoints
type SecurityHandler struct {
	monitor  SecurityMonitor
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(monitor SecurityMonitor, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{
		monitor:  monitor,
		ipConfig: ipConfig,
		logger:   logger,
		now:      time.Now,
	}
}

// SecurityResponse is the envelope for successful security API reads
type SecurityResponse struct {
	Success     bool      `json:"success"`
	Data        any       `json:"data"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AlertsData lists active alerts with per-severity counts
type AlertsData struct {
	Alerts        []models.SecurityAlert `json:"alerts"`
	Count         int                    `json:"count"`
	CriticalCount int                    `json:"critical_count"`
	HighCount     int                    `json:"high_count"`
}

// ActionResponse acknowledges a security API command
type ActionResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	AlertsFound *int      `json:"alerts_found,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LogEventRequest is the body of POST /api/security/log-event
type LogEventRequest struct {
	EventType      string         `json:"eventType" validate:"required,max=100"`
	AdditionalData map[string]any `json:"additionalData"`
}

// GetMetrics handles GET /api/security/metrics?hours=N
func (h *SecurityHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	hours := defaultMetricsHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxMetricsHours {
			pkghttp.WriteBadRequest(w, "hours must be an integer between 1 and 720")
			return
		}
		hours = parsed
	}

	metrics := h.monitor.GetSecurityMetrics(time.Duration(hours) * time.Hour)

	pkghttp.WriteJSON(w, http.StatusOK, SecurityResponse{
		Success:     true,
		Data:        metrics,
		GeneratedAt: h.now().UTC(),
	})
}

// GetAlerts handles GET /api/security/alerts
func (h *SecurityHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.monitor.GetActiveAlerts()
	if alerts == nil {
		alerts = []models.SecurityAlert{}
	}

	data := AlertsData{Alerts: alerts, Count: len(alerts)}
	for _, alert := range alerts {
		switch alert.Severity {
		case models.SeverityCritical:
			data.CriticalCount++
		case models.SeverityHigh:
			data.HighCount++
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityResponse{
		Success:     true,
		Data:        data,
		GeneratedAt: h.now().UTC(),
	})
}

// CheckThreats handles POST /api/security/check-threats
func (h *SecurityHandler) CheckThreats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raised, err := h.monitor.CheckForThreats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "threat detection failed", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "Failed to run threat detection")
		return
	}

	h.logger.InfoContext(ctx, "threat detection run on demand",
		slog.String("user_id", auth.UserID(r)),
		slog.Int("alerts", raised))

	pkghttp.WriteJSON(w, http.StatusOK, ActionResponse{
		Success:     true,
		Message:     "Threat detection completed",
		AlertsFound: &raised,
		Timestamp:   h.now().UTC(),
	})
}

// LogEvent handles POST /api/security/log-event. The event is attributed to the caller.
func (h *SecurityHandler) LogEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LogEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLogEventBody)).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var data any
	if req.AdditionalData != nil {
		data = req.AdditionalData
	}

	h.monitor.LogSecurityEvent(ctx, req.EventType, auth.UserID(r), pkghttp.ExtractClientIP(r, h.ipConfig), data)

	pkghttp.WriteJSON(w, http.StatusOK, ActionResponse{
		Success:   true,
		Message:   "Security event logged",
		Timestamp: h.now().UTC(),
	})
}
