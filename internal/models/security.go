package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Security event types emitted by the admission layer
const (
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventSuspiciousActivity = "suspicious_activity_detected"
	EventAuditSuccess       = "audit_success"
	EventAuditFailed        = "audit_failed"
	EventAuthFailed         = "auth_failed"
	EventUnauthorizedAccess = "unauthorized_access"
)

// IsKnownEventType reports whether eventType is one the admission layer emits
func IsKnownEventType(eventType string) bool {
	switch eventType {
	case EventRateLimitExceeded, EventSuspiciousActivity, EventAuditSuccess,
		EventAuditFailed, EventAuthFailed, EventUnauthorizedAccess:
		return true
	}
	return false
}

// Alert types synthesized from security events
const (
	AlertBruteForce          = "brute_force_attack"
	AlertImmediateBruteForce = "immediate_brute_force"
	AlertRapidRequests       = "rapid_requests"
	AlertAccountSharing      = "potential_account_sharing"
	AlertPrivilegeEscalation = "privilege_escalation_attempt"
	AlertInjectionAttempt    = "injection_attempt"
)

// SecurityEvent is an immutable record of a security relevant occurrence
type SecurityEvent struct {
	ID             uuid.UUID `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	UserID         string    `json:"user_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	AdditionalData string    `json:"additional_data,omitempty"` // JSON encoded payload
}

// Severity orders alerts: Low < Medium < High < Critical
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in JSON payloads
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the lower-case severity names
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name, case-insensitively
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("%w: unknown severity %q", ErrBadRequest, name)
	}
}

// SecurityAlert is a higher level finding derived from several events
type SecurityAlert struct {
	ID             uuid.UUID `json:"id"`
	AlertType      string    `json:"alert_type"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	ExpiresAt      time.Time `json:"expires_at"`
	AdditionalData string    `json:"additional_data,omitempty"`
	IsResolved     bool      `json:"is_resolved"`
}

// Expired reports whether the alert is past its retention
func (a *SecurityAlert) Expired(now time.Time) bool {
	return a.ExpiresAt.Before(now)
}

// SecurityMetrics summarizes events over a period
type SecurityMetrics struct {
	Period               time.Duration  `json:"-"`
	PeriodHours          float64        `json:"period_hours"`
	TotalEvents          int            `json:"total_events"`
	FailedAuthAttempts   int            `json:"failed_auth_attempts"`
	RateLimitViolations  int            `json:"rate_limit_violations"`
	SuspiciousActivities int            `json:"suspicious_activities"`
	UniqueIPAddresses    int            `json:"unique_ip_addresses"`
	UniqueUsers          int            `json:"unique_users"`
	TopIPAddresses       map[string]int `json:"top_ip_addresses"`
	EventsByType         map[string]int `json:"events_by_type"`
}
