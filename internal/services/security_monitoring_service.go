package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Threat detection thresholds
const (
	bruteForceThreshold     = 10
	rapidRequestThreshold   = 100
	rapidRequestWindow      = time.Minute
	accountSharingThreshold = 50
	privilegeThreshold      = 5

	immediateBruteForceThreshold = 5
	immediateBruteForceWindow    = 5 * time.Minute

	topIPAddressLimit = 10

	defaultMaxEvents = 100000
)

// injectionPatterns are matched against the lower-cased event payload
var injectionPatterns = []string{"select ", "union ", "drop ", ";--", "<script", "javascript:", "eval("}

// EventSink receives security events from the request pipeline.
// Implementations must not block the caller on I/O and must never panic into it.
type EventSink interface {
	LogSecurityEvent(ctx context.Context, eventType, userID, ipAddress string, data any)
}

// SecurityForwarder hands events and alerts to downstream sinks asynchronously
type SecurityForwarder interface {
	ForwardEvent(event models.SecurityEvent)
	ForwardAlert(alert models.SecurityAlert, created bool)
}

// SecurityMonitoringConfig holds configuration for SecurityMonitoringService
type SecurityMonitoringConfig struct {
	ThreatLookback time.Duration
	EventRetention time.Duration
	AlertRetention time.Duration
	// MaxEvents caps the retained log; the oldest events are evicted first
	MaxEvents    int
	TimeProvider func() time.Time
}

// SecurityMonitoringService keeps the recent security event log, synthesizes alerts
// from it and answers metric queries. It is the process-wide EventSink.
type SecurityMonitoringService struct {
	config    SecurityMonitoringConfig
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	forwarder SecurityForwarder

	eventsMu sync.RWMutex
	events   []models.SecurityEvent // ascending by timestamp

	// auth failure times per IP inside the immediate brute force window, guarded by eventsMu
	authFailures map[string][]time.Time

	alertsMu sync.Mutex
	alerts   map[string]*models.SecurityAlert // keyed by alert type and UTC hour
}

// NewSecurityMonitoringService creates a new SecurityMonitoringService.
// forwarder and m may be nil.
func NewSecurityMonitoringService(config SecurityMonitoringConfig, forwarder SecurityForwarder, m *metrics.Metrics, logger *slog.Logger) *SecurityMonitoringService {
	if config.ThreatLookback <= 0 {
		config.ThreatLookback = 24 * time.Hour
	}
	if config.EventRetention <= 0 {
		config.EventRetention = 24 * time.Hour
	}
	if config.AlertRetention <= 0 {
		config.AlertRetention = 24 * time.Hour
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = defaultMaxEvents
	}

	now := config.TimeProvider
	if now == nil {
		now = time.Now
	}

	return &SecurityMonitoringService{
		config:       config,
		now:          now,
		logger:       logger,
		metrics:      m,
		forwarder:    forwarder,
		authFailures: make(map[string][]time.Time),
		alerts:       make(map[string]*models.SecurityAlert),
	}
}

// LogSecurityEvent records an event and runs the immediate threat rules against it.
// It never returns an error; failures are logged and swallowed.
func (s *SecurityMonitoringService) LogSecurityEvent(ctx context.Context, eventType, userID, ipAddress string, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "security event logging panicked",
				slog.String("event_type", eventType),
				slog.Any("panic", r))
		}
	}()

	event := models.SecurityEvent{
		ID:             uuid.New(),
		EventType:      eventType,
		UserID:         userID,
		IPAddress:      ipAddress,
		AdditionalData: s.encode(ctx, data),
	}

	s.eventsMu.Lock()
	event.Timestamp = s.now().UTC()
	s.pruneEventsLocked(event.Timestamp.Add(-s.config.EventRetention))
	s.events = append(s.events, event)
	evicted := s.evictOverflowLocked()
	failures := s.recordAuthFailureLocked(event)
	s.eventsMu.Unlock()

	if evicted > 0 {
		s.metrics.ObserveEvicted(evicted)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "security event",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", eventType),
		slog.String("ip_address", ipAddress),
		slog.String("user_id", userID),
		slog.String("additional_data", event.AdditionalData))

	s.metrics.ObserveEvent(eventType)
	if s.forwarder != nil {
		s.forwarder.ForwardEvent(event)
	}

	s.checkImmediateThreats(ctx, event, failures)
}

func (s *SecurityMonitoringService) encode(ctx context.Context, data any) string {
	if data == nil {
		return ""
	}

	payload, err := marshalPayload(data)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to encode security event payload", slog.String("error", err.Error()))
		return ""
	}
	return payload
}

// marshalPayload leaves <, > and & unescaped so injection signatures stay visible
func marshalPayload(data any) (string, error) {
	payload, err := json.MarshalNoEscape(data)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// pruneEventsLocked drops events older than cutoff. Caller holds eventsMu.
func (s *SecurityMonitoringService) pruneEventsLocked(cutoff time.Time) int {
	idx := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(cutoff)
	})
	s.dropOldestLocked(idx)
	return idx
}

// dropOldestLocked reslices past the first n events. The backing array is
// released when append next grows it, or here once the log is empty.
func (s *SecurityMonitoringService) dropOldestLocked(n int) {
	switch {
	case n <= 0:
	case n >= len(s.events):
		s.events = nil
	default:
		s.events = s.events[n:]
	}
}

// evictOverflowLocked drops the oldest events beyond MaxEvents. Caller holds eventsMu.
func (s *SecurityMonitoringService) evictOverflowLocked() int {
	overflow := len(s.events) - s.config.MaxEvents
	if overflow <= 0 {
		return 0
	}
	s.dropOldestLocked(overflow)
	return overflow
}

// recordAuthFailureLocked tracks auth failures per IP and returns how many the
// event's IP has inside the immediate window. Caller holds eventsMu.
func (s *SecurityMonitoringService) recordAuthFailureLocked(event models.SecurityEvent) int {
	if !strings.Contains(event.EventType, models.EventAuthFailed) || event.IPAddress == "" {
		return 0
	}

	cutoff := event.Timestamp.Add(-immediateBruteForceWindow)
	times, tracked := s.authFailures[event.IPAddress]
	if !tracked && len(s.authFailures) >= s.config.MaxEvents {
		s.pruneAuthFailuresLocked(cutoff)
	}

	times = append(pruneTimes(times, cutoff), event.Timestamp)
	if len(times) > s.config.MaxEvents {
		times = times[len(times)-s.config.MaxEvents:]
	}
	s.authFailures[event.IPAddress] = times
	return len(times)
}

// pruneAuthFailuresLocked forgets failures before cutoff. Caller holds eventsMu.
func (s *SecurityMonitoringService) pruneAuthFailuresLocked(cutoff time.Time) {
	for ip, times := range s.authFailures {
		if times = pruneTimes(times, cutoff); len(times) == 0 {
			delete(s.authFailures, ip)
		} else {
			s.authFailures[ip] = times
		}
	}
}

// pruneTimes drops ascending timestamps before cutoff
func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(times), func(i int) bool {
		return !times[i].Before(cutoff)
	})
	return times[idx:]
}

// eventsSince returns a copy of the events at or after cutoff
func (s *SecurityMonitoringService) eventsSince(cutoff time.Time) []models.SecurityEvent {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	idx := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(cutoff)
	})
	out := make([]models.SecurityEvent, len(s.events)-idx)
	copy(out, s.events[idx:])
	return out
}

// checkImmediateThreats runs the per-event rules. failures is the IP's auth
// failure count inside the immediate window, including this event.
func (s *SecurityMonitoringService) checkImmediateThreats(ctx context.Context, event models.SecurityEvent, failures int) {
	if failures >= immediateBruteForceThreshold {
		s.raiseAlert(ctx, models.AlertImmediateBruteForce, models.SeverityCritical,
			fmt.Sprintf("Immediate brute force threat from IP %s: %d failures in 5 minutes", event.IPAddress, failures),
			map[string]any{"ipAddress": event.IPAddress, "failures": failures})
	}

	if event.AdditionalData != "" && containsInjection(event.AdditionalData) {
		s.raiseAlert(ctx, models.AlertInjectionAttempt, models.SeverityHigh,
			fmt.Sprintf("Potential injection attempt detected from %s", event.IPAddress),
			map[string]any{"ipAddress": event.IPAddress, "eventType": event.EventType})
	}
}

func containsInjection(payload string) bool {
	lower := strings.ToLower(payload)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// CheckForThreats scans events within the lookback window and raises alerts.
// It returns the number of alerts raised or refreshed.
func (s *SecurityMonitoringService) CheckForThreats(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	recent := s.eventsSince(now.Add(-s.config.ThreatLookback))

	failedAuthByIP := make(map[string]int)
	lastMinuteByIP := make(map[string]int)
	usersByIP := make(map[string]map[string]struct{})
	deniedByUser := make(map[string]int)

	minuteAgo := now.Add(-rapidRequestWindow)
	for _, e := range recent {
		if e.IPAddress != "" {
			if strings.Contains(e.EventType, models.EventAuthFailed) || strings.Contains(e.EventType, "login_failed") {
				failedAuthByIP[e.IPAddress]++
			}
			if !e.Timestamp.Before(minuteAgo) {
				lastMinuteByIP[e.IPAddress]++
			}
			if e.UserID != "" {
				if usersByIP[e.IPAddress] == nil {
					usersByIP[e.IPAddress] = make(map[string]struct{})
				}
				usersByIP[e.IPAddress][e.UserID] = struct{}{}
			}
		}
		if e.UserID != "" && (strings.Contains(e.EventType, "unauthorized") || strings.Contains(e.EventType, "forbidden")) {
			deniedByUser[e.UserID]++
		}
	}

	raised := 0

	for _, ip := range sortedKeys(failedAuthByIP) {
		if n := failedAuthByIP[ip]; n >= bruteForceThreshold {
			s.raiseAlert(ctx, models.AlertBruteForce, models.SeverityHigh,
				fmt.Sprintf("Potential brute force attack from IP %s: %d failed auth attempts", ip, n),
				map[string]any{"ipAddress": ip, "attemptCount": n})
			raised++
		}
	}

	for _, ip := range sortedKeys(lastMinuteByIP) {
		if n := lastMinuteByIP[ip]; n >= rapidRequestThreshold {
			s.raiseAlert(ctx, models.AlertRapidRequests, models.SeverityMedium,
				fmt.Sprintf("Rapid requests from IP %s: %d requests in 1 minute", ip, n),
				map[string]any{"ipAddress": ip, "requestCount": n})
			raised++
		}
	}

	ips := make([]string, 0, len(usersByIP))
	for ip := range usersByIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		if n := len(usersByIP[ip]); n >= accountSharingThreshold {
			s.raiseAlert(ctx, models.AlertAccountSharing, models.SeverityMedium,
				fmt.Sprintf("Multiple users from IP %s: %d unique users", ip, n),
				map[string]any{"ipAddress": ip, "uniqueUserCount": n})
			raised++
		}
	}

	for _, userID := range sortedKeys(deniedByUser) {
		if n := deniedByUser[userID]; n >= privilegeThreshold {
			s.raiseAlert(ctx, models.AlertPrivilegeEscalation, models.SeverityHigh,
				fmt.Sprintf("Multiple unauthorized access attempts by user %s: %d attempts", userID, n),
				map[string]any{"userId": userID, "attemptCount": n})
			raised++
		}
	}

	s.logger.DebugContext(ctx, "threat scan complete",
		slog.Int("events_scanned", len(recent)),
		slog.Int("alerts", raised))

	return raised, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// raiseAlert creates the alert for the current (type, UTC hour) bucket, or refreshes
// the message, payload and timestamp of the one already there.
func (s *SecurityMonitoringService) raiseAlert(ctx context.Context, alertType string, severity models.Severity, message string, data any) {
	now := s.now().UTC()
	key := alertType + "_" + now.Format("2006010215")
	payload := s.encode(ctx, data)

	s.alertsMu.Lock()
	alert, exists := s.alerts[key]
	if exists {
		alert.Message = message
		alert.Timestamp = now
		alert.AdditionalData = payload
	} else {
		alert = &models.SecurityAlert{
			ID:             uuid.New(),
			AlertType:      alertType,
			Severity:       severity,
			Message:        message,
			Timestamp:      now,
			ExpiresAt:      now.Add(s.config.AlertRetention),
			AdditionalData: payload,
		}
		s.alerts[key] = alert
	}
	snapshot := *alert
	s.alertsMu.Unlock()

	s.logger.LogAttrs(ctx, slog.LevelWarn, "security alert",
		slog.String("alert_id", snapshot.ID.String()),
		slog.String("alert_type", alertType),
		slog.String("severity", severity.String()),
		slog.String("message", message),
		slog.Bool("refreshed", exists),
		slog.String("additional_data", payload))

	s.metrics.ObserveAlert(alertType, severity.String())
	if s.forwarder != nil {
		s.forwarder.ForwardAlert(snapshot, !exists)
	}
}

// GetActiveAlerts prunes expired alerts and returns the rest, most severe first
func (s *SecurityMonitoringService) GetActiveAlerts() []models.SecurityAlert {
	now := s.now().UTC()

	s.alertsMu.Lock()
	alerts := make([]models.SecurityAlert, 0, len(s.alerts))
	for key, alert := range s.alerts {
		if alert.Expired(now) {
			delete(s.alerts, key)
			continue
		}
		alerts = append(alerts, *alert)
	}
	s.alertsMu.Unlock()

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})

	return alerts
}

// GetSecurityMetrics summarizes the events logged during the trailing period
func (s *SecurityMonitoringService) GetSecurityMetrics(period time.Duration) models.SecurityMetrics {
	recent := s.eventsSince(s.now().UTC().Add(-period))

	result := models.SecurityMetrics{
		Period:         period,
		PeriodHours:    period.Hours(),
		TotalEvents:    len(recent),
		TopIPAddresses: make(map[string]int),
		EventsByType:   make(map[string]int),
	}

	byIP := make(map[string]int)
	users := make(map[string]struct{})
	for _, e := range recent {
		if strings.Contains(e.EventType, models.EventAuthFailed) {
			result.FailedAuthAttempts++
		}
		if strings.Contains(e.EventType, "rate_limit") {
			result.RateLimitViolations++
		}
		if strings.Contains(e.EventType, "suspicious") {
			result.SuspiciousActivities++
		}
		if e.IPAddress != "" {
			byIP[e.IPAddress]++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		result.EventsByType[e.EventType]++
	}

	result.UniqueIPAddresses = len(byIP)
	result.UniqueUsers = len(users)

	ips := sortedKeys(byIP)
	sort.SliceStable(ips, func(i, j int) bool {
		return byIP[ips[i]] > byIP[ips[j]]
	})
	if len(ips) > topIPAddressLimit {
		ips = ips[:topIPAddressLimit]
	}
	for _, ip := range ips {
		result.TopIPAddresses[ip] = byIP[ip]
	}

	return result
}

// Sweep drops events past retention, stale auth failure counters and expired
// alerts. It returns the number of events and alerts removed.
func (s *SecurityMonitoringService) Sweep() (int, int) {
	now := s.now().UTC()

	s.eventsMu.Lock()
	events := s.pruneEventsLocked(now.Add(-s.config.EventRetention))
	s.pruneAuthFailuresLocked(now.Add(-immediateBruteForceWindow))
	s.eventsMu.Unlock()

	alerts := 0
	s.alertsMu.Lock()
	for key, alert := range s.alerts {
		if alert.Expired(now) {
			delete(s.alerts, key)
			alerts++
		}
	}
	s.alertsMu.Unlock()

	return events, alerts
}

// TrackedFailureIPs returns the number of IPs with auth failures being counted
func (s *SecurityMonitoringService) TrackedFailureIPs() int {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return len(s.authFailures)
}

// EventCount returns the number of events currently retained
func (s *SecurityMonitoringService) EventCount() int {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return len(s.events)
}
