package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithRoleContext adds user claims with the given role to the request context
func WithRoleContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   "access",
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// LoggedEvent is one call recorded by MockSecurityMonitor
type LoggedEvent struct {
	EventType string
	UserID    string
	IPAddress string
	Data      any
}

// MockSecurityMonitor implements SecurityMonitor for testing
type MockSecurityMonitor struct {
	CheckForThreatsFunc    func(ctx context.Context) (int, error)
	GetActiveAlertsFunc    func() []models.SecurityAlert
	GetSecurityMetricsFunc func(period time.Duration) models.SecurityMetrics

	mu     sync.Mutex
	Logged []LoggedEvent
}

func (m *MockSecurityMonitor) LogSecurityEvent(ctx context.Context, eventType, userID, ipAddress string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logged = append(m.Logged, LoggedEvent{EventType: eventType, UserID: userID, IPAddress: ipAddress, Data: data})
}

func (m *MockSecurityMonitor) CheckForThreats(ctx context.Context) (int, error) {
	if m.CheckForThreatsFunc != nil {
		return m.CheckForThreatsFunc(ctx)
	}
	return 0, nil
}

func (m *MockSecurityMonitor) GetActiveAlerts() []models.SecurityAlert {
	if m.GetActiveAlertsFunc != nil {
		return m.GetActiveAlertsFunc()
	}
	return nil
}

func (m *MockSecurityMonitor) GetSecurityMetrics(period time.Duration) models.SecurityMetrics {
	if m.GetSecurityMetricsFunc != nil {
		return m.GetSecurityMetricsFunc(period)
	}
	return models.SecurityMetrics{Period: period, PeriodHours: period.Hours()}
}
