package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// FakeClock is a manually advanced time source for tests
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockEventArchive implements EventArchive for testing
type MockEventArchive struct {
	SaveEventFunc func(ctx context.Context, event *models.SecurityEvent) error
	SaveAlertFunc func(ctx context.Context, alert *models.SecurityAlert) error

	mu     sync.Mutex
	Events []models.SecurityEvent
	Alerts []models.SecurityAlert
}

func (m *MockEventArchive) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if m.SaveEventFunc != nil {
		if err := m.SaveEventFunc(ctx, event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, *event)
	return nil
}

func (m *MockEventArchive) SaveAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if m.SaveAlertFunc != nil {
		if err := m.SaveAlertFunc(ctx, alert); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, *alert)
	return nil
}

func (m *MockEventArchive) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

func (m *MockEventArchive) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// MockAlertNotifier implements AlertNotifier for testing
type MockAlertNotifier struct {
	NotifyAlertFunc func(ctx context.Context, alert *models.SecurityAlert) error

	mu       sync.Mutex
	Notified []models.SecurityAlert
}

func (m *MockAlertNotifier) NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if m.NotifyAlertFunc != nil {
		if err := m.NotifyAlertFunc(ctx, alert); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notified = append(m.Notified, *alert)
	return nil
}

func (m *MockAlertNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notified)
}

// RecordingSink implements EventSink and keeps every event it receives
type RecordingSink struct {
	mu     sync.Mutex
	Events []models.SecurityEvent
}

func (r *RecordingSink) LogSecurityEvent(ctx context.Context, eventType, userID, ipAddress string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := models.SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		IPAddress: ipAddress,
	}
	if data != nil {
		if payload, err := marshalPayload(data); err == nil {
			event.AdditionalData = payload
		}
	}
	r.Events = append(r.Events, event)
}

// OfType returns the recorded events with the given type
func (r *RecordingSink) OfType(eventType string) []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.SecurityEvent
	for _, e := range r.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
