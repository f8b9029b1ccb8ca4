package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

const (
	archiveSink  = "archive"
	notifierSink = "notifier"
)

// EventArchive persists security events and alerts outside the process
type EventArchive interface {
	SaveEvent(ctx context.Context, event *models.SecurityEvent) error
	SaveAlert(ctx context.Context, alert *models.SecurityAlert) error
}

// AlertNotifier delivers an alert to a human
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error
}

// EventForwarderConfig holds configuration for EventForwarder
type EventForwarderConfig struct {
	QueueSize         int
	MinNotifySeverity models.Severity
	DeliveryTimeout   time.Duration
	BreakerTimeout    time.Duration
}

type forwardItem struct {
	event   *models.SecurityEvent
	alert   *models.SecurityAlert
	created bool
}

// EventForwarder fans security events and alerts out to the archive and notifier
// from a single background worker. Producers never block: when the queue is full
// the item is dropped.
type EventForwarder struct {
	config   EventForwarderConfig
	queue    chan forwardItem
	archive  EventArchive
	notifier AlertNotifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	archiveBreaker  *gobreaker.CircuitBreaker[struct{}]
	notifierBreaker *gobreaker.CircuitBreaker[struct{}]
}

// NewEventForwarder creates a new EventForwarder. archive and notifier may be nil.
func NewEventForwarder(config EventForwarderConfig, archive EventArchive, notifier AlertNotifier, m *metrics.Metrics, logger *slog.Logger) *EventForwarder {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.MinNotifySeverity == 0 {
		config.MinNotifySeverity = models.SeverityHigh
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 5 * time.Second
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	f := &EventForwarder{
		config:   config,
		queue:    make(chan forwardItem, config.QueueSize),
		archive:  archive,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
	f.archiveBreaker = f.newBreaker(archiveSink)
	f.notifierBreaker = f.newBreaker(notifierSink)

	return f
}

func (f *EventForwarder) newBreaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	f.metrics.SetBreakerState(name, 0)

	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     f.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("security sink circuit breaker state changed",
				slog.String("sink", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			f.metrics.SetBreakerState(name, breakerStateValue(to))
		},
	})
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// ForwardEvent queues an event for archiving
func (f *EventForwarder) ForwardEvent(event models.SecurityEvent) {
	if f.archive == nil {
		return
	}
	f.enqueue(forwardItem{event: &event})
}

// ForwardAlert queues an alert for archiving and, when newly created and severe
// enough, for notification
func (f *EventForwarder) ForwardAlert(alert models.SecurityAlert, created bool) {
	if f.archive == nil && !f.shouldNotify(&alert, created) {
		return
	}
	f.enqueue(forwardItem{alert: &alert, created: created})
}

func (f *EventForwarder) shouldNotify(alert *models.SecurityAlert, created bool) bool {
	return f.notifier != nil && created && alert.Severity >= f.config.MinNotifySeverity
}

func (f *EventForwarder) enqueue(item forwardItem) {
	select {
	case f.queue <- item:
	default:
		f.metrics.ObserveForwardDropped()
		f.logger.Warn("security forwarding queue full, item dropped",
			slog.Int("queue_size", f.config.QueueSize))
	}
}

// Pending returns the number of queued items
func (f *EventForwarder) Pending() int {
	return len(f.queue)
}

// Run drains the queue until ctx is cancelled, then delivers whatever is still queued
func (f *EventForwarder) Run(ctx context.Context) error {
	f.logger.Info("security event forwarder started",
		slog.Bool("archive", f.archive != nil),
		slog.Bool("notifier", f.notifier != nil))

	for {
		select {
		case <-ctx.Done():
			f.drain()
			f.logger.Info("security event forwarder stopped")
			return nil
		case item := <-f.queue:
			f.deliver(context.Background(), item)
		}
	}
}

func (f *EventForwarder) drain() {
	for {
		select {
		case item := <-f.queue:
			f.deliver(context.Background(), item)
		default:
			return
		}
	}
}

func (f *EventForwarder) deliver(parent context.Context, item forwardItem) {
	ctx, cancel := context.WithTimeout(parent, f.config.DeliveryTimeout)
	defer cancel()

	if item.event != nil && f.archive != nil {
		f.execute(ctx, archiveSink, f.archiveBreaker, func() error {
			return f.archive.SaveEvent(ctx, item.event)
		})
	}

	if item.alert == nil {
		return
	}
	if f.archive != nil {
		f.execute(ctx, archiveSink, f.archiveBreaker, func() error {
			return f.archive.SaveAlert(ctx, item.alert)
		})
	}
	if f.shouldNotify(item.alert, item.created) {
		f.execute(ctx, notifierSink, f.notifierBreaker, func() error {
			return f.notifier.NotifyAlert(ctx, item.alert)
		})
	}
}

func (f *EventForwarder) execute(ctx context.Context, sink string, cb *gobreaker.CircuitBreaker[struct{}], fn func() error) {
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		return
	}

	f.metrics.ObserveForwardFailure(sink)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.DebugContext(ctx, "security sink circuit open, item skipped",
			slog.String("sink", sink))
		return
	}
	f.logger.WarnContext(ctx, "failed to forward security item",
		slog.String("sink", sink),
		slog.String("error", err.Error()))
}
