package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultThreatScanSchedule runs detection every five minutes
const DefaultThreatScanSchedule = "@every 5m"

// ThreatDetector scans recent security events and raises alerts
type ThreatDetector interface {
	CheckForThreats(ctx context.Context) (int, error)
}

// ThreatScanner runs threat detection on a cron schedule
type ThreatScanner struct {
	detector ThreatDetector
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewThreatScanner validates schedule (standard five-field cron or a descriptor such as "@every 5m")
func NewThreatScanner(detector ThreatDetector, schedule string, logger *slog.Logger) (*ThreatScanner, error) {
	if schedule == "" {
		schedule = DefaultThreatScanSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid threat scan schedule %q: %w", schedule, err)
	}

	return &ThreatScanner{
		detector: detector,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger,
	}, nil
}

// Run schedules the scan and blocks until ctx is cancelled. A scan still in
// progress when the next tick fires is not overlapped.
func (s *ThreatScanner) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.schedule, func() { s.scan(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule threat scan: %w", err)
	}

	s.logger.Info("threat scanner started", slog.String("schedule", s.schedule))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("threat scanner stopped")
	return nil
}

func (s *ThreatScanner) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raised, err := s.detector.CheckForThreats(scanCtx)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled threat scan failed", slog.String("error", err.Error()))
		return
	}

	if raised > 0 {
		s.logger.InfoContext(ctx, "scheduled threat scan raised alerts", slog.Int("alerts", raised))
	}
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
