package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Heuristic windows and thresholds. A heuristic fires when the count strictly exceeds its threshold.
const (
	activityRetention = time.Hour

	rapidFireWindow    = time.Second
	rapidFireThreshold = 1

	authFailureWindow    = 5 * time.Minute
	authFailureThreshold = 3

	scanningWindow    = time.Minute
	scanningThreshold = 10
)

// ActivityConfig holds configuration for the activity heuristics
type ActivityConfig struct {
	TimeProvider func() time.Time
}

// ActivityService keeps a short per-identifier history of requests and flags
// patterns that look like abuse. Flags are advisory and never block a request.
type ActivityService struct {
	now    func() time.Time
	logger *slog.Logger

	mu   sync.RWMutex
	logs map[string]*activityLog
}

type activityEntry struct {
	at       time.Time
	category models.RateLimitCategory
	failed   bool
}

type activityLog struct {
	mu       sync.Mutex
	entries  []activityEntry // ascending by at
	lastSeen time.Time
}

// NewActivityService creates a new ActivityService
func NewActivityService(config ActivityConfig, logger *slog.Logger) *ActivityService {
	now := config.TimeProvider
	if now == nil {
		now = time.Now
	}

	return &ActivityService{
		now:    now,
		logger: logger,
		logs:   make(map[string]*activityLog),
	}
}

// RecordAndEvaluate appends the request to the identifier's history and
// evaluates every heuristic on the updated history.
func (s *ActivityService) RecordAndEvaluate(identifier string, category models.RateLimitCategory, isFailure bool) models.ActivityEvaluation {
	if identifier == "" {
		identifier = UnknownIdentifier
	}

	log := s.getLog(identifier)

	log.mu.Lock()
	defer log.mu.Unlock()

	now := s.now()
	log.lastSeen = now
	log.prune(now.Add(-activityRetention))
	log.entries = append(log.entries, activityEntry{at: now, category: category, failed: isFailure})

	eval := models.ActivityEvaluation{
		Identifier:      identifier,
		Category:        category,
		RequestCount:    log.countSince(now.Add(-scanningWindow)),
		FailureCount:    log.failuresSince(now.Add(-authFailureWindow)),
		UniqueEndpoints: log.distinctCategoriesSince(now.Add(-scanningWindow)),
	}

	if log.countSince(now.Add(-rapidFireWindow)) > rapidFireThreshold {
		eval.Reasons = append(eval.Reasons, models.ReasonRapidFire)
	}
	if category.IsAuth() && eval.FailureCount > authFailureThreshold {
		eval.Reasons = append(eval.Reasons, models.ReasonAuthFailures)
	}
	if eval.UniqueEndpoints > scanningThreshold {
		eval.Reasons = append(eval.Reasons, models.ReasonEndpointScanning)
	}

	return eval
}

func (s *ActivityService) getLog(identifier string) *activityLog {
	s.mu.RLock()
	log, ok := s.logs[identifier]
	s.mu.RUnlock()
	if ok {
		return log
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok = s.logs[identifier]; ok {
		return log
	}
	log = &activityLog{}
	s.logs[identifier] = log
	return log
}

func (l *activityLog) prune(cutoff time.Time) {
	idx := 0
	for idx < len(l.entries) && l.entries[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.entries = append(l.entries[:0], l.entries[idx:]...)
	}
}

func (l *activityLog) countSince(cutoff time.Time) int {
	n := 0
	for i := len(l.entries) - 1; i >= 0 && !l.entries[i].at.Before(cutoff); i-- {
		n++
	}
	return n
}

func (l *activityLog) failuresSince(cutoff time.Time) int {
	n := 0
	for i := len(l.entries) - 1; i >= 0 && !l.entries[i].at.Before(cutoff); i-- {
		if l.entries[i].failed {
			n++
		}
	}
	return n
}

func (l *activityLog) distinctCategoriesSince(cutoff time.Time) int {
	seen := make(map[models.RateLimitCategory]struct{})
	for i := len(l.entries) - 1; i >= 0 && !l.entries[i].at.Before(cutoff); i-- {
		seen[l.entries[i].category] = struct{}{}
	}
	return len(seen)
}

// Sweep drops histories with no activity in the last hour and returns how many were removed
func (s *ActivityService) Sweep() int {
	cutoff := s.now().Add(-activityRetention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for identifier, log := range s.logs {
		log.mu.Lock()
		stale := log.lastSeen.Before(cutoff)
		log.mu.Unlock()

		if stale {
			delete(s.logs, identifier)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("activity histories swept", slog.Int("removed", removed))
	}
	return removed
}

// Len returns the number of tracked identifiers
func (s *ActivityService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
