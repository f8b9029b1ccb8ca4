package services

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// UnknownIdentifier is used when a request carries no usable IP or user id
const UnknownIdentifier = "unknown"

// RateLimitConfig holds configuration for the sliding window limiter
type RateLimitConfig struct {
	Policies     map[models.RateLimitCategory]models.RateLimitPolicy
	TimeProvider func() time.Time
}

// RateLimitService enforces per (category, identifier) sliding windows with a hard lockout.
// State lives only in memory and is owned by the service instance.
type RateLimitService struct {
	policies map[models.RateLimitCategory]models.RateLimitPolicy
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	counters map[counterKey]*rateLimitCounter
}

type counterKey struct {
	category   models.RateLimitCategory
	identifier string
}

// rateLimitCounter owns its own lock so distinct keys never contend
type rateLimitCounter struct {
	mu           sync.Mutex
	requests     []time.Time // ascending
	lockoutUntil time.Time
	lastSeen     time.Time
}

// NewRateLimitService creates a new RateLimitService.
// The policy table is copied; it must contain api_general, which is the fallback for unknown categories.
func NewRateLimitService(config RateLimitConfig, logger *slog.Logger) (*RateLimitService, error) {
	policies := config.Policies
	if policies == nil {
		policies = models.DefaultRateLimitPolicies()
	}

	copied := make(map[models.RateLimitCategory]models.RateLimitPolicy, len(policies))
	for category, policy := range policies {
		if policy.MaxRequests <= 0 || policy.Window <= 0 || policy.Lockout < 0 {
			return nil, fmt.Errorf("%w: %s: %+v", models.ErrInvalidPolicy, category, policy)
		}
		copied[category] = policy
	}
	if _, ok := copied[models.CategoryAPIGeneral]; !ok {
		return nil, fmt.Errorf("%w: missing %s fallback", models.ErrInvalidPolicy, models.CategoryAPIGeneral)
	}

	now := config.TimeProvider
	if now == nil {
		now = time.Now
	}

	return &RateLimitService{
		policies: copied,
		now:      now,
		logger:   logger,
		counters: make(map[counterKey]*rateLimitCounter),
	}, nil
}

// Policy returns the policy for a category, falling back to api_general
func (s *RateLimitService) Policy(category models.RateLimitCategory) models.RateLimitPolicy {
	if policy, ok := s.policies[category]; ok {
		return policy
	}
	return s.policies[models.CategoryAPIGeneral]
}

// CheckAndRegister checks whether a request for (category, identifier) may proceed and,
// if so, records it in the window. Exceeding the limit once starts a lockout during which
// every request for the key is denied, whatever the window holds.
func (s *RateLimitService) CheckAndRegister(category models.RateLimitCategory, identifier string) models.Decision {
	if identifier == "" {
		identifier = UnknownIdentifier
	}

	policy := s.Policy(category)
	decision := models.Decision{
		Allowed:    true,
		Category:   category,
		Identifier: identifier,
		Policy:     policy,
	}

	counter := s.getCounter(counterKey{category: category, identifier: identifier})

	counter.mu.Lock()
	defer counter.mu.Unlock()

	now := s.now()
	counter.lastSeen = now

	if now.Before(counter.lockoutUntil) {
		decision.Allowed = false
		decision.RetryAfter = policy.Lockout
		return decision
	}

	counter.prune(now.Add(-policy.Window))

	if len(counter.requests) >= policy.MaxRequests {
		counter.lockoutUntil = now.Add(policy.Lockout)
		decision.Allowed = false
		decision.RetryAfter = policy.Lockout

		s.logger.Warn("rate limit lockout started",
			slog.String("category", string(category)),
			slog.String("identifier", identifier),
			slog.Int("limit", policy.MaxRequests),
			slog.Duration("lockout", policy.Lockout))
		return decision
	}

	counter.requests = append(counter.requests, now)
	return decision
}

// getCounter retrieves or lazily creates the counter for key
func (s *RateLimitService) getCounter(key counterKey) *rateLimitCounter {
	s.mu.RLock()
	counter, ok := s.counters[key]
	s.mu.RUnlock()
	if ok {
		return counter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if counter, ok = s.counters[key]; ok {
		return counter
	}
	counter = &rateLimitCounter{}
	s.counters[key] = counter
	return counter
}

// prune drops timestamps older than cutoff. Caller holds c.mu.
func (c *rateLimitCounter) prune(cutoff time.Time) {
	idx := sort.Search(len(c.requests), func(i int) bool {
		return !c.requests[i].Before(cutoff)
	})
	if idx == 0 {
		return
	}
	if idx == len(c.requests) {
		c.requests = c.requests[:0]
		return
	}
	c.requests = append(c.requests[:0], c.requests[idx:]...)
}

// Sweep removes counters that hold no active lockout and have been idle for more than
// twice their window. It returns the number of keys removed.
//
// A request that fetched a counter just before it is removed registers on the orphaned
// counter; that single request is not counted.
func (s *RateLimitService) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, counter := range s.counters {
		policy := s.Policy(key.category)

		counter.mu.Lock()
		stale := !now.Before(counter.lockoutUntil) && now.Sub(counter.lastSeen) > 2*policy.Window
		counter.mu.Unlock()

		if stale {
			delete(s.counters, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys
func (s *RateLimitService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}
