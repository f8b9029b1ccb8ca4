package models

import "time"

// RateLimitCategory classifies a request for rate limiting purposes
type RateLimitCategory string

const (
	CategoryAuthLogin         RateLimitCategory = "auth_login"
	CategoryAuthRegister      RateLimitCategory = "auth_register"
	CategoryAuthPasswordReset RateLimitCategory = "auth_password_reset"
	CategoryAPIGeneral        RateLimitCategory = "api_general"
	CategoryAPIUpload         RateLimitCategory = "api_upload"
	CategoryAPIInvite         RateLimitCategory = "api_invite"
	CategoryAPIProfile        RateLimitCategory = "api_profile"
	CategoryGlobalIP          RateLimitCategory = "global_ip"
)

// IsAuth reports whether the category covers an authentication endpoint
func (c RateLimitCategory) IsAuth() bool {
	switch c {
	case CategoryAuthLogin, CategoryAuthRegister, CategoryAuthPasswordReset:
		return true
	default:
		return false
	}
}

func (c RateLimitCategory) String() string {
	return string(c)
}

// RateLimitPolicy is the static limit attached to a category
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
	Lockout     time.Duration
}

// RetryAfterSeconds is the Retry-After value sent on denial
func (p RateLimitPolicy) RetryAfterSeconds() int {
	return int(p.Lockout / time.Second)
}

// WindowMinutes is used in the human readable deny message
func (p RateLimitPolicy) WindowMinutes() int {
	return int(p.Window / time.Minute)
}

// DefaultRateLimitPolicies returns the policy table used at process start.
// A fresh map is returned on every call so callers can't mutate shared state.
func DefaultRateLimitPolicies() map[RateLimitCategory]RateLimitPolicy {
	return map[RateLimitCategory]RateLimitPolicy{
		CategoryAuthLogin:         {MaxRequests: 5, Window: 15 * time.Minute, Lockout: 30 * time.Minute},
		CategoryAuthRegister:      {MaxRequests: 3, Window: 60 * time.Minute, Lockout: 120 * time.Minute},
		CategoryAuthPasswordReset: {MaxRequests: 3, Window: 60 * time.Minute, Lockout: 60 * time.Minute},
		CategoryAPIGeneral:        {MaxRequests: 100, Window: 1 * time.Minute, Lockout: 5 * time.Minute},
		CategoryAPIUpload:         {MaxRequests: 10, Window: 5 * time.Minute, Lockout: 15 * time.Minute},
		CategoryAPIInvite:         {MaxRequests: 20, Window: 60 * time.Minute, Lockout: 60 * time.Minute},
		CategoryAPIProfile:        {MaxRequests: 30, Window: 10 * time.Minute, Lockout: 10 * time.Minute},
		CategoryGlobalIP:          {MaxRequests: 500, Window: 1 * time.Minute, Lockout: 60 * time.Minute},
	}
}

// Decision is the outcome of a single check-and-register call
type Decision struct {
	Allowed    bool
	Category   RateLimitCategory
	Identifier string
	Policy     RateLimitPolicy
	// RetryAfter is only meaningful when Allowed is false
	RetryAfter time.Duration
}

// SuspicionReason names a heuristic that flagged a request
type SuspicionReason string

const (
	ReasonRapidFire        SuspicionReason = "rapid_fire_requests"
	ReasonAuthFailures     SuspicionReason = "multiple_auth_failures"
	ReasonEndpointScanning SuspicionReason = "endpoint_scanning"
)

// ActivityEvaluation is the result of recording one request in an activity log
type ActivityEvaluation struct {
	Identifier      string
	Category        RateLimitCategory
	Reasons         []SuspicionReason
	RequestCount    int // trailing minute
	FailureCount    int // trailing five minutes
	UniqueEndpoints int // trailing minute
}

// Suspicious reports whether any heuristic fired
func (e ActivityEvaluation) Suspicious() bool {
	return len(e.Reasons) > 0
}
