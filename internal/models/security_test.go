package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severities must be ordered low < medium < high < critical")
	}
}

func TestSeverityJSON(t *testing.T) {
	alert := SecurityAlert{AlertType: AlertBruteForce, Severity: SeverityHigh}

	data, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("Marshal() = %v", err)
	}

	var decoded SecurityAlert
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if decoded.Severity != SeverityHigh {
		t.Errorf("severity round trip: got %v, want %v", decoded.Severity, SeverityHigh)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"low", SeverityLow, false},
		{"Medium", SeverityMedium, false},
		{" HIGH ", SeverityHigh, false},
		{"critical", SeverityCritical, false},
		{"severe", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSeverity(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeverity(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDefaultRateLimitPolicies(t *testing.T) {
	policies := DefaultRateLimitPolicies()

	login := policies[CategoryAuthLogin]
	if login.MaxRequests != 5 || login.Window != 15*time.Minute || login.Lockout != 30*time.Minute {
		t.Errorf("auth_login policy = %+v", login)
	}
	if got := login.RetryAfterSeconds(); got != 1800 {
		t.Errorf("auth_login RetryAfterSeconds() = %d, want 1800", got)
	}

	global := policies[CategoryGlobalIP]
	if global.MaxRequests != 500 || global.Window != time.Minute || global.Lockout != time.Hour {
		t.Errorf("global_ip policy = %+v", global)
	}

	// Mutating the returned map must not leak into the next call
	delete(policies, CategoryAuthLogin)
	if _, ok := DefaultRateLimitPolicies()[CategoryAuthLogin]; !ok {
		t.Error("DefaultRateLimitPolicies() returned shared state")
	}
}

func TestRateLimitCategoryIsAuth(t *testing.T) {
	for _, c := range []RateLimitCategory{CategoryAuthLogin, CategoryAuthRegister, CategoryAuthPasswordReset} {
		if !c.IsAuth() {
			t.Errorf("%s.IsAuth() = false, want true", c)
		}
	}
	for _, c := range []RateLimitCategory{CategoryAPIGeneral, CategoryAPIUpload, CategoryGlobalIP} {
		if c.IsAuth() {
			t.Errorf("%s.IsAuth() = true, want false", c)
		}
	}
}
