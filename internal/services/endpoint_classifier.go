package services

import (
	"net/http"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// ClassifyEndpoint maps a request path to exactly one rate limit category.
// Matching is case-insensitive and the first rule that matches wins; anything
// unrecognised is api_general. The method is accepted for future per-verb rules.
func ClassifyEndpoint(path, method string) models.RateLimitCategory {
	p := strings.ToLower(path)

	if strings.Contains(p, "/auth/") {
		switch {
		case strings.Contains(p, "login"):
			return models.CategoryAuthLogin
		case strings.Contains(p, "register"):
			return models.CategoryAuthRegister
		case strings.Contains(p, "password"), strings.Contains(p, "reset"):
			return models.CategoryAuthPasswordReset
		}
	}

	if strings.HasPrefix(p, "/api/") {
		switch {
		case strings.Contains(p, "upload"):
			return models.CategoryAPIUpload
		case strings.Contains(p, "invite"):
			return models.CategoryAPIInvite
		case strings.Contains(p, "profile"), strings.Contains(p, "/me/"):
			return models.CategoryAPIProfile
		}
	}

	return models.CategoryAPIGeneral
}

var sensitiveAPIFragments = []string{
	"profile", "/me/",
	"invite", "grant",
	"upload",
	"admin", "manage",
	"consent", "privacy",
}

var highRiskPatterns = []string{
	"/auth/login",
	"/auth/register",
	"/api/me/profile",
	"/api/upload",
	"/api/trainer/grants",
	"/api/invites/accept",
	"/api/consent",
	"/api/privacy",
}

// IsSensitiveEndpoint reports whether requests to path are body-audited
func IsSensitiveEndpoint(path string) bool {
	p := strings.ToLower(path)

	if strings.Contains(p, "/auth/") {
		return true
	}
	if !strings.HasPrefix(p, "/api/") {
		return false
	}
	for _, fragment := range sensitiveAPIFragments {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}

// IsHighRiskOperation flags audited requests that are logged at WARN even when they succeed.
// Any DELETE under /api/ counts.
func IsHighRiskOperation(path, method string) bool {
	p := strings.ToLower(path)

	for _, pattern := range highRiskPatterns {
		if strings.Contains(p, pattern) {
			return true
		}
	}
	return method == http.MethodDelete && strings.HasPrefix(p, "/api/")
}
