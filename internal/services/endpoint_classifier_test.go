package services_test

import (
	"net/http"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		name string
		path string
		want models.RateLimitCategory
	}{
		{"login", "/auth/login", models.CategoryAuthLogin},
		{"login case insensitive", "/AUTH/Login", models.CategoryAuthLogin},
		{"nested login", "/api/auth/login/verify", models.CategoryAuthLogin},
		{"register", "/auth/register", models.CategoryAuthRegister},
		{"password reset", "/auth/password/forgot", models.CategoryAuthPasswordReset},
		{"reset only", "/auth/reset", models.CategoryAuthPasswordReset},
		{"login wins over register", "/auth/login-register", models.CategoryAuthLogin},
		{"unmatched auth path under api", "/api/auth/logout", models.CategoryAPIGeneral},
		{"unmatched auth path", "/auth/logout", models.CategoryAPIGeneral},
		{"upload", "/api/upload", models.CategoryAPIUpload},
		{"upload wins over profile", "/api/me/profile/upload", models.CategoryAPIUpload},
		{"invite", "/api/invites/accept", models.CategoryAPIInvite},
		{"profile", "/api/profile", models.CategoryAPIProfile},
		{"me", "/api/me/plans", models.CategoryAPIProfile},
		{"plain api", "/api/plans", models.CategoryAPIGeneral},
		{"api root", "/api/", models.CategoryAPIGeneral},
		{"upload outside api", "/upload", models.CategoryAPIGeneral},
		{"root", "/", models.CategoryAPIGeneral},
		{"empty", "", models.CategoryAPIGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.ClassifyEndpoint(tt.path, http.MethodGet))
		})
	}
}

func TestClassifyEndpoint_DeterministicAcrossMethods(t *testing.T) {
	methods := []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}
	paths := []string{"/auth/login", "/api/upload", "/api/anything", "/health"}

	for _, path := range paths {
		first := services.ClassifyEndpoint(path, methods[0])
		for _, method := range methods[1:] {
			assert.Equal(t, first, services.ClassifyEndpoint(path, method), "%s %s", method, path)
		}
	}
}

func TestIsSensitiveEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/auth/login", true},
		{"/api/auth/logout", true},
		{"/api/me/profile", true},
		{"/api/trainer/grants", true},
		{"/api/Admin/users", true},
		{"/api/consent", true},
		{"/api/privacy/export", true},
		{"/api/plans", false},
		{"/upload", false},
		{"/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, services.IsSensitiveEndpoint(tt.path))
		})
	}
}

func TestIsHighRiskOperation(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		method string
		want   bool
	}{
		{"login", "/auth/login", http.MethodPost, true},
		{"profile update", "/api/me/profile", http.MethodPut, true},
		{"grant", "/api/trainer/grants/123", http.MethodPost, true},
		{"accept invite", "/api/invites/accept", http.MethodPost, true},
		{"delete under api", "/api/plans/7", http.MethodDelete, true},
		{"delete outside api", "/auth/session", http.MethodDelete, false},
		{"plain read", "/api/plans", http.MethodGet, false},
		{"profile read elsewhere", "/api/profile", http.MethodGet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.IsHighRiskOperation(tt.path, tt.method))
		})
	}
}
