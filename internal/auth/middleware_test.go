package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!!"

func claimsEcho(seen **models.TokenClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetUserFromContext(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)

	token, err := tm.GenerateAccessToken("user-1", "coach@example.com", models.RoleTrainer)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTrainer, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenManager(testSecret, -time.Minute)
		token, err := expired.GenerateAccessToken("user-1", "", models.RoleClient)
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("another-secret-that-is-32-bytes-long", 15*time.Minute)
		token, err := other.GenerateAccessToken("user-1", "", models.RoleClient)
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("alg none", func(t *testing.T) {
		claims := &models.TokenClaims{Type: "access", UserID: "user-1", Role: models.RoleAdmin}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("refresh token", func(t *testing.T) {
		claims := &models.TokenClaims{
			Type:   "refresh",
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestIdentifyUser(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)
	token, err := tm.GenerateAccessToken("user-42", "", models.RoleClient)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantUserID string
	}{
		{"valid bearer", "Bearer " + token, "user-42"},
		{"lower-case scheme", "bearer " + token, "user-42"},
		{"no header", "", ""},
		{"invalid token", "Bearer nope", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *models.TokenClaims
			handler := IdentifyUser(tm, slog.New(slog.NewJSONHandler(io.Discard, nil)))(claimsEcho(&seen))

			req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			// Never rejects
			assert.Equal(t, http.StatusOK, rec.Code)
			if tt.wantUserID == "" {
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.wantUserID, seen.UserID)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := RequireAuth(ok)

	anon := httptest.NewRecorder()
	handler.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &models.TokenClaims{UserID: "user-1"}))
	authed := httptest.NewRecorder()
	handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusNoContent, authed.Code)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := RequireRole(models.RoleAdmin, models.RoleTrainer)(ok)

	tests := []struct {
		name     string
		claims   *models.TokenClaims
		wantCode int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"client", &models.TokenClaims{UserID: "u1", Role: models.RoleClient}, http.StatusForbidden},
		{"trainer", &models.TokenClaims{UserID: "u2", Role: models.RoleTrainer}, http.StatusNoContent},
		{"admin", &models.TokenClaims{UserID: "u3", Role: models.RoleAdmin}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/security/alerts", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserID(req))

	req = req.WithContext(WithClaims(req.Context(), &models.TokenClaims{UserID: "user-9"}))
	assert.Equal(t, "user-9", UserID(req))
}
