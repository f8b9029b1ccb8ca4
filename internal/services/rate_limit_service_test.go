package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimitService(t *testing.T, clock *services.FakeClock) *services.RateLimitService {
	t.Helper()

	service, err := services.NewRateLimitService(services.RateLimitConfig{
		TimeProvider: clock.Now,
	}, services.NewTestLogger())
	require.NoError(t, err)
	return service
}

func TestRateLimitService_LoginLockout(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	for i := 0; i < 5; i++ {
		decision := service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
		assert.True(t, decision.Allowed, "attempt %d", i+1)
		clock.Advance(time.Second)
	}

	denied := service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 30*time.Minute, denied.RetryAfter)
	assert.Equal(t, 1800, denied.Policy.RetryAfterSeconds())

	// Window has long since expired but the lockout has not
	clock.Advance(20 * time.Minute)
	stillDenied := service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	assert.False(t, stillDenied.Allowed)
	assert.Equal(t, 30*time.Minute, stillDenied.RetryAfter)
}

func TestRateLimitService_LockoutExpires(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	for i := 0; i < 6; i++ {
		service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	}

	clock.Advance(30*time.Minute + time.Second)
	decision := service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	assert.True(t, decision.Allowed)
}

func TestRateLimitService_DeniedRequestsAreNotRecorded(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	// Fill the window, trip the lockout, then hammer it
	for i := 0; i < 20; i++ {
		service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	}

	// After the lockout the original five have aged out of the 15m window
	clock.Advance(31 * time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1").Allowed)
	}
	assert.False(t, service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1").Allowed)
}

func TestRateLimitService_GlobalIPBudget(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	for i := 0; i < 500; i++ {
		require.True(t, service.CheckAndRegister(models.CategoryGlobalIP, "203.0.113.9").Allowed, "request %d", i+1)
	}

	decision := service.CheckAndRegister(models.CategoryGlobalIP, "203.0.113.9")
	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Hour, decision.RetryAfter)
}

func TestRateLimitService_WindowSlides(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, service.CheckAndRegister(models.CategoryAuthRegister, "10.0.0.2").Allowed)
	}

	clock.Advance(60*time.Minute + time.Second)
	assert.True(t, service.CheckAndRegister(models.CategoryAuthRegister, "10.0.0.2").Allowed)
}

func TestRateLimitService_IdentifiersAndCategoriesAreIsolated(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	for i := 0; i < 6; i++ {
		service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1")
	}
	require.False(t, service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1").Allowed)

	assert.True(t, service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.2").Allowed)
	assert.True(t, service.CheckAndRegister(models.CategoryAPIGeneral, "10.0.0.1").Allowed)
	assert.True(t, service.CheckAndRegister(models.CategoryAuthRegister, "10.0.0.1").Allowed)
}

func TestRateLimitService_UnknownCategoryUsesGeneralPolicy(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	decision := service.CheckAndRegister(models.RateLimitCategory("reports"), "10.0.0.1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 100, decision.Policy.MaxRequests)
	assert.Equal(t, time.Minute, decision.Policy.Window)
}

func TestRateLimitService_EmptyIdentifierIsUnknown(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	decision := service.CheckAndRegister(models.CategoryAPIGeneral, "")
	assert.Equal(t, services.UnknownIdentifier, decision.Identifier)
}

func TestNewRateLimitService_RejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policies map[models.RateLimitCategory]models.RateLimitPolicy
	}{
		{
			name: "zero max",
			policies: map[models.RateLimitCategory]models.RateLimitPolicy{
				models.CategoryAPIGeneral: {MaxRequests: 0, Window: time.Minute, Lockout: time.Minute},
			},
		},
		{
			name: "zero window",
			policies: map[models.RateLimitCategory]models.RateLimitPolicy{
				models.CategoryAPIGeneral: {MaxRequests: 10, Window: 0, Lockout: time.Minute},
			},
		},
		{
			name: "missing fallback",
			policies: map[models.RateLimitCategory]models.RateLimitPolicy{
				models.CategoryAuthLogin: {MaxRequests: 5, Window: time.Minute, Lockout: time.Minute},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.NewRateLimitService(services.RateLimitConfig{Policies: tt.policies}, services.NewTestLogger())
			assert.ErrorIs(t, err, models.ErrInvalidPolicy)
		})
	}
}

func TestRateLimitService_Sweep(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	service.CheckAndRegister(models.CategoryAPIGeneral, "10.0.0.1")
	for i := 0; i < 6; i++ {
		service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.2")
	}
	require.Equal(t, 2, service.Len())

	// api_general idles out after 2m; the login key is still locked
	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, service.Sweep())
	assert.Equal(t, 1, service.Len())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, service.Sweep())
	assert.Equal(t, 0, service.Len())
}

func TestRateLimitService_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if service.CheckAndRegister(models.CategoryAuthLogin, "10.0.0.1").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestRateLimitService_ConcurrentDistinctKeys(t *testing.T) {
	clock := services.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestRateLimitService(t, clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.1.%d", n)
			for j := 0; j < 5; j++ {
				assert.True(t, service.CheckAndRegister(models.CategoryAuthLogin, ip).Allowed)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, service.Len())
}
