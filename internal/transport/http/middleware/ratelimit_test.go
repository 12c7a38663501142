package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// --- mocks ---

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(time.Duration), args.Error(2)
}

// --- tests ---

func TestRealIP_XForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", realIP(req))
}

func TestRealIP_XRealIP_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "9.10.11.12")
	assert.Equal(t, "9.10.11.12", realIP(req))
}

func TestRealIP_RemoteAddr_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	assert.Equal(t, "192.168.1.1", realIP(req))
}

func TestRealIP_XForwardedFor_TakesPrecedenceOverXRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	req.Header.Set("X-Real-Ip", "2.2.2.2")
	assert.Equal(t, "1.1.1.1", realIP(req))
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	rl := newMemoryLimiter(rate.Limit(1), 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _, _ = rl.Allow(ctx, "other")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _, _ = rl.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	rl := newMemoryLimiter(rate.Limit(1), 1)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return start }
	_, _, _ = rl.Allow(context.Background(), "a")

	assert.Equal(t, 0, rl.sweep(start.Add(time.Minute)))
	assert.Equal(t, 1, rl.sweep(start.Add(11*time.Minute)))
}

func TestRateLimit_Denied(t *testing.T) {
	l := &mockLimiter{}
	l.On("Allow", mock.Anything, "auth:1.2.3.4").Return(false, 1500*time.Millisecond, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	rr := httptest.NewRecorder()
	RateLimit(l, "auth", logging.NewNop())(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests","reason":"rate_limited"}`, rr.Body.String())
}

func TestRateLimit_Allowed(t *testing.T) {
	l := &mockLimiter{}
	l.On("Allow", mock.Anything, mock.Anything).Return(true, time.Duration(0), nil)

	rr := httptest.NewRecorder()
	RateLimit(l, "auth", logging.NewNop())(http.HandlerFunc(okHandler)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	l := &mockLimiter{}
	l.On("Allow", mock.Anything, mock.Anything).Return(false, time.Duration(0), errors.New("redis down"))

	rr := httptest.NewRecorder()
	RateLimit(l, "auth", logging.NewNop())(http.HandlerFunc(okHandler)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
