package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type limitedRequest struct {
	remoteAddr string
	headers    map[string]string
	wantCode   int
}

func serve(h http.Handler, lr limitedRequest) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.RemoteAddr = lr.remoteAddr
	for k, v := range lr.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Keys(t *testing.T) {
	byHeader := func(r *http.Request) string { return r.Header.Get("X-Client") }

	for _, tt := range []struct {
		name     string
		max      int
		keyFunc  func(*http.Request) string
		requests []limitedRequest
	}{
		{
			name: "under limit",
			max:  3,
			requests: []limitedRequest{
				{remoteAddr: "192.168.1.1:1", wantCode: http.StatusOK},
				{remoteAddr: "192.168.1.1:2", wantCode: http.StatusOK},
				{remoteAddr: "192.168.1.1:3", wantCode: http.StatusOK},
			},
		},
		{
			name: "independent addresses",
			max:  1,
			requests: []limitedRequest{
				{remoteAddr: "10.0.0.1:1234", wantCode: http.StatusOK},
				{remoteAddr: "10.0.0.2:1234", wantCode: http.StatusOK},
				{remoteAddr: "10.0.0.1:5678", wantCode: http.StatusTooManyRequests},
			},
		},
		{
			name: "first forwarded hop",
			max:  1,
			requests: []limitedRequest{
				{
					remoteAddr: "192.168.1.1:4444",
					headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
					wantCode:   http.StatusOK,
				},
				{
					remoteAddr: "192.168.1.2:5555",
					headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
					wantCode:   http.StatusTooManyRequests,
				},
				{
					remoteAddr: "192.168.1.2:5555",
					headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
					wantCode:   http.StatusOK,
				},
			},
		},
		{
			name:    "custom key",
			max:     1,
			keyFunc: byHeader,
			requests: []limitedRequest{
				{headers: map[string]string{"X-Client": "a"}, wantCode: http.StatusOK},
				{headers: map[string]string{"X-Client": "a"}, wantCode: http.StatusTooManyRequests},
				{headers: map[string]string{"X-Client": "b"}, wantCode: http.StatusOK},
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: tt.max, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())
			for i, lr := range tt.requests {
				w := serve(h, lr)
				assert.Equal(t, lr.wantCode, w.Code, "request %d", i+1)
				assert.Equal(t, strconv.Itoa(tt.max), w.Header().Get("X-RateLimit-Limit"))
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
			}
		})
	}
}

func TestRateLimit_Rejection(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())
	lr := limitedRequest{remoteAddr: "10.0.0.1:9999"}

	assert.Equal(t, "1", serve(h, lr).Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "0", serve(h, lr).Header().Get("X-RateLimit-Remaining"))

	w := serve(h, lr)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(http.StatusTooManyRequests), body["code"])
	assert.Equal(t, "rate_limited", body["kind"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_APIKeyBudgets(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	send := func(header, value string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1000"
		if header != "" {
			req.Header.Set(header, value)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// Shoppers behind one address are limited per key.
	assert.Equal(t, http.StatusOK, send("api_key", "alice"))
	assert.Equal(t, http.StatusOK, send("api_key", "bob"))
	assert.Equal(t, http.StatusTooManyRequests, send("Authorization", "Bearer alice"))

	// Anonymous traffic shares the address budget.
	assert.Equal(t, http.StatusOK, send("", ""))
	assert.Equal(t, http.StatusTooManyRequests, send("", ""))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{
		Max:    4,
		Window: time.Minute,
		Now:    func() time.Time { return now },
	})

	for range 4 {
		_, _, ok := rl.Allow("k")
		require.True(t, ok)
	}
	_, _, ok := rl.Allow("k")
	require.False(t, ok)

	// Half way into the next window the previous one still weighs 2 requests.
	now = now.Add(90 * time.Second)
	remaining, _, ok := rl.Allow("k")
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	_, _, ok = rl.Allow("k")
	require.True(t, ok)
	_, _, ok = rl.Allow("k")
	assert.False(t, ok)

	// Two idle windows reset the budget and make the key evictable.
	now = now.Add(3 * time.Minute)
	rl.evict(now)
	rl.mu.Lock()
	assert.Empty(t, rl.windows)
	rl.mu.Unlock()
	remaining, _, ok = rl.Allow("k")
	require.True(t, ok)
	assert.Equal(t, 3, remaining)
}
