package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sebastianruiz9504/calculadora/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?q=micro", nil)
	if userID != "" {
		req = req.WithContext(common.WithIdentity(req.Context(), common.Identity{ObjectID: userID}))
	}
	return req
}

func TestMiddlewareEnforcesLimitPerCaller(t *testing.T) {
	lim, err := New(nil, "2-M")
	require.NoError(t, err)
	handler := Handler{Limiter: lim}.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs("alice"))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("alice"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("bob"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCallerKey(t *testing.T) {
	require.Equal(t, "user:alice", CallerKey(requestAs("alice")))

	req := requestAs("")
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	require.Equal(t, "ip:10.1.2.3", CallerKey(req))
}

func TestMiddlewareRedisStoreFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "ratelimit")
	require.NoError(t, err)
	lim, err := New(store, "1-M")
	require.NoError(t, err)

	var seen []error
	handler := Handler{Limiter: lim, OnError: func(err error) { seen = append(seen, err) }}.Middleware(okHandler())

	mr.Close()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, seen, 1)
	require.Error(t, seen[0])
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New(nil, "sixty per minute")
	require.Error(t, err)
}
