package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/cors"
	"github.com/stretchr/testify/require"

	"github.com/sebastianruiz9504/calculadora/internal/config"
)

func preflight(t *testing.T, opts cors.Options, origin string) http.Header {
	t.Helper()
	handler := cors.Handler(opts)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/quotes/calculate", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header()
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}, {"https://sales.example.com", "*"}} {
		opts := corsOptions(&config.Config{CORSAllowedOrigins: origins})
		require.False(t, opts.AllowCredentials, "origins %v", origins)

		headers := preflight(t, opts, "https://evil.example.com")
		require.Empty(t, headers.Get("Access-Control-Allow-Credentials"), "origins %v", origins)
	}
}

func TestCORSExplicitOriginsAllowCredentials(t *testing.T) {
	opts := corsOptions(&config.Config{CORSAllowedOrigins: []string{"https://sales.example.com"}})
	require.True(t, opts.AllowCredentials)

	headers := preflight(t, opts, "https://sales.example.com")
	require.Equal(t, "https://sales.example.com", headers.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", headers.Get("Access-Control-Allow-Credentials"))

	require.Empty(t, preflight(t, opts, "https://evil.example.com").Get("Access-Control-Allow-Origin"))
}
