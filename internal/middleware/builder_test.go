package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAdminMiddlewareStack_RequestIDAndRecovery(t *testing.T) {
	var sawRequestID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequestID = RequestIDFromContext(r.Context())
		panic("boom")
	})

	stack := BuildAdminMiddlewareStack(&MiddlewareConfig{})
	wrapped := stack(handler)

	req := httptest.NewRequest(http.MethodGet, "/debug/circuit-breaker", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, sawRequestID, "request id should be set before the handler panics")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestBuildAdminMiddlewareStack_SizeLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	stack := BuildAdminMiddlewareStack(&MiddlewareConfig{MaxRequestSize: 10})
	wrapped := stack(handler)

	req := httptest.NewRequest(http.MethodPost, "/debug/outbox", nil)
	req.ContentLength = 1000
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
