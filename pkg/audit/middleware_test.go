package audit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_InstallsLoggerInContext(t *testing.T) {
	mem := NewMemoryLogger()
	var got Logger
	handler := NewMiddleware(mem).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/role", nil))

	assert.Same(t, mem, got)
	assert.Empty(t, mem.Events(), "successful reads are not recorded")
}

func TestMiddleware_RecordsMutations(t *testing.T) {
	mem := NewMemoryLogger()
	handler := NewMiddleware(mem).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/role", strings.NewReader(`{}`))
	req.RemoteAddr = "10.0.0.7:5123"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventHTTPRequest, events[0].Type)
	assert.Equal(t, StatusSuccess, events[0].Status)
	assert.Equal(t, http.MethodPost, events[0].Method)
	assert.Equal(t, "/role", events[0].Path)
	assert.Equal(t, http.StatusCreated, events[0].StatusCode)
	assert.Equal(t, "10.0.0.7", events[0].IPAddress)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestMiddleware_StatusClassification(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{http.StatusForbidden, StatusDenied},
		{http.StatusUnauthorized, StatusDenied},
		{http.StatusNotFound, StatusFailure},
		{http.StatusInternalServerError, StatusFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			mem := NewMemoryLogger()
			handler := NewMiddleware(mem).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/product", nil))

			events := mem.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Status)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "not-a-host-port"
	assert.Equal(t, "not-a-host-port", clientIP(req))
}
