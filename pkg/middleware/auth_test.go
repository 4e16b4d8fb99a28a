package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

type stubAuthenticator struct {
	tokens map[string]*auth.AuthContext
	err    error
	calls  []string
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, token string) (*auth.AuthContext, error) {
	s.calls = append(s.calls, token)
	if s.err != nil {
		return nil, s.err
	}
	if authCtx, ok := s.tokens[token]; ok {
		return authCtx, nil
	}
	return nil, apierr.Unauthenticated("Unauthenticated.")
}

func newStub() *stubAuthenticator {
	return &stubAuthenticator{tokens: map[string]*auth.AuthContext{
		"rd_good": {User: &auth.User{ID: 42, Username: "frontdesk"}, Token: &auth.AccessToken{ID: 1}},
	}}
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestAuthMiddleware_Authenticates(t *testing.T) {
	stub := newStub()
	var (
		gotAuth   *auth.AuthContext
		gotUserID string
	)
	handler := NewAuthMiddleware(stub, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = GetAuthContext(r)
		gotUserID = observability.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/role", nil)
	req.Header.Set("Authorization", "Bearer rd_good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotAuth)
	assert.Equal(t, int64(42), gotAuth.UserID())
	assert.Equal(t, "42", gotUserID)
	assert.Equal(t, []string{"rd_good"}, stub.calls)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic rd_good"},
		{"no token", "Bearer"},
		{"unknown token", "Bearer rd_bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(newStub(), false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/role", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Unauthenticated.", decodeMessage(t, rec))
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuthMiddleware_Optional(t *testing.T) {
	called := false
	handler := NewAuthMiddleware(newStub(), true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, GetAuthContext(r))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestAuthMiddleware_StoreFailure(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("connection refused")

	handler := NewAuthMiddleware(stub, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/role", nil)
	req.Header.Set("Authorization", "Bearer rd_good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connection refused", decodeMessage(t, rec))
}
