package rbac

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/contextkeys"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
)

func withUser(r *http.Request, id int64, username string) *http.Request {
	ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{
		User: &auth.User{ID: id, Username: username},
	})
	return r.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httputil.Envelope {
	t.Helper()
	var env httputil.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequirePermission(t *testing.T) {
	source := &stubSource{
		roles: map[int64][]string{1: {"01_admin"}, 2: {"02_staff"}},
		perms: map[string][]Permission{
			"01_admin": {{Key: "04_manage_rooms", RelatedResource: strPtr("rooms")}},
		},
	}
	gate := NewPermissionMiddleware(NewPermissionChecker(source, nil))
	handler := gate.RequirePermission(ResourceRooms)(okHandler)

	t.Run("allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/room", nil), 1, "owner1"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("denied", func(t *testing.T) {
		mem := audit.NewMemoryLogger()
		req := withUser(httptest.NewRequest(http.MethodDelete, "/room/3", nil), 2, "cashier")
		req = req.WithContext(audit.WithLogger(req.Context(), mem))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, httputil.StatusFailed, env.Status)
		assert.Equal(t, "This action is unauthorized.", env.Message)

		events := mem.Events()
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventAccessDenied, events[0].Type)
		assert.Equal(t, audit.StatusDenied, events[0].Status)
		assert.Equal(t, int64(2), events[0].UserID)
		assert.Equal(t, ResourceRooms, events[0].ResourceType)
	})

	t.Run("unknown user has no roles", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/room", nil), 9, "ghost1"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/room", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthenticated.", decodeEnvelope(t, rec).Message)
	})
}

func TestRequirePermission_CheckerError(t *testing.T) {
	gate := NewPermissionMiddleware(NewPermissionChecker(&stubSource{err: errors.New("db down")}, nil))
	handler := gate.RequirePermission(ResourceRooms)(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/room", nil), 1, "owner1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Message, "db down")
}

func TestRequireAnyRole(t *testing.T) {
	source := &stubSource{
		roles: map[int64][]string{
			1: {"01_admin"},
			2: {"03_inventory_management"},
			3: {"02_staff"},
		},
		perms: map[string][]Permission{
			"01_admin":                {{Key: "01_manage_inventory", RelatedResource: strPtr("products")}},
			"03_inventory_management": {{Key: "01_manage_inventory", RelatedResource: strPtr("products")}},
			"02_staff":                {{Key: "01_manage_inventory", RelatedResource: strPtr("products")}},
		},
	}
	gate := NewPermissionMiddleware(NewPermissionChecker(source, nil))
	handler := httputil.Chain(
		gate.RequirePermission(ResourceProducts),
		gate.RequireAnyRole(InventoryRoleKeys...),
	)(okHandler)

	tests := []struct {
		name   string
		userID int64
		want   int
	}{
		{"admin", 1, http.StatusNoContent},
		{"inventory manager", 2, http.StatusNoContent},
		{"staff with product permission", 3, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodPost, "/product/stock", nil), tt.userID, "someone"))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "You have no permission for this function!", decodeEnvelope(t, rec).Message)
			}
		})
	}

	// both guards share one capability load per request
	assert.Equal(t, 3, source.roleCalls)
}

func TestRequirePermission_ReusesCallerMemo(t *testing.T) {
	source := &stubSource{roles: map[int64][]string{1: {"01_admin"}}}
	gate := NewPermissionMiddleware(NewPermissionChecker(source, nil))
	handler := gate.RequirePermission(ResourceRooms)(okHandler)

	req := withUser(httptest.NewRequest(http.MethodGet, "/room", nil), 1, "owner1")
	req = req.WithContext(WithCapabilityMemo(req.Context()))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 1, source.roleCalls)
}
