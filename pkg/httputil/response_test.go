package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	WriteCreated(w, "Create new ROLE successfully!", map[string]string{"key": "01_admin"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Create new ROLE successfully!", body["message"])
	assert.Equal(t, "01_admin", body["data"].(map[string]interface{})["key"])
	assert.NotContains(t, body, "paginate")
}

func TestWriteOK_NilDataStillHasDataKey(t *testing.T) {
	w := httptest.NewRecorder()

	WriteOK(w, "Update Permissions for Role successfully!", nil)

	body := decodeEnvelope(t, w)
	assert.Contains(t, body, "data")
	assert.Nil(t, body["data"])
}

func TestWritePaginated(t *testing.T) {
	w := httptest.NewRecorder()

	WritePaginated(w, "ok", []int{1, 2}, Paginate{Total: 12, CurrentPage: 2, Limit: 5})

	body := decodeEnvelope(t, w)
	page := body["paginate"].(map[string]interface{})
	assert.Equal(t, float64(12), page["total"])
	assert.Equal(t, float64(2), page["current_page"])
	assert.Equal(t, float64(5), page["limit"])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", apierr.Validation("Permission Key::x does not exist!"), http.StatusBadRequest, "Permission Key::x does not exist!"},
		{"not found", apierr.NotFound("ROLE::01_x not found"), http.StatusNotFound, "ROLE::01_x not found"},
		{"forbidden", apierr.Forbidden("This action is unauthorized."), http.StatusForbidden, "This action is unauthorized."},
		{"internal echoes cause", apierr.Internal(errors.New("database is locked")), http.StatusInternalServerError, "database is locked"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeEnvelope(t, w)
			assert.Equal(t, "failed", body["status"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}

	t.Run("field errors and data", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, apierr.Validation("invalid").
			WithField("name", "The name field is required.").
			WithData(map[string][]string{"missing_keys": {"a"}}))

		body := decodeEnvelope(t, w)
		assert.Equal(t, []interface{}{"The name field is required."}, body["errors"].(map[string]interface{})["name"])
		assert.Equal(t, []interface{}{"a"}, body["data"].(map[string]interface{})["missing_keys"])
	})
}

func TestWriteFailureHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{"bad request", WriteBadRequest, http.StatusBadRequest},
		{"unauthorized", WriteUnauthorized, http.StatusUnauthorized},
		{"forbidden", WriteForbidden, http.StatusForbidden},
		{"not found", WriteNotFound, http.StatusNotFound},
		{"too many requests", WriteTooManyRequests, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "msg")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "failed", decodeEnvelope(t, w)["status"])
		})
	}
}
