package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"name": "test"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "message")
	data := body["data"].(map[string]any)
	assert.Equal(t, "test", data["name"])
}

func TestMessage_WithoutData(t *testing.T) {
	w := httptest.NewRecorder()
	response.Message(w, "Logged out successfully", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Logged out successfully", body["message"])
	assert.NotContains(t, body, "data")
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, "User registered successfully", map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "User registered successfully", body["message"])
	assert.Equal(t, "abc", body["data"].(map[string]any)["id"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", []string{"Please enter a valid email"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Equal(t, "Validation failed", body["message"])
	assert.Equal(t, []any{"Please enter a valid email"}, body["errors"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)

	body := decode(t, w)
	assert.NotContains(t, body, "errors")
}

func TestInternal(t *testing.T) {
	w := httptest.NewRecorder()
	response.Internal(w, "Failed to upload file", errors.New("disk full"), false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, body, "detail")

	w = httptest.NewRecorder()
	response.Internal(w, "Failed to upload file", errors.New("disk full"), true)
	assert.Equal(t, "disk full", decode(t, w)["detail"])
}

func TestDownload(t *testing.T) {
	w := httptest.NewRecorder()
	response.Download(w, "export_a_1.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="export_a_1.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "a,b\n", w.Body.String())
}
