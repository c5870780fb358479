package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestSendValidationError(t *testing.T) {
	c, w := newTestContext()
	SendValidationError(c, "Pool size must be positive", "pool_size")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "pool_size", resp.Error.Details)
}

func TestSendSuccess(t *testing.T) {
	c, w := newTestContext()
	SendSuccess(c, map[string]int{"players": 4})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"players":4}}`, w.Body.String())
}

func TestSendCSV(t *testing.T) {
	c, w := newTestContext()
	SendCSV(c, "out.csv", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=out.csv", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

func TestAppError(t *testing.T) {
	err := NewAppError(ErrCodeComputation, "rejected", "invalid probability").WithField("player", "3")
	assert.Equal(t, "COMPUTATION_ERROR: rejected - invalid probability", err.Error())
	assert.Equal(t, "3", err.Fields["player"])

	assert.Equal(t, "NOT_FOUND: missing", NewAppError(ErrCodeNotFound, "missing").Error())
}
