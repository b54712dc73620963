package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerReportsOK(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("always", func() error { return nil })

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandlerReportsFailures(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("store", func() error { return errors.New("file locked") })
	reg.RegisterFunc("other", func() error { return nil })

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, map[string]string{"store": "file locked"}, body.Checks)
}

func TestRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("c", func() error { return errors.New("down") })
	reg.RegisterFunc("c", func() error { return nil })
	assert.Empty(t, reg.CheckStatus())
}
