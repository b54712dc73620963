package errcode

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsManagement(t *testing.T) {
	var errs Errors

	errs = append(errs, ErrorCodeNotFound)
	errs = append(errs, ErrorCodeValidation.WithArgs("bad path"))

	assert.Equal(t, 2, errs.Len())

	p, err := json.Marshal(errs)
	require.NoError(t, err)

	var env struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(p, &env))

	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.Equal(t, "resource not found", env.Message)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "VALIDATION_ERROR", env.Details[0].Code)
	assert.Equal(t, "invalid request: bad path", env.Details[0].Message)
}

func TestUnexposedMessageIsReplaced(t *testing.T) {
	errs := Errors{ErrorCodeRepository.WithMessage("bolt: page 4 corrupted")}

	p, err := json.Marshal(errs)
	require.NoError(t, err)

	var env struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(p, &env))

	assert.Equal(t, "REPOSITORY_ERROR", env.Code)
	assert.Equal(t, "internal storage error", env.Message)
	assert.NotContains(t, string(p), "corrupted")
}

func TestErrorsRoundTrip(t *testing.T) {
	in := Errors{
		ErrorCodeConflict.WithDetail(nil),
		ErrorCodeForbidden.WithDetail(nil),
	}
	p, err := json.Marshal(in)
	require.NoError(t, err)

	var out Errors
	require.NoError(t, json.Unmarshal(p, &out))
	require.Equal(t, 2, out.Len())
	assert.Equal(t, ErrorCodeConflict, out[0].(Error).Code)
	assert.Equal(t, ErrorCodeForbidden, out[1].(Error).Code)
}

func TestStatusCodes(t *testing.T) {
	for _, tc := range []struct {
		code   ErrorCode
		status int
	}{
		{ErrorCodeValidation, http.StatusBadRequest},
		{ErrorCodeUnauthorized, http.StatusUnauthorized},
		{ErrorCodeForbidden, http.StatusForbidden},
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeConflict, http.StatusConflict},
		{ErrorCodePreconditionFailed, http.StatusPreconditionFailed},
		{ErrorCodeLocked, http.StatusLocked},
		{ErrorCodeNotImplemented, http.StatusNotImplemented},
		{ErrorCodeUploadSessionNotFound, http.StatusNotFound},
	} {
		assert.Equal(t, tc.status, tc.code.Descriptor().HTTPStatusCode, tc.code.String())
	}
}

func TestParseErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeDriverS3, ParseErrorCode("DRIVER_ERROR.S3"))
	assert.Equal(t, ErrorCodeUnknown, ParseErrorCode("NO_SUCH_CODE"))
}
