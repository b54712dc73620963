package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMasksSensitiveNames(t *testing.T) {
	assert.Equal(t, "[REDACTED]", Header("Authorization", "Bearer abc"))
	assert.Equal(t, "[REDACTED]", Header("X-Api-Key", "k-123456"))
	assert.Equal(t, "[REDACTED]", Header("cookie", "session=1"))
	assert.Equal(t, "text/plain", Header("Content-Type", "text/plain"))
}

func TestHeadersFlattens(t *testing.T) {
	out := Headers(map[string][]string{
		"Accept":        {"application/json", "text/html"},
		"Authorization": {"Bearer abc"},
	})
	assert.Equal(t, "application/json,text/html", out["Accept"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
}

func TestURIMasksQueryParams(t *testing.T) {
	got := URI("/api/fs/download?path=%2Fa.txt&access_token=tok-abcdef")
	assert.NotContains(t, got, "tok-abcdef")
	assert.Contains(t, got, "access_token=%5BREDACTED%5D")

	got = URI("https://bucket.s3.example/key?X-Amz-Signature=deadbeef&X-Amz-Expires=300")
	assert.NotContains(t, got, "deadbeef")
	assert.Contains(t, got, "X-Amz-Expires=300")
}

func TestURIPassesCleanPathsThrough(t *testing.T) {
	assert.Equal(t, "/api/fs/list?path=%2Fdocs", URI("/api/fs/list?path=%2Fdocs"))
}

func TestAddSecretMasksValueEverywhere(t *testing.T) {
	AddSecret("super-secret-credential")
	got := String("dialing provider with key super-secret-credential over https")
	require.NotContains(t, got, "super-secret-credential")
	assert.Contains(t, got, "[REDACTED]")
}

func TestAddSecretIgnoresShortValues(t *testing.T) {
	AddSecret("abc")
	assert.Equal(t, "abc in text", String("abc in text"))
}
