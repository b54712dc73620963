package configuration

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configYaml = `
log:
  level: debug
  formatter: json
  fields:
    service: vfsgate
http:
  addr: ":9000"
webdav:
  putmode: single
session_store: /tmp/sessions.db
storages:
  mem:
    type: memory
  bucket:
    type: s3
    parameters:
      bucket: files
      region: eu-central-1
    signature_expires_in: 15m
    chunk_size_mb: 16
mounts:
  - id: m1
    path: /data
    storage: bucket
    web_proxy: true
    cache_ttl: 30s
  - id: m2
    path: /scratch
    storage: mem
    webdav_policy: 302_redirect
keys:
  - key: k-123456
    basic_path: /data
    user_ref: alice
    user_kind: admin
`

func TestParse(t *testing.T) {
	config, err := Parse(strings.NewReader(configYaml))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "json", config.Log.Formatter)
	assert.Equal(t, "vfsgate", config.Log.Fields["service"])
	assert.Equal(t, ":9000", config.HTTP.Addr)
	assert.Equal(t, "single", config.WebDAV.PutMode)
	assert.Equal(t, "/tmp/sessions.db", config.SessionStore)

	bucket := config.Storages["bucket"]
	assert.Equal(t, "s3", bucket.Type)
	assert.Equal(t, "files", bucket.Parameters["bucket"])
	assert.Equal(t, 15*time.Minute, bucket.SignatureExpiresIn)
	assert.Equal(t, 16, bucket.ChunkSizeMB)

	require.Len(t, config.Mounts, 2)
	assert.True(t, config.Mounts[0].WebProxy)
	assert.Equal(t, 30*time.Second, config.Mounts[0].CacheTTL)
	assert.Equal(t, "302_redirect", config.Mounts[1].WebDAVPolicy)

	require.Len(t, config.Keys, 1)
	assert.Equal(t, "/data", config.Keys[0].BasicPath)
}

func TestParseDefaults(t *testing.T) {
	config, err := Parse(strings.NewReader(`
storages:
  mem:
    type: memory
mounts:
  - id: m1
    path: /
    storage: mem
`))
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.HTTP.Addr)
	assert.Equal(t, "vfsgate-sessions.db", config.SessionStore)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("VFSGATE_HTTP_ADDR", ":7000")
	t.Setenv("VFSGATE_LOG_LEVEL", "warn")
	t.Setenv("VFSGATE_SESSIONSTORE", "/var/lib/vfsgate/sessions.db")

	config, err := Parse(strings.NewReader(configYaml))
	require.NoError(t, err)
	assert.Equal(t, ":7000", config.HTTP.Addr)
	assert.Equal(t, "warn", config.Log.Level)
	assert.Equal(t, "/var/lib/vfsgate/sessions.db", config.SessionStore)
}

func TestParseEnvOverridesStorageMap(t *testing.T) {
	t.Setenv("VFSGATE_STORAGES_BUCKET_CHUNKSIZEMB", "64")

	config, err := Parse(strings.NewReader(configYaml))
	require.NoError(t, err)
	assert.Equal(t, 64, config.Storages["bucket"].ChunkSizeMB)
}

func TestValidateUnknownStorage(t *testing.T) {
	_, err := Parse(strings.NewReader(`
storages:
  mem:
    type: memory
mounts:
  - id: m1
    path: /data
    storage: nope
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage")
}

func TestValidateDuplicateMountID(t *testing.T) {
	_, err := Parse(strings.NewReader(`
storages:
  mem:
    type: memory
mounts:
  - id: m1
    path: /a
    storage: mem
  - id: m1
    path: /b
    storage: mem
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate mount id")
}

func TestValidateMissingFields(t *testing.T) {
	_, err := Parse(strings.NewReader(`
storages:
  mem:
    type: memory
mounts:
  - id: m1
    storage: mem
`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`
storages:
  mem: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no type")
}
