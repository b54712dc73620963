package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/link"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/inmemory"
	"github.com/vfsgate/vfsgate/gateway/upload"
)

// unksizeDriver serves content without a length up front, the way source
// tarball endpoints do. It cannot seek, so every range is sliced in software.
type unksizeDriver struct {
	*inmemory.Driver
}

func (d *unksizeDriver) Download(ctx context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	inner, err := d.Driver.Download(ctx, subPath)
	if err != nil {
		return nil, err
	}
	return &storagedriver.StreamDescriptor{
		Size:        -1,
		ContentType: inner.ContentType,
		Open:        inner.Open,
	}, nil
}

type unksizeFactory struct{}

func (unksizeFactory) Create(_ context.Context, _ map[string]interface{}) (storagedriver.StorageDriver, error) {
	return &unksizeDriver{Driver: inmemory.New()}, nil
}

func init() {
	factory.Register("unkmem", unksizeFactory{})
}

func newStreamApp(t *testing.T) *App {
	t.Helper()
	mounts := mount.NewManager(mount.StaticConfigs{
		"u1": {ID: "u1", Type: "unkmem"},
	})
	require.NoError(t, mounts.Register(&mount.Mount{
		ID: "streams", Path: "/streams", StorageConfigID: "u1", Active: true,
	}))
	fsys := fs.New(mounts, nil)
	return NewApp(fsys, upload.NewManager(upload.NewMemStore()), link.NewResolver(nil), Options{})
}

func getRange(app *App, target, rangeHeader string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if rangeHeader != "" {
		r.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)
	return w
}

func TestDownloadUnknownSizeFull(t *testing.T) {
	app := newStreamApp(t)
	seedFile(t, app, "/streams/a.bin", "0123456789")

	w := getRange(app, "/api/fs/download?path=/streams/a.bin", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Length"))
}

func TestDownloadUnknownSizeBoundedRange(t *testing.T) {
	app := newStreamApp(t)
	seedFile(t, app, "/streams/a.bin", "0123456789")

	w := getRange(app, "/api/fs/download?path=/streams/a.bin", "bytes=2-5")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "bytes 2-5/*", w.Header().Get("Content-Range"))
	assert.Equal(t, "4", w.Header().Get("Content-Length"))
}

func TestDownloadUnknownSizeOpenRange(t *testing.T) {
	app := newStreamApp(t)
	seedFile(t, app, "/streams/a.bin", "0123456789")

	w := getRange(app, "/api/fs/download?path=/streams/a.bin", "bytes=4-")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "456789", w.Body.String())
	assert.Equal(t, "bytes 4-/*", w.Header().Get("Content-Range"))
	assert.Empty(t, w.Header().Get("Content-Length"))
}

func TestDownloadUnknownSizeSuffixRange(t *testing.T) {
	app := newStreamApp(t)
	seedFile(t, app, "/streams/a.bin", "0123456789")

	// a suffix needs a known total to resolve
	w := getRange(app, "/api/fs/download?path=/streams/a.bin", "bytes=-3")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Empty(t, w.Header().Get("Content-Range"))
}
