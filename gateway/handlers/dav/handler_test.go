package dav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/link"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/inmemory"
)

func newTestHandler(t *testing.T, auth AuthFunc) *Handler {
	t.Helper()
	mounts := mount.NewManager(mount.StaticConfigs{
		"mem1": {ID: "mem1", Type: "memory"},
		"mem2": {ID: "mem2", Type: "memory"},
	})
	for _, mt := range []*mount.Mount{
		{ID: "docs", Path: "/docs", StorageConfigID: "mem1", Active: true},
		{ID: "media", Path: "/media", StorageConfigID: "mem2", Active: true},
	} {
		require.NoError(t, mounts.Register(mt))
	}
	fsys := fs.New(mounts, nil)
	return NewHandler(fsys, link.NewResolver(nil), "", auth)
}

func davSeed(t *testing.T, h *Handler, p, content string) {
	t.Helper()
	_, err := h.FS.Upload(context.Background(), p, strings.NewReader(content), storagedriver.UploadOptions{
		ContentLength:     int64(len(content)),
		AutoCreateParents: true,
	})
	require.NoError(t, err)
}

func davDo(h *Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	r := httptest.NewRequest(method, target, rd)
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestOptions(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, http.MethodOptions, "/dav/docs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1, 2", w.Header().Get("DAV"))
	assert.Contains(t, w.Header().Get("Allow"), "PROPFIND")
	assert.Contains(t, w.Header().Get("Allow"), "LOCK")
}

func TestPutCreatesThenOverwrites(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, http.MethodPut, "/dav/docs/a.txt", "first", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = davDo(h, http.MethodPut, "/dav/docs/a.txt", "second", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = davDo(h, http.MethodGet, "/dav/docs/a.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second", w.Body.String())
}

func TestGetStreamsThroughProxyPolicy(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "0123456789")

	w := davDo(h, http.MethodGet, "/dav/docs/a.txt", "", map[string]string{"Range": "bytes=2-5"})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
}

func TestGetDirectoryNotAllowed(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, http.MethodGet, "/dav/docs", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetEscapedPath(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/with space.txt", "spaced")

	w := davDo(h, http.MethodGet, "/dav/docs/with%20space.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "spaced", w.Body.String())
}

func TestPropfindDirectory(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "alpha")
	davSeed(t, h, "/docs/sub/b.txt", "beta")

	w := davDo(h, "PROPFIND", "/dav/docs", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Equal(t, `application/xml; charset="utf-8"`, w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "<D:href>/dav/docs/</D:href>")
	assert.Contains(t, body, "<D:href>/dav/docs/a.txt</D:href>")
	assert.Contains(t, body, "<D:href>/dav/docs/sub/</D:href>")
	assert.Contains(t, body, "<D:getcontentlength>5</D:getcontentlength>")
	assert.Contains(t, body, "<D:collection")
}

func TestPropfindDepthZero(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "alpha")

	w := davDo(h, "PROPFIND", "/dav/docs", "", map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.NotContains(t, w.Body.String(), "a.txt")
}

func TestPropfindInfinityIsCoerced(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/sub/deep/c.txt", "c")

	w := davDo(h, "PROPFIND", "/dav/docs", "", map[string]string{"Depth": "infinity"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "/dav/docs/sub/")
	assert.NotContains(t, body, "c.txt", "traversal stops at one level")
}

func TestPropfindNotFound(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, "PROPFIND", "/dav/docs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMkcol(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, "MKCOL", "/dav/docs/newdir", "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = davDo(h, "MKCOL", "/dav/docs/newdir", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = davDo(h, "MKCOL", "/dav/docs/other", "not-empty", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestDelete(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "x")

	w := davDo(h, http.MethodDelete, "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = davDo(h, http.MethodDelete, "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMountRootForbidden(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, http.MethodDelete, "/dav/docs", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCopy(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/src.txt", "payload")

	w := davDo(h, "COPY", "/dav/docs/src.txt", "", map[string]string{
		"Destination": "http://example/dav/media/dst.txt",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = davDo(h, http.MethodGet, "/dav/media/dst.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())
}

func TestCopyOverwriteFalse(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/src.txt", "new")
	davSeed(t, h, "/media/dst.txt", "old")

	w := davDo(h, "COPY", "/dav/docs/src.txt", "", map[string]string{
		"Destination": "/dav/media/dst.txt",
		"Overwrite":   "F",
	})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	// with overwrite the existing destination is replaced and 204 returned
	w = davDo(h, "COPY", "/dav/docs/src.txt", "", map[string]string{
		"Destination": "/dav/media/dst.txt",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = davDo(h, http.MethodGet, "/dav/media/dst.txt", "", nil)
	assert.Equal(t, "new", w.Body.String())
}

func TestCopyMissingDestination(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/src.txt", "x")

	w := davDo(h, "COPY", "/dav/docs/src.txt", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMove(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/src.txt", "moving")

	w := davDo(h, "MOVE", "/dav/docs/src.txt", "", map[string]string{
		"Destination": "/dav/media/dst.txt",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = davDo(h, http.MethodGet, "/dav/media/dst.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "moving", w.Body.String())

	w = davDo(h, http.MethodGet, "/dav/docs/src.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

const lockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>alice</D:href></D:owner>
</D:lockinfo>`

func TestLockProtectsMutations(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "original")

	w := davDo(h, "LOCK", "/dav/docs/a.txt", lockBody, map[string]string{"Timeout": "Second-600"})
	require.Equal(t, http.StatusOK, w.Code)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")
	require.NotEmpty(t, token)
	assert.Contains(t, w.Body.String(), token)

	// a competing lock and a tokenless write are both refused
	w = davDo(h, "LOCK", "/dav/docs/a.txt", lockBody, nil)
	assert.Equal(t, http.StatusLocked, w.Code)
	w = davDo(h, http.MethodPut, "/dav/docs/a.txt", "overwrite", nil)
	assert.Equal(t, http.StatusLocked, w.Code)
	w = davDo(h, http.MethodDelete, "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	// the token holder writes through
	w = davDo(h, http.MethodPut, "/dav/docs/a.txt", "held", map[string]string{
		"If": "(<" + token + ">)",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = davDo(h, "UNLOCK", "/dav/docs/a.txt", "", map[string]string{
		"Lock-Token": "<" + token + ">",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = davDo(h, http.MethodPut, "/dav/docs/a.txt", "free", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLockRefresh(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "x")

	w := davDo(h, "LOCK", "/dav/docs/a.txt", lockBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")

	// empty-body LOCK with the If header refreshes
	w = davDo(h, "LOCK", "/dav/docs/a.txt", "", map[string]string{
		"If":      "(<" + token + ">)",
		"Timeout": "Second-3600",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), token)
}

func TestUnlockErrors(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, "UNLOCK", "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = davDo(h, "UNLOCK", "/dav/docs/a.txt", "", map[string]string{
		"Lock-Token": "<opaquelocktoken:unknown>",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProppatchForbidsMutation(t *testing.T) {
	h := newTestHandler(t, nil)
	davSeed(t, h, "/docs/a.txt", "x")

	w := davDo(h, "PROPPATCH", "/dav/docs/a.txt",
		`<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"/>`, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "403 Forbidden")

	w = davDo(h, "PROPPATCH", "/dav/docs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthScope(t *testing.T) {
	auth := func(r *http.Request) (*Identity, error) {
		user, pass, ok := r.BasicAuth()
		if !ok || pass != "secret" {
			return nil, errcode.ErrorCodeUnauthorized
		}
		return &Identity{UserRef: user, UserKind: "user", BasicPath: "/docs"}, nil
	}
	h := newTestHandler(t, auth)
	davSeed(t, h, "/docs/a.txt", "x")
	davSeed(t, h, "/media/b.txt", "y")

	w := davDo(h, http.MethodGet, "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	r := httptest.NewRequest(http.MethodGet, "/dav/docs/a.txt", nil)
	r.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/dav/media/b.txt", nil)
	r.SetBasicAuth("alice", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownMethod(t *testing.T) {
	h := newTestHandler(t, nil)

	w := davDo(h, "REPORT", "/dav/docs", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
