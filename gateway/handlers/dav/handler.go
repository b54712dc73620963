// Package dav serves the WebDAV surface: RFC 4918 verbs over the
// filesystem facade, with class-2 locking and mount-policy link dispatch
// for GET.
package dav

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/handlers"
	"github.com/vfsgate/vfsgate/gateway/link"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// PUT handling modes. Chunked streams the body straight to the driver;
// single buffers the whole body first, for providers that reject chunked
// transfer encoding.
const (
	PutModeChunked = "chunked"
	PutModeSingle  = "single"
)

const davPrefix = "/dav"

// Identity is the authenticated caller; BasicPath scopes it to a virtual
// path prefix.
type Identity struct {
	UserRef   string
	UserKind  string
	BasicPath string
}

// AuthFunc authenticates a request. A nil AuthFunc admits everyone.
type AuthFunc func(r *http.Request) (*Identity, error)

// Handler implements the /dav surface.
type Handler struct {
	FS      *fs.FileSystem
	Links   *link.Resolver
	PutMode string
	Auth    AuthFunc

	locks *lockTable
}

// NewHandler builds the DAV handler. putMode defaults to chunked.
func NewHandler(fsys *fs.FileSystem, links *link.Resolver, putMode string, auth AuthFunc) *Handler {
	if putMode == "" {
		putMode = PutModeChunked
	}
	return &Handler{
		FS:      fsys,
		Links:   links,
		PutMode: putMode,
		Auth:    auth,
		locks:   newLockTable(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fsPath := h.stripPrefix(r.URL.Path)
	if fsPath == "" {
		fsPath = "/"
	}

	id, err := h.authorize(r, fsPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(w)
	case "PROPFIND":
		h.handlePropfind(w, r, fsPath)
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r, fsPath, id)
	case http.MethodPut:
		h.handlePut(w, r, fsPath)
	case http.MethodDelete:
		h.handleDelete(w, r, fsPath)
	case "MKCOL":
		h.handleMkcol(w, r, fsPath)
	case "COPY":
		h.handleCopyMove(w, r, fsPath, false)
	case "MOVE":
		h.handleCopyMove(w, r, fsPath, true)
	case "LOCK":
		h.handleLock(w, r, fsPath)
	case "UNLOCK":
		h.handleUnlock(w, r)
	case "PROPPATCH":
		h.handleProppatch(w, r, fsPath)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) stripPrefix(p string) string {
	p = strings.TrimPrefix(p, davPrefix)
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return unescaped
}

func (h *Handler) authorize(r *http.Request, paths ...string) (*Identity, error) {
	if h.Auth == nil {
		return &Identity{UserKind: "anonymous"}, nil
	}
	id, err := h.Auth(r)
	if err != nil {
		return nil, err
	}
	if id.BasicPath != "" && id.BasicPath != "/" {
		prefix := strings.TrimRight(id.BasicPath, "/")
		for _, p := range paths {
			if p != prefix && !strings.HasPrefix(p, prefix+"/") {
				return nil, errcode.ErrorCodeForbidden
			}
		}
	}
	return id, nil
}

// serveError answers DAV clients with a bare status line; the JSON envelope
// is for the API surface only.
func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := fs.ToAPI(err)
	status := http.StatusInternalServerError
	if coder, ok := apiErr.(errcode.ErrorCoder); ok {
		status = coder.ErrorCode().Descriptor().HTTPStatusCode
	}
	logger := dcontext.GetRequestLogger(r.Context())
	if status >= 500 {
		logger.WithError(err).Errorf("dav %s %s failed", r.Method, r.URL.Path)
	} else {
		logger.Debugf("dav %s %s: %v", r.Method, r.URL.Path, apiErr)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="vfsgate"`)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) handleOptions(w http.ResponseWriter) {
	w.Header().Set("DAV", "1, 2")
	w.Header().Set("MS-Author-Via", "DAV")
	w.Header().Set("Allow",
		"OPTIONS, PROPFIND, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, LOCK, UNLOCK, PROPPATCH")
	w.WriteHeader(http.StatusOK)
}

// handleGet dispatches per the mount's webdav_policy: native proxy streams
// through the gateway, everything else answers with a 302 to the resolved
// URL.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, fsPath string, id *Identity) {
	ctx := r.Context()

	t, err := h.FS.Resolve(ctx, fsPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	entry, err := t.Driver.Stat(ctx, t.SubPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if entry.IsDirectory {
		// directory GET is not a thing in DAV; clients PROPFIND
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cfg, err := h.FS.Config(ctx, t)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	resolved, err := h.Links.Resolve(ctx, link.Request{
		Mount:     t.Mount,
		Config:    cfg,
		Driver:    t.Driver,
		FsPath:    fsPath,
		SubPath:   t.SubPath,
		UserKind:  id.UserKind,
		UserRef:   id.UserRef,
		DAV:       true,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	if resolved.Kind == storagedriver.LinkProxy {
		if err := handlers.ServeContent(w, r, h.FS, fsPath, false); err != nil {
			h.serveError(w, r, err)
		}
		return
	}
	http.Redirect(w, r, resolved.URL, http.StatusFound)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, fsPath string) {
	if !h.locks.allowed(fsPath, r.Header.Get("If")) {
		w.WriteHeader(http.StatusLocked)
		return
	}
	ctx := r.Context()

	body := io.Reader(r.Body)
	length := r.ContentLength
	if h.PutMode == PutModeSingle || length < 0 {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			h.serveError(w, r, err)
			return
		}
		body = bytes.NewReader(buf)
		length = int64(len(buf))
	}

	existed, err := h.FS.Exists(ctx, fsPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	name := fsPath[strings.LastIndexByte(fsPath, '/')+1:]
	_, err = h.FS.Upload(ctx, fsPath, body, storagedriver.UploadOptions{
		FileName:          name,
		ContentType:       r.Header.Get("Content-Type"),
		ContentLength:     length,
		AutoCreateParents: true,
	})
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, fsPath string) {
	if !h.locks.allowed(fsPath, r.Header.Get("If")) {
		w.WriteHeader(http.StatusLocked)
		return
	}
	ctx := r.Context()

	t, err := h.FS.Resolve(ctx, fsPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if t.SubPath == "/" {
		// deleting a mount point is an admin operation, not a DAV one
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := h.FS.Remove(ctx, fsPath); err != nil {
		h.serveError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, fsPath string) {
	if r.ContentLength > 0 {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	res, err := h.FS.Mkdir(r.Context(), fsPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if res.AlreadyExists {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// destinationPath extracts the virtual path from a DAV Destination header.
func (h *Handler) destinationPath(r *http.Request) (string, error) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", errcode.ErrorCodeValidation.WithArgs("missing Destination header")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errcode.ErrorCodeValidation.WithArgs("malformed Destination header")
	}
	dst := h.stripPrefix(u.Path)
	if dst == "" || dst[0] != '/' {
		return "", errcode.ErrorCodeValidation.WithArgs("Destination outside the DAV tree")
	}
	return dst, nil
}

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request, srcPath string, move bool) {
	ctx := r.Context()
	dstPath, err := h.destinationPath(r)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if _, err := h.authorize(r, dstPath); err != nil {
		h.serveError(w, r, err)
		return
	}
	if move && !h.locks.allowed(srcPath, r.Header.Get("If")) {
		w.WriteHeader(http.StatusLocked)
		return
	}
	if !h.locks.allowed(dstPath, r.Header.Get("If")) {
		w.WriteHeader(http.StatusLocked)
		return
	}

	overwrite := !strings.EqualFold(r.Header.Get("Overwrite"), "F")
	existed, err := h.FS.Exists(ctx, dstPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if existed && !overwrite {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if move {
		err = h.FS.Move(ctx, srcPath, dstPath)
	} else {
		_, err = h.FS.Copy(ctx, srcPath, dstPath, storagedriver.CopyOptions{})
	}
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	token := strings.Trim(r.Header.Get("Lock-Token"), "<>")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !h.locks.unlock(token) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// notFoundStatus reports whether err maps to 404, for the PROPFIND path.
func notFoundStatus(err error) bool {
	var pnf storagedriver.PathNotFoundError
	return errors.As(err, &pnf)
}
