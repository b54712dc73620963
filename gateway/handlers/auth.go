package handlers

import (
	"net/http"
	"strings"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
)

// AccessKey scopes one API credential. BasicPath limits the key to a virtual
// path prefix; empty grants the whole tree.
type AccessKey struct {
	Key       string
	BasicPath string
	UserRef   string
	UserKind  string
}

func requestKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// identity resolves the caller. With no keys configured every caller is
// anonymous with full access.
func (app *App) identity(r *http.Request) (*AccessKey, error) {
	if len(app.keys) == 0 {
		return &AccessKey{UserKind: "anonymous"}, nil
	}
	presented := requestKey(r)
	if presented == "" {
		return nil, errcode.ErrorCodeUnauthorized
	}
	for i := range app.keys {
		if app.keys[i].Key == presented {
			return &app.keys[i], nil
		}
	}
	return nil, errcode.ErrorCodeUnauthorized
}

// authorizePath checks the caller's identity against the path-prefix rule
// and returns the identity for downstream attribution.
func (app *App) authorizePath(r *http.Request, paths ...string) (*AccessKey, error) {
	id, err := app.identity(r)
	if err != nil {
		return nil, err
	}
	if id.BasicPath == "" || id.BasicPath == "/" {
		return id, nil
	}
	prefix := strings.TrimRight(id.BasicPath, "/")
	for _, p := range paths {
		if p != prefix && !strings.HasPrefix(p, prefix+"/") {
			return nil, errcode.ErrorCodeForbidden
		}
	}
	return id, nil
}
