// Package handlers exposes the gateway over HTTP: the JSON filesystem API
// under /api/fs, the streaming proxy under /api/p, and the WebDAV surface
// mounted by the server bootstrap.
package handlers

import (
	"net/http"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/health"
	"github.com/vfsgate/vfsgate/gateway/link"
	"github.com/vfsgate/vfsgate/gateway/upload"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// App is the HTTP application state shared by all handlers.
type App struct {
	FS      *fs.FileSystem
	Uploads *upload.Manager
	Links   *link.Resolver

	keys    []AccessKey
	handler http.Handler
}

// Options configures optional surfaces of the app.
type Options struct {
	// Keys enables API-key authentication; empty leaves the API open.
	Keys []AccessKey
	// DAV, when set, is mounted under /dav.
	DAV http.Handler
	// Health, when set, backs /debug/health; nil serves a plain ok.
	Health *health.Registry
}

// NewApp wires the route table.
func NewApp(fsys *fs.FileSystem, uploads *upload.Manager, links *link.Resolver, opts Options) *App {
	app := &App{
		FS:      fsys,
		Uploads: uploads,
		Links:   links,
		keys:    opts.Keys,
	}

	router := mux.NewRouter()

	api := router.PathPrefix("/api/fs").Subrouter()
	api.HandleFunc("/list", app.handleList).Methods(http.MethodGet)
	api.HandleFunc("/stat", app.handleStat).Methods(http.MethodGet)
	api.HandleFunc("/search", app.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/download", app.handleDownload).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/mkdir", app.handleMkdir).Methods(http.MethodPost)
	api.HandleFunc("/rename", app.handleRename).Methods(http.MethodPost)
	api.HandleFunc("/copy", app.handleCopy).Methods(http.MethodPost)
	api.HandleFunc("/batch-delete", app.handleBatchDelete).Methods(http.MethodPost)
	api.HandleFunc("/upload-direct", app.handleUploadDirect).Methods(http.MethodPost)
	api.HandleFunc("/link", app.handleLink).Methods(http.MethodGet)

	mp := api.PathPrefix("/multipart").Subrouter()
	mp.HandleFunc("/init", app.handleMultipartInit).Methods(http.MethodPost)
	mp.HandleFunc("/upload-chunk", app.handleMultipartChunk).Methods(http.MethodPut)
	mp.HandleFunc("/complete", app.handleMultipartComplete).Methods(http.MethodPost)
	mp.HandleFunc("/abort", app.handleMultipartAbort).Methods(http.MethodPost)
	mp.HandleFunc("/list", app.handleMultipartList).Methods(http.MethodGet)
	mp.HandleFunc("/parts", app.handleMultipartParts).Methods(http.MethodGet)
	mp.HandleFunc("/refresh-urls", app.handleMultipartRefreshURLs).Methods(http.MethodPost)

	router.PathPrefix(link.ProxyPathPrefix + "/").
		HandlerFunc(app.handleProxy).
		Methods(http.MethodGet, http.MethodHead)

	if opts.Health != nil {
		router.Path("/debug/health").Handler(opts.Health.Handler()).Methods(http.MethodGet)
	} else {
		router.HandleFunc("/debug/health", app.handleHealth).Methods(http.MethodGet)
	}

	if opts.DAV != nil {
		router.PathPrefix("/dav").Handler(opts.DAV)
	}

	app.handler = ghandlers.RecoveryHandler(ghandlers.PrintRecoveryStack(true))(router)
	return app
}

// ServeHTTP instruments the request context and logs completion.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := dcontext.WithRequest(r.Context(), r)
	rw := dcontext.NewResponseWriter(w)

	app.handler.ServeHTTP(rw, r.WithContext(ctx))

	status := rw.Status
	if status == 0 {
		status = http.StatusOK
	}
	dcontext.GetRequestLogger(ctx).Debugf("%s %s %d %dB %v",
		r.Method, r.URL.Path, status, rw.Written, dcontext.Since(ctx))
}
