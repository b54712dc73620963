package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/link"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

func (app *App) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := queryPath(r)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if _, err := app.authorizePath(r, p); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	app.serveStream(w, r, p, r.URL.Query().Get("download") == "1")
}

// handleProxy serves /api/p/<virtualPath>: the gateway's native proxy
// endpoint that link resolution falls back to.
func (app *App) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := strings.TrimPrefix(r.URL.Path, link.ProxyPathPrefix)
	if p == "" || p[0] != '/' {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("malformed proxy path"))
		return
	}
	if _, err := app.authorizePath(r, p); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	app.serveStream(w, r, p, r.URL.Query().Get("download") == "1")
}

func (app *App) serveStream(w http.ResponseWriter, r *http.Request, fsPath string, forceDownload bool) {
	if err := ServeContent(w, r, app.FS, fsPath, forceDownload); err != nil {
		app.serveError(r.Context(), w, err)
	}
}

// ServeContent answers GET/HEAD for one virtual file with conditional and
// Range support, slicing in software when the driver cannot seek. The DAV
// surface shares it for native-proxy responses. An error return means no
// bytes were written yet and the caller still owns the response.
func ServeContent(w http.ResponseWriter, r *http.Request, fsys *fs.FileSystem, fsPath string, forceDownload bool) error {
	ctx := r.Context()

	desc, err := fsys.Download(ctx, fsPath)
	if err != nil {
		return err
	}

	if status := link.EvaluateConditionals(r.Header, desc.ETag, desc.LastModified); status != 0 {
		w.WriteHeader(status)
		return nil
	}

	contentType := desc.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(fsPath))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if desc.ETag != "" {
		w.Header().Set("ETag", desc.ETag)
	}
	if !desc.LastModified.IsZero() {
		w.Header().Set("Last-Modified", desc.LastModified.UTC().Format(http.TimeFormat))
	}
	if forceDownload {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", path.Base(fsPath)))
	}

	rng, err := link.ParseRange(r.Header.Get("Range"), desc.Size)
	if err != nil {
		var notSat link.ErrRangeNotSatisfiable
		if errors.As(err, &notSat) {
			if desc.Size >= 0 {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", desc.Size))
			}
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return nil
		}
		return err
	}

	if rng == nil {
		if desc.Size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(desc.Size, 10))
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return nil
		}
		rc, err := desc.Open(ctx, nil)
		if err != nil {
			return err
		}
		defer rc.Close()
		w.WriteHeader(http.StatusOK)
		copyStream(ctx, w, rc)
		return nil
	}

	switch {
	case desc.Size >= 0:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, desc.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	case rng.OpenEnded():
		// the extent is only known at EOF, so neither bound can be stated
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-/*", rng.Start))
	default:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", rng.Start, rng.End))
		w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusPartialContent)
		return nil
	}

	var rc io.ReadCloser
	if desc.SupportsRange {
		rc, err = desc.Open(ctx, rng)
	} else {
		rc, err = desc.Open(ctx, nil)
		if err == nil {
			rc = link.NewSliceReader(rc, rng.Start, rng.Length())
		}
	}
	if err != nil {
		return err
	}
	defer rc.Close()
	w.WriteHeader(http.StatusPartialContent)
	copyStream(ctx, w, rc)
	return nil
}

func copyStream(ctx context.Context, w io.Writer, rc io.Reader) {
	if _, err := io.Copy(w, rc); err != nil {
		// headers are out; the most we can do is log the broken stream
		dcontext.GetRequestLogger(ctx).WithError(err).Debugf("stream interrupted")
	}
}

func (app *App) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := queryPath(r)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	id, err := app.authorizePath(r, p)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}

	t, err := app.FS.Resolve(ctx, p)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	cfg, err := app.FS.Config(ctx, t)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}

	var expiresIn time.Duration
	if raw := r.URL.Query().Get("expiresIn"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("expiresIn must be a non-negative integer"))
			return
		}
		expiresIn = time.Duration(secs) * time.Second
	}

	resolved, err := app.Links.Resolve(ctx, link.Request{
		Mount:         t.Mount,
		Config:        cfg,
		Driver:        t.Driver,
		FsPath:        p,
		SubPath:       t.SubPath,
		ExpiresIn:     expiresIn,
		ForceDownload: r.URL.Query().Get("forceDownload") == "1",
		UserKind:      id.UserKind,
		UserRef:       id.UserRef,
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}

	data := map[string]interface{}{
		"url":  resolved.URL,
		"kind": resolved.Kind,
	}
	if resolved.ExpiresIn > 0 {
		data["expiresIn"] = int64(resolved.ExpiresIn / time.Second)
	}
	writeJSON(w, http.StatusOK, data)
}

func (app *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
