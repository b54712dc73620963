package handlers

import (
	"net/http"
	"strconv"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

func (app *App) handleList(w http.ResponseWriter, r *http.Request) {
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

	opts := storagedriver.ListOptions{Refresh: r.URL.Query().Get("refresh") == "1"}
	entries, err := app.FS.List(ctx, p, opts)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []storagedriver.FileEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":  p,
		"items": entries,
	})
}

func (app *App) handleStat(w http.ResponseWriter, r *http.Request) {
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

	entry, err := app.FS.Stat(ctx, p)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	data := map[string]interface{}{"entry": entry}
	if t, err := app.FS.Resolve(ctx, p); err == nil {
		data["mount"] = map[string]interface{}{
			"mountId":      t.Mount.ID,
			"storageType":  t.Driver.Name(),
			"webProxy":     t.Mount.WebProxy,
			"webdavPolicy": t.Mount.WebDAVPolicy,
		}
	}
	writeJSON(w, http.StatusOK, data)
}

func (app *App) handleSearch(w http.ResponseWriter, r *http.Request) {
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
	query := r.URL.Query().Get("q")
	if query == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing query parameter q"))
		return
	}

	opts := storagedriver.SearchOptions{Refresh: r.URL.Query().Get("refresh") == "1"}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("limit must be a positive integer"))
			return
		}
		opts.MaxResults = n
	}
	entries, err := app.FS.Search(ctx, p, query, opts)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []storagedriver.FileEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func (app *App) handleMkdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if _, err := app.authorizePath(r, body.Path); err != nil {
		app.serveError(ctx, w, err)
		return
	}

	res, err := app.FS.Mkdir(ctx, body.Path)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (app *App) handleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		OldPath string `json:"oldPath"`
		NewPath string `json:"newPath"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if _, err := app.authorizePath(r, body.OldPath, body.NewPath); err != nil {
		app.serveError(ctx, w, err)
		return
	}

	if err := app.FS.Rename(ctx, body.OldPath, body.NewPath); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (app *App) handleCopy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		SourcePath   string `json:"sourcePath"`
		TargetPath   string `json:"targetPath"`
		SkipExisting bool   `json:"skipExisting"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if _, err := app.authorizePath(r, body.SourcePath, body.TargetPath); err != nil {
		app.serveError(ctx, w, err)
		return
	}

	res, err := app.FS.Copy(ctx, body.SourcePath, body.TargetPath, storagedriver.CopyOptions{
		SkipExisting: body.SkipExisting,
	})
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (app *App) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Paths []string `json:"paths"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if len(body.Paths) == 0 {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("paths must not be empty"))
		return
	}
	if _, err := app.authorizePath(r, body.Paths...); err != nil {
		app.serveError(ctx, w, err)
		return
	}

	res, err := app.FS.BatchRemove(ctx, body.Paths)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUploadDirect streams the request body straight into the target
// directory. The file lands at <path>/<X-FS-Filename>.
func (app *App) handleUploadDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dir, err := queryPath(r)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	fileName := r.Header.Get("X-FS-Filename")
	if fileName == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing X-FS-Filename header"))
		return
	}
	if r.ContentLength < 0 {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("Content-Length is required"))
		return
	}

	target := dir + "/" + fileName
	if dir == "/" {
		target = "/" + fileName
	}
	if _, err := app.authorizePath(r, target); err != nil {
		app.serveError(ctx, w, err)
		return
	}

	res, err := app.FS.Upload(ctx, target, r.Body, storagedriver.UploadOptions{
		FileName:      fileName,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
	})
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
