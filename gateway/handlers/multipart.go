package handlers

import (
	"errors"
	"net/http"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/fs"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/upload"
)

// sessionView is the session projection handed to clients; provider-side
// artifacts (upload URLs, upload IDs) never leave the gateway.
type sessionView struct {
	ID                string               `json:"id"`
	FsPath            string               `json:"fsPath"`
	FileName          string               `json:"fileName"`
	FileSize          int64                `json:"fileSize"`
	Strategy          string               `json:"strategy"`
	PartSize          int64                `json:"partSize"`
	TotalParts        int                  `json:"totalParts"`
	BytesUploaded     int64                `json:"bytesUploaded"`
	NextExpectedRange string               `json:"nextExpectedRange,omitempty"`
	UploadedParts     []storagedriver.Part `json:"uploadedParts,omitempty"`
	Status            upload.Status        `json:"status"`
}

func viewOf(s *upload.Session) sessionView {
	return sessionView{
		ID:                s.ID,
		FsPath:            s.FsPath,
		FileName:          s.FileName,
		FileSize:          s.FileSize,
		Strategy:          s.Strategy,
		PartSize:          s.PartSize,
		TotalParts:        s.TotalParts,
		BytesUploaded:     s.BytesUploaded,
		NextExpectedRange: s.NextExpectedRange,
		UploadedParts:     s.UploadedParts,
		Status:            s.Status,
	}
}

// sessionDriver resolves the driver a stored session belongs to.
func (app *App) sessionDriver(r *http.Request, id string) (*upload.Session, storagedriver.StorageDriver, error) {
	ctx := r.Context()
	s, err := app.Uploads.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := app.authorizePath(r, s.FsPath); err != nil {
		return nil, nil, err
	}
	t, err := app.FS.Resolve(ctx, s.FsPath)
	if err != nil {
		return nil, nil, err
	}
	return s, t.Driver, nil
}

func (app *App) handleMultipartInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Path        string              `json:"path"`
		FileName    string              `json:"fileName"`
		FileSize    int64               `json:"fileSize"`
		PartSize    int64               `json:"partSize"`
		MimeType    string              `json:"mimeType"`
		Source      string              `json:"source"`
		Fingerprint *upload.Fingerprint `json:"fingerprint"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if body.FileName == "" || body.FileSize < 0 {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("fileName and a non-negative fileSize are required"))
		return
	}

	target := body.Path + "/" + body.FileName
	if body.Path == "/" {
		target = "/" + body.FileName
	}
	id, err := app.authorizePath(r, target)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}

	t, err := app.FS.Resolve(ctx, target)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	cfg, err := app.FS.Config(ctx, t)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	partSize := body.PartSize
	if partSize == 0 && cfg.ChunkSizeMB > 0 {
		partSize = int64(cfg.ChunkSizeMB) << 20
	}

	res, err := app.Uploads.Initialize(ctx, upload.InitRequest{
		Driver:          t.Driver,
		StorageType:     t.Driver.Name(),
		StorageConfigID: cfg.ID,
		MountID:         t.Mount.ID,
		FsPath:          fs.JoinPath(t.Mount.Path, t.SubPath),
		SubPath:         t.SubPath,
		Source:          body.Source,
		FileName:        body.FileName,
		FileSize:        body.FileSize,
		PartSize:        partSize,
		MimeType:        body.MimeType,
		UserRef:         id.UserRef,
		UserKind:        id.UserKind,
		Fingerprint:     body.Fingerprint,
	})
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": viewOf(res.Session),
		"resumed": res.Resumed,
	})
}

func (app *App) handleMultipartChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing upload_id"))
		return
	}
	contentRange := r.Header.Get("Content-Range")
	if contentRange == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing Content-Range header"))
		return
	}
	if r.ContentLength < 0 {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("Content-Length is required"))
		return
	}

	_, driver, err := app.sessionDriver(r, uploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	status, err := app.Uploads.ProxyChunk(ctx, driver, uploadID, contentRange, r.Body, r.ContentLength)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (app *App) handleMultipartComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		UploadID string               `json:"uploadId"`
		Parts    []storagedriver.Part `json:"parts"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if body.UploadID == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing uploadId"))
		return
	}

	_, driver, err := app.sessionDriver(r, body.UploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	result, err := app.Uploads.Complete(ctx, driver, body.UploadID, body.Parts)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (app *App) handleMultipartAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		UploadID string `json:"uploadId"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if body.UploadID == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing uploadId"))
		return
	}

	_, driver, err := app.sessionDriver(r, body.UploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if err := app.Uploads.Abort(ctx, driver, body.UploadID); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (app *App) handleMultipartList(w http.ResponseWriter, r *http.Request) {
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

	sessions, err := app.Uploads.ListActive(ctx, p)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

func (app *App) handleMultipartParts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing uploadId"))
		return
	}

	_, driver, err := app.sessionDriver(r, uploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	parts, err := app.Uploads.ListParts(ctx, driver, uploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if parts == nil {
		parts = []storagedriver.Part{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"parts": parts})
}

// handleMultipartRefreshURLs refreshes presigned part URLs for drivers that
// sign parts (S3); offset-based providers instead get a reconciled session
// with fresh expected ranges.
func (app *App) handleMultipartRefreshURLs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		UploadID    string `json:"uploadId"`
		PartNumbers []int  `json:"partNumbers"`
	}
	if err := decodeBody(r, &body); err != nil {
		app.serveError(ctx, w, err)
		return
	}
	if body.UploadID == "" {
		app.serveError(ctx, w, errcode.ErrorCodeValidation.WithArgs("missing uploadId"))
		return
	}

	_, driver, err := app.sessionDriver(r, body.UploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}

	urls, err := app.Uploads.PartURLs(ctx, driver, body.UploadID, body.PartNumbers)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"urls": urls})
		return
	}
	var capErr storagedriver.CapabilityError
	if !errors.As(err, &capErr) {
		app.serveError(ctx, w, err)
		return
	}

	s, err := app.Uploads.Refresh(ctx, driver, body.UploadID)
	if err != nil {
		app.serveError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": viewOf(s)})
}
