package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/oauth"
)

const resumableInitURL = "https://www.googleapis.com/upload/drive/v3/files?uploadType=resumable&fields=id,name,size,md5Checksum"

// MultipartInit opens a Drive resumable session. The provider hands back a
// session URL in the Location header; all chunk traffic goes there.
func (d *driver) MultipartInit(ctx context.Context, subPath string, init storagedriver.MultipartInit) (*storagedriver.ProviderSession, error) {
	parent := path.Dir(subPath)
	parentID, err := d.resolveDir(ctx, parent)
	if err != nil {
		return nil, err
	}

	name := path.Base(subPath)
	if init.FileName != "" {
		name = init.FileName
	}
	meta, err := json.Marshal(map[string]interface{}{
		"name":    name,
		"parents": []string{parentID},
	})
	if err != nil {
		return nil, err
	}

	var uploadURL string
	err = d.tokens.WithToken(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, resumableInitURL, bytes.NewReader(meta))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(init.FileSize, 10))
		if init.ContentType != "" {
			req.Header.Set("X-Upload-Content-Type", init.ContentType)
		}
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			return oauth.ErrUnauthorized
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return storagedriver.Error{
				DriverName: driverName,
				Op:         "MultipartInit",
				Status:     resp.StatusCode,
				Enclosed:   fmt.Errorf("resumable init: %s: %s", resp.Status, body),
			}
		}
		uploadURL = resp.Header.Get("Location")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uploadURL == "" {
		return nil, storagedriver.Error{
			DriverName: driverName,
			Op:         "MultipartInit",
			Enclosed:   fmt.Errorf("resumable init: provider returned no session URL"),
		}
	}

	return &storagedriver.ProviderSession{
		Strategy:  storagedriver.StrategySingleSession,
		UploadURL: uploadURL,
	}, nil
}

// MultipartPutChunk forwards one chunk to the session URL, signing with a
// fresh access token and passing the client's Content-Range through.
func (d *driver) MultipartPutChunk(ctx context.Context, sess *storagedriver.ProviderSession, _ int, contentRange string, body io.Reader, length int64) (*storagedriver.ChunkResult, error) {
	buf, err := io.ReadAll(io.LimitReader(body, length))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != length {
		return nil, fmt.Errorf("short chunk: read %d of %d bytes", len(buf), length)
	}

	var result *storagedriver.ChunkResult
	err = d.tokens.WithToken(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sess.UploadURL, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.ContentLength = length
		if contentRange != "" {
			req.Header.Set("Content-Range", contentRange)
		}
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		result, err = d.interpret(resp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MultipartProbe asks the session for its current offset with a zero-byte
// PUT carrying "bytes */total".
func (d *driver) MultipartProbe(ctx context.Context, sess *storagedriver.ProviderSession, fileSize int64) (*storagedriver.ChunkResult, error) {
	var result *storagedriver.ChunkResult
	err := d.tokens.WithToken(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sess.UploadURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		result, err = d.interpret(resp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// interpret decodes a resumable-session response: 2xx means the whole upload
// landed, 308 means keep going (Range carries the high-water mark), 404 means
// the provider forgot the session.
func (d *driver) interpret(resp *http.Response) (*storagedriver.ChunkResult, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var f struct {
			Id          string `json:"id"`
			Name        string `json:"name"`
			Size        int64  `json:"size,string"`
			Md5Checksum string `json:"md5Checksum"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&f)
		return &storagedriver.ChunkResult{
			Completed:     true,
			BytesAccepted: f.Size,
			Result: &storagedriver.UploadResult{
				StoragePath: f.Name,
				ETag:        f.Md5Checksum,
				Size:        f.Size,
			},
		}, nil

	case resp.StatusCode == 308:
		accepted := int64(-1)
		if rng := resp.Header.Get("Range"); rng != "" {
			// "bytes=0-524287"
			if idx := strings.LastIndexByte(rng, '-'); idx >= 0 {
				if last, err := strconv.ParseInt(rng[idx+1:], 10, 64); err == nil {
					accepted = last + 1
				}
			}
		}
		return &storagedriver.ChunkResult{BytesAccepted: accepted}, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, oauth.ErrUnauthorized

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, storagedriver.Error{
			DriverName: driverName,
			Op:         "MultipartPutChunk",
			Status:     resp.StatusCode,
			Enclosed:   fmt.Errorf("resumable session: %s: %s", resp.Status, body),
		}
	}
}

// MultipartComplete is a no-op on the provider side: the final chunk's 2xx
// already finalized the file. The object is stat'd to return fresh metadata.
func (d *driver) MultipartComplete(ctx context.Context, subPath string, _ *storagedriver.ProviderSession, _ []storagedriver.Part) (*storagedriver.UploadResult, error) {
	d.invalidateSubtree(subPath)
	fe, err := d.Stat(ctx, subPath)
	if err != nil {
		return nil, err
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        fe.ETag,
		Size:        fe.Size,
	}, nil
}

// MultipartAbort cancels the provider session. Drive treats a DELETE on the
// session URL as cancellation; a session that already lapsed is fine.
func (d *driver) MultipartAbort(ctx context.Context, _ string, sess *storagedriver.ProviderSession) error {
	return d.tokens.WithToken(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sess.UploadURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}
