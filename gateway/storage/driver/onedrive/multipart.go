package onedrive

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
)

// MultipartInit opens a Graph upload session for the target path. The session
// URL in the response is pre-authenticated; chunk PUTs must not carry a
// bearer header or Graph rejects them.
func (d *driver) MultipartInit(ctx context.Context, subPath string, init storagedriver.MultipartInit) (*storagedriver.ProviderSession, error) {
	parent := path.Dir(subPath)
	if parent != "/" {
		fe, err := d.Stat(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !fe.IsDirectory {
			return nil, storagedriver.InvalidPathError{Path: parent, DriverName: driverName, Reason: "not a directory"}
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"item": map[string]interface{}{
			"@microsoft.graph.conflictBehavior": "replace",
			"name":                              path.Base(subPath),
		},
	})
	data, err := d.request(ctx, http.MethodPost, resourcePath(subPath)+":/createUploadSession", payload, "application/json")
	if err != nil {
		return nil, d.wrap("MultipartInit", subPath, err)
	}

	var sess struct {
		UploadURL          string   `json:"uploadUrl"`
		ExpirationDateTime string   `json:"expirationDateTime"`
		NextExpectedRanges []string `json:"nextExpectedRanges"`
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, d.wrap("MultipartInit", subPath, err)
	}
	if sess.UploadURL == "" {
		return nil, storagedriver.Error{
			DriverName: driverName,
			Op:         "MultipartInit",
			Enclosed:   fmt.Errorf("upload session: provider returned no session URL"),
		}
	}
	return &storagedriver.ProviderSession{
		Strategy:  storagedriver.StrategySingleSession,
		UploadURL: sess.UploadURL,
		Meta:      map[string]string{"expires": sess.ExpirationDateTime},
	}, nil
}

func (d *driver) MultipartPutChunk(ctx context.Context, sess *storagedriver.ProviderSession, _ int, contentRange string, body io.Reader, length int64) (*storagedriver.ChunkResult, error) {
	buf, err := io.ReadAll(io.LimitReader(body, length))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != length {
		return nil, fmt.Errorf("short chunk: read %d of %d bytes", len(buf), length)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sess.UploadURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.ContentLength = length
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return d.interpret(resp)
}

// MultipartProbe fetches the session's nextExpectedRanges without sending
// bytes; Graph answers a plain GET on the session URL with current state.
func (d *driver) MultipartProbe(ctx context.Context, sess *storagedriver.ProviderSession, _ int64) (*storagedriver.ChunkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.UploadURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, storagedriver.Error{
			DriverName: driverName,
			Op:         "MultipartProbe",
			Status:     resp.StatusCode,
			Enclosed:   fmt.Errorf("session probe: %s: %s", resp.Status, body),
		}
	}

	var status struct {
		NextExpectedRanges []string `json:"nextExpectedRanges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &storagedriver.ChunkResult{
		BytesAccepted:      acceptedFromRanges(status.NextExpectedRanges),
		NextExpectedRanges: status.NextExpectedRanges,
	}, nil
}

// interpret maps a session response: 200/201 carry the finished item, 202
// means keep going with nextExpectedRanges, 404 means the session lapsed.
func (d *driver) interpret(resp *http.Response) (*storagedriver.ChunkResult, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var it driveItem
		_ = json.NewDecoder(resp.Body).Decode(&it)
		return &storagedriver.ChunkResult{
			Completed:     true,
			BytesAccepted: it.Size,
			Result: &storagedriver.UploadResult{
				StoragePath: it.Name,
				ETag:        it.ETag,
				Size:        it.Size,
			},
		}, nil

	case http.StatusAccepted:
		var status struct {
			NextExpectedRanges []string `json:"nextExpectedRanges"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&status)
		return &storagedriver.ChunkResult{
			BytesAccepted:      acceptedFromRanges(status.NextExpectedRanges),
			NextExpectedRanges: status.NextExpectedRanges,
		}, nil

	case http.StatusNotFound:
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, storagedriver.Error{
			DriverName: driverName,
			Op:         "MultipartPutChunk",
			Status:     resp.StatusCode,
			Enclosed:   fmt.Errorf("upload session: %s: %s", resp.Status, body),
		}
	}
}

// acceptedFromRanges derives the contiguous high-water mark from the first
// expected range: "12345-" means bytes 0..12344 landed.
func acceptedFromRanges(ranges []string) int64 {
	if len(ranges) == 0 {
		return -1
	}
	first := ranges[0]
	if idx := strings.IndexByte(first, '-'); idx > 0 {
		first = first[:idx]
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return -1
	}
	return start
}

// MultipartComplete validates state only: the final chunk's 2xx finalized the
// item. Fresh metadata comes from a follow-up stat.
func (d *driver) MultipartComplete(ctx context.Context, subPath string, _ *storagedriver.ProviderSession, _ []storagedriver.Part) (*storagedriver.UploadResult, error) {
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

// MultipartAbort deletes the session URL, which cancels the pending upload.
func (d *driver) MultipartAbort(ctx context.Context, _ string, sess *storagedriver.ProviderSession) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sess.UploadURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
