// Package onedrive provides a storagedriver.StorageDriver over the Microsoft
// Graph API. OneDrive addresses items by path directly ("/me/drive/root:/a/b"),
// so no ID walker is needed; IDs are only fetched when a verb requires a
// parentReference.
//
// Parameters:
//
//	refresh_token  : refresh token, or an HTTP URL serving service-account keys
//	client_id      : OAuth client id
//	client_secret  : OAuth client secret
//	token_endpoint : token exchange endpoint (default Microsoft common)
//	online_api     : third-party token service address (online mode)
package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
	"github.com/vfsgate/vfsgate/gateway/storage/oauth"
)

const (
	driverName = "onedrive"

	// graphURL is the API endpoint of Microsoft Graph.
	graphURL = "https://graph.microsoft.com/v1.0"

	defaultTokenEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

	// Pre-authenticated downloadUrl values stay valid for about an hour.
	downloadURLLifetime = time.Hour
)

func init() {
	factory.Register(driverName, &onedriveDriverFactory{})
}

type onedriveDriverFactory struct{}

func (f *onedriveDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

type driver struct {
	tokens *oauth.Manager
	httpc  *http.Client
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by OneDrive.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver with a given parameters map.
func FromParameters(_ context.Context, parameters map[string]interface{}) (*Driver, error) {
	getString := func(key string) string {
		if v, ok := parameters[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	refreshToken := getString("refresh_token")
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh_token parameter provided")
	}
	tokenEndpoint := getString("token_endpoint")
	if tokenEndpoint == "" {
		tokenEndpoint = defaultTokenEndpoint
	}

	d := &driver{
		tokens: oauth.NewManager(oauth.Config{
			RefreshToken:     refreshToken,
			ClientID:         getString("client_id"),
			ClientSecret:     getString("client_secret"),
			TokenEndpoint:    tokenEndpoint,
			OnlineAPIAddress: getString("online_api"),
			Scopes:           []string{"files.readwrite.all", "offline_access"},
		}),
		httpc: http.DefaultClient,
	}
	return &Driver{baseEmbed{base.Base{StorageDriver: d}}}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) Capabilities() storagedriver.Capability {
	return storagedriver.CapReader | storagedriver.CapWriter |
		storagedriver.CapMultipart | storagedriver.CapAtomic |
		storagedriver.CapDirectLink | storagedriver.CapProxy |
		storagedriver.CapSearch
}

// --- Graph plumbing --------------------------------------------------------

// driveItem is the subset of the Graph DriveItem resource the driver reads.
type driveItem struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Size        int64      `json:"size,omitempty"`
	ETag        string     `json:"eTag,omitempty"`
	ModTime     *time.Time `json:"lastModifiedDateTime,omitempty"`
	Folder      *struct {
		ChildCount int64 `json:"childCount,omitempty"`
	} `json:"folder,omitempty"`
	File *struct {
		MimeType string `json:"mimeType,omitempty"`
	} `json:"file,omitempty"`
	Parent *struct {
		ID string `json:"id,omitempty"`
	} `json:"parentReference,omitempty"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl,omitempty"`
}

func (it *driveItem) isDir() bool {
	return it.Folder != nil
}

// resourcePath addresses an item by path: "/me/drive/root:/some%20path".
func resourcePath(subPath string) string {
	if subPath == "/" {
		return "/me/drive/root"
	}
	return "/me/drive/root:" + escapePath(subPath)
}

func childrenPath(subPath string) string {
	if subPath == "/" {
		return resourcePath(subPath) + "/children"
	}
	return resourcePath(subPath) + ":/children"
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

type graphError struct {
	Status int
	Body   []byte
}

func (e *graphError) Error() string {
	return fmt.Sprintf("graph api: status %d: %s", e.Status, e.Body)
}

// request performs one authenticated Graph call, retrying once through the
// token manager on a 401.
func (d *driver) request(ctx context.Context, method, resource string, body []byte, contentType string) ([]byte, error) {
	var out []byte
	err := d.tokens.WithToken(ctx, func(token string) error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, graphURL+resource, rdr)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return oauth.ErrUnauthorized
		}
		if resp.StatusCode >= 400 {
			return &graphError{Status: resp.StatusCode, Body: data}
		}
		out = data
		return nil
	})
	return out, err
}

func (d *driver) wrap(op, subPath string, err error) error {
	if err == nil {
		return nil
	}
	if gerr, ok := err.(*graphError); ok {
		if gerr.Status == http.StatusNotFound {
			return storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return storagedriver.Error{DriverName: driverName, Op: op, Status: gerr.Status, Enclosed: err}
	}
	return storagedriver.Error{DriverName: driverName, Op: op, Enclosed: err}
}

func (d *driver) getItem(ctx context.Context, subPath string) (*driveItem, error) {
	data, err := d.request(ctx, http.MethodGet, resourcePath(subPath), nil, "")
	if err != nil {
		return nil, d.wrap("Stat", subPath, err)
	}
	var it driveItem
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, d.wrap("Stat", subPath, err)
	}
	return &it, nil
}

func fileEntry(subPath string, it *driveItem) storagedriver.FileEntry {
	fe := storagedriver.FileEntry{
		FsPath:      subPath,
		Name:        it.Name,
		IsDirectory: it.isDir(),
		ETag:        it.ETag,
		StorageType: driverName,
	}
	if it.ModTime != nil {
		fe.Modified = *it.ModTime
	}
	if fe.IsDirectory {
		fe.MimeType = storagedriver.DirectoryMimeType
	} else {
		fe.Size = it.Size
		fe.MimeType = "application/octet-stream"
		if it.File != nil && it.File.MimeType != "" {
			fe.MimeType = it.File.MimeType
		}
	}
	return fe
}

// --- contract --------------------------------------------------------------

func (d *driver) List(ctx context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	var entries []storagedriver.FileEntry
	resource := childrenPath(subPath)
	for resource != "" {
		data, err := d.request(ctx, http.MethodGet, resource, nil, "")
		if err != nil {
			return nil, d.wrap("List", subPath, err)
		}
		var page struct {
			Value    []*driveItem `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, d.wrap("List", subPath, err)
		}
		for _, it := range page.Value {
			entries = append(entries, fileEntry(path.Join(subPath, it.Name), it))
		}
		resource = strings.TrimPrefix(page.NextLink, graphURL)
		if resource == page.NextLink {
			// next link pointed somewhere unexpected
			break
		}
	}
	return entries, nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileEntry, error) {
	it, err := d.getItem(ctx, subPath)
	if err != nil {
		return storagedriver.FileEntry{}, err
	}
	fe := fileEntry(subPath, it)
	if subPath == "/" {
		fe.Name = "/"
		fe.IsDirectory = true
		fe.MimeType = storagedriver.DirectoryMimeType
	}
	return fe, nil
}

func (d *driver) Exists(ctx context.Context, subPath string) (bool, error) {
	_, err := d.Stat(ctx, subPath)
	if err == nil {
		return true, nil
	}
	if storagedriver.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *driver) Download(ctx context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	it, err := d.getItem(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if it.isDir() {
		return nil, storagedriver.InvalidPathError{Path: subPath, DriverName: driverName, Reason: "is a directory"}
	}
	fe := fileEntry(subPath, it)
	downloadURL := it.DownloadURL

	return &storagedriver.StreamDescriptor{
		Size:          fe.Size,
		ContentType:   fe.MimeType,
		ETag:          fe.ETag,
		LastModified:  fe.Modified,
		SupportsRange: true,
		Open: func(ctx context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			// downloadUrl is pre-authenticated; no bearer header.
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
			if err != nil {
				return nil, err
			}
			if rng != nil {
				req.Header.Set("Range", rng.RequestHeader())
			}
			resp, err := d.httpc.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
				resp.Body.Close()
				return nil, storagedriver.Error{
					DriverName: driverName,
					Op:         "Download",
					Status:     resp.StatusCode,
					Enclosed:   fmt.Errorf("content fetch returned %s", resp.Status),
				}
			}
			return resp.Body, nil
		},
	}, nil
}

func (d *driver) Upload(ctx context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	parent := path.Dir(subPath)
	if parent != "/" {
		exists, err := d.Exists(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !exists {
			if !opts.AutoCreateParents {
				return nil, storagedriver.PathNotFoundError{Path: parent, DriverName: driverName}
			}
			if err := d.mkdirAll(ctx, parent); err != nil {
				return nil, err
			}
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, opts.ContentLength))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != opts.ContentLength {
		return nil, fmt.Errorf("short body: read %d of %d bytes", len(data), opts.ContentLength)
	}

	resp, err := d.request(ctx, http.MethodPut, resourcePath(subPath)+":/content", data, opts.ContentType)
	if err != nil {
		return nil, d.wrap("Upload", subPath, err)
	}
	var it driveItem
	_ = json.Unmarshal(resp, &it)
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        it.ETag,
		Size:        opts.ContentLength,
	}, nil
}

func (d *driver) mkdirAll(ctx context.Context, subPath string) error {
	segs := strings.Split(strings.Trim(subPath, "/"), "/")
	cur := "/"
	for _, seg := range segs {
		next := path.Join(cur, seg)
		if _, err := d.Mkdir(ctx, next); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

func (d *driver) Mkdir(ctx context.Context, subPath string) (storagedriver.MkdirResult, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"name":                              path.Base(subPath),
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": "fail",
	})
	_, err := d.request(ctx, http.MethodPost, childrenPath(path.Dir(subPath)), payload, "application/json")
	if err != nil {
		if gerr, ok := err.(*graphError); ok && gerr.Status == http.StatusConflict {
			return storagedriver.MkdirResult{AlreadyExists: true}, nil
		}
		return storagedriver.MkdirResult{}, d.wrap("Mkdir", subPath, err)
	}
	return storagedriver.MkdirResult{}, nil
}

func (d *driver) Remove(ctx context.Context, subPath string) error {
	_, err := d.request(ctx, http.MethodDelete, resourcePath(subPath), nil, "")
	return d.wrap("Remove", subPath, err)
}

func (d *driver) Rename(ctx context.Context, oldSubPath, newSubPath string) error {
	patch := map[string]interface{}{
		"name":                              path.Base(newSubPath),
		"@microsoft.graph.conflictBehavior": "replace",
	}
	if path.Dir(oldSubPath) != path.Dir(newSubPath) {
		parent, err := d.getItem(ctx, path.Dir(newSubPath))
		if err != nil {
			return err
		}
		patch["parentReference"] = map[string]string{"id": parent.ID}
	}
	payload, _ := json.Marshal(patch)
	_, err := d.request(ctx, http.MethodPatch, resourcePath(oldSubPath), payload, "application/json")
	return d.wrap("Rename", oldSubPath, err)
}

// Copy issues the provider's async copy and polls the monitor URL until the
// provider reports a terminal state. Graph copies folders recursively.
func (d *driver) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	fail := func(err error) (storagedriver.CopyResult, error) {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}

	if opts.SkipExisting {
		exists, err := d.Exists(ctx, dstSubPath)
		if err != nil {
			return fail(err)
		}
		if exists {
			return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
		}
	}

	dstParent, err := d.getItem(ctx, path.Dir(dstSubPath))
	if err != nil {
		return fail(err)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"name":            path.Base(dstSubPath),
		"parentReference": map[string]string{"id": dstParent.ID},
	})

	var monitorURL string
	err = d.tokens.WithToken(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			graphURL+resourcePath(srcSubPath)+":/copy", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			return oauth.ErrUnauthorized
		}
		if resp.StatusCode != http.StatusAccepted {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &graphError{Status: resp.StatusCode, Body: body}
		}
		monitorURL = resp.Header.Get("Location")
		return nil
	})
	if err != nil {
		werr := d.wrap("Copy", srcSubPath, err)
		return fail(werr)
	}

	if err := d.awaitCopy(ctx, monitorURL); err != nil {
		return fail(err)
	}
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func (d *driver) awaitCopy(ctx context.Context, monitorURL string) error {
	if monitorURL == "" {
		return nil
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, monitorURL, nil)
		if err != nil {
			return err
		}
		resp, err := d.httpc.Do(req)
		if err != nil {
			return err
		}
		var status struct {
			Status string `json:"status"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			return nil
		case "failed":
			msg := "copy failed"
			if status.Error != nil {
				msg = status.Error.Message
			}
			return storagedriver.Error{DriverName: driverName, Op: "Copy", Enclosed: fmt.Errorf("%s", msg)}
		}
	}
}

func (d *driver) BatchRemove(ctx context.Context, subPaths []string) (storagedriver.BatchRemoveResult, error) {
	var res storagedriver.BatchRemoveResult
	for _, p := range subPaths {
		if err := d.Remove(ctx, p); err != nil {
			res.Failed = append(res.Failed, storagedriver.BatchFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, p)
	}
	return res, nil
}

func (d *driver) Search(ctx context.Context, query string, opts storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	base := opts.SearchPath
	if base == "" {
		base = "/"
	}
	resource := resourcePath(base)
	if base != "/" {
		resource += ":"
	}
	resource += fmt.Sprintf("/search(q='%s')", url.PathEscape(strings.ReplaceAll(query, "'", "''")))
	if opts.MaxResults > 0 {
		resource += fmt.Sprintf("?$top=%d", opts.MaxResults)
	}

	data, err := d.request(ctx, http.MethodGet, resource, nil, "")
	if err != nil {
		return nil, d.wrap("Search", base, err)
	}
	var page struct {
		Value []*driveItem `json:"value"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, d.wrap("Search", base, err)
	}
	entries := make([]storagedriver.FileEntry, 0, len(page.Value))
	for _, it := range page.Value {
		entries = append(entries, fileEntry(path.Join(base, it.Name), it))
	}
	return entries, nil
}

// DownloadURL hands out the provider's pre-authenticated downloadUrl, which
// carries its own short-lived credentials.
func (d *driver) DownloadURL(ctx context.Context, subPath string, _ storagedriver.LinkOptions) (*storagedriver.Link, error) {
	it, err := d.getItem(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if it.isDir() {
		return nil, storagedriver.InvalidPathError{Path: subPath, DriverName: driverName, Reason: "is a directory"}
	}
	if it.DownloadURL == "" {
		return nil, storagedriver.CapabilityError{DriverName: driverName, Missing: storagedriver.CapDirectLink}
	}
	fe := fileEntry(subPath, it)
	return &storagedriver.Link{
		URL:          it.DownloadURL,
		Kind:         storagedriver.LinkDirect,
		ContentType:  fe.MimeType,
		ETag:         fe.ETag,
		LastModified: fe.Modified,
		ExpiresIn:    downloadURLLifetime,
	}, nil
}
