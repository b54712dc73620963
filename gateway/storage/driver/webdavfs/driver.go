// Package webdavfs provides a storagedriver.StorageDriver over a remote
// WebDAV server, speaking the provider's own HTTP verbs (PROPFIND, MKCOL,
// COPY, MOVE, DELETE) through the gowebdav client and streaming GETs through
// a raw http client so Range requests pass through untouched.
package webdavfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/studio-b12/gowebdav"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
	"github.com/vfsgate/vfsgate/internal/dcontext"
	"github.com/vfsgate/vfsgate/internal/redact"
)

const driverName = "webdav"

func init() {
	factory.Register(driverName, &webdavDriverFactory{})
}

type webdavDriverFactory struct{}

func (f *webdavDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

type driver struct {
	endpoint   string
	username   string
	password   string
	customHost string

	client *gowebdav.Client
	httpc  *http.Client

	// probeOnce runs the one-time connection test: DAV compliance classes
	// and whether the remote honors Range.
	probeOnce     sync.Once
	davCompliance string
	rangeOK       bool
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by a remote WebDAV server.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver with a given parameters map.
// Required parameters:
// - endpoint
// Optional:
// - username, password
// - custom_host (public base URL enabling direct links)
func FromParameters(_ context.Context, parameters map[string]interface{}) (*Driver, error) {
	getString := func(key string) string {
		if v, ok := parameters[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	endpoint := getString("endpoint")
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint parameter provided")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	d := &driver{
		endpoint:   strings.TrimRight(endpoint, "/"),
		username:   getString("username"),
		password:   getString("password"),
		customHost: strings.TrimRight(getString("custom_host"), "/"),
		httpc:      &http.Client{Timeout: 0},
	}
	d.client = gowebdav.NewClient(d.endpoint, d.username, d.password)
	redact.AddSecret(d.password)

	return &Driver{baseEmbed{base.Base{StorageDriver: d}}}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) Capabilities() storagedriver.Capability {
	caps := storagedriver.CapReader | storagedriver.CapWriter |
		storagedriver.CapAtomic | storagedriver.CapProxy
	if d.customHost != "" {
		caps |= storagedriver.CapDirectLink
	}
	return caps
}

// probe runs the once-per-instance connection test: an OPTIONS for the DAV
// compliance classes and a HEAD for Accept-Ranges.
func (d *driver) probe(ctx context.Context) {
	d.probeOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodOptions, d.endpoint+"/", nil)
		if err != nil {
			return
		}
		d.auth(req)
		if resp, err := d.httpc.Do(req); err == nil {
			d.davCompliance = resp.Header.Get("Dav")
			resp.Body.Close()
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodHead, d.endpoint+"/", nil)
		if err != nil {
			return
		}
		d.auth(req)
		if resp, err := d.httpc.Do(req); err == nil {
			d.rangeOK = strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes")
			resp.Body.Close()
		}
		dcontext.GetLogger(ctx).Debugf("webdav: probed %s: dav=%q ranges=%v",
			d.endpoint, d.davCompliance, d.rangeOK)
	})
}

func (d *driver) auth(req *http.Request) {
	if d.username != "" || d.password != "" {
		req.SetBasicAuth(d.username, d.password)
	}
}

func (d *driver) remoteURL(subPath string) string {
	return d.endpoint + escapePath(subPath)
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func mimeFor(p string) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (d *driver) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return storagedriver.PathNotFoundError{DriverName: driverName}
	}
	return storagedriver.Error{DriverName: driverName, Op: op, Enclosed: err}
}

func isNotFound(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	return gowebdav.IsErrNotFound(err)
}

func fileEntry(subPath string, fi os.FileInfo) storagedriver.FileEntry {
	fe := storagedriver.FileEntry{
		FsPath:      subPath,
		Name:        fi.Name(),
		IsDirectory: fi.IsDir(),
		Modified:    fi.ModTime(),
		StorageType: driverName,
	}
	if fe.Name == "" {
		fe.Name = path.Base(subPath)
	}
	if fi.IsDir() {
		fe.MimeType = storagedriver.DirectoryMimeType
	} else {
		fe.Size = fi.Size()
		fe.MimeType = mimeFor(subPath)
		if wf, ok := fi.(gowebdav.File); ok {
			if ct := wf.ContentType(); ct != "" {
				fe.MimeType = ct
			}
			fe.ETag = wf.ETag()
		}
	}
	return fe
}

func (d *driver) List(ctx context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	d.probe(ctx)
	infos, err := d.client.ReadDir(subPath)
	if err != nil {
		if isNotFound(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, d.wrap("List", err)
	}
	entries := make([]storagedriver.FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, fileEntry(path.Join(subPath, fi.Name()), fi))
	}
	return entries, nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileEntry, error) {
	d.probe(ctx)
	if subPath == "/" {
		return storagedriver.FileEntry{
			FsPath:      "/",
			Name:        "/",
			IsDirectory: true,
			MimeType:    storagedriver.DirectoryMimeType,
			StorageType: driverName,
		}, nil
	}
	fi, err := d.client.Stat(subPath)
	if err != nil {
		if isNotFound(err) {
			return storagedriver.FileEntry{}, storagedriver.PathNotFoundError{Path: subPath}
		}
		return storagedriver.FileEntry{}, d.wrap("Stat", err)
	}
	return fileEntry(subPath, fi), nil
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
	fe, err := d.Stat(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if fe.IsDirectory {
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "is a directory"}
	}

	return &storagedriver.StreamDescriptor{
		Size:          fe.Size,
		ContentType:   fe.MimeType,
		ETag:          fe.ETag,
		LastModified:  fe.Modified,
		SupportsRange: d.rangeOK,
		Open: func(ctx context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.remoteURL(subPath), nil)
			if err != nil {
				return nil, err
			}
			d.auth(req)
			if rng != nil && d.rangeOK {
				req.Header.Set("Range", rng.RequestHeader())
			}
			resp, err := d.httpc.Do(req)
			if err != nil {
				return nil, d.wrap("Download", err)
			}
			switch resp.StatusCode {
			case http.StatusOK, http.StatusPartialContent:
				return resp.Body, nil
			case http.StatusNotFound:
				resp.Body.Close()
				return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
			default:
				resp.Body.Close()
				return nil, storagedriver.Error{
					DriverName: driverName,
					Op:         "Download",
					Status:     resp.StatusCode,
					Enclosed:   fmt.Errorf("remote returned %s", resp.Status),
				}
			}
		},
	}, nil
}

func (d *driver) Upload(ctx context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	d.probe(ctx)
	parent := path.Dir(subPath)
	if parent != "/" {
		exists, err := d.Exists(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !exists {
			if !opts.AutoCreateParents {
				return nil, storagedriver.PathNotFoundError{Path: parent}
			}
			if err := d.client.MkdirAll(parent, 0o755); err != nil {
				return nil, d.wrap("Upload", err)
			}
		}
	}

	// Zero-byte fast path: some servers reject chunked empty bodies.
	if opts.ContentLength == 0 {
		if err := d.client.Write(subPath, nil, 0o644); err != nil {
			return nil, d.wrap("Upload", err)
		}
		return &storagedriver.UploadResult{StoragePath: subPath, Size: 0}, nil
	}

	limited := io.LimitReader(body, opts.ContentLength)
	if err := d.client.WriteStream(subPath, limited, 0o644); err != nil {
		return nil, d.wrap("Upload", err)
	}
	return &storagedriver.UploadResult{StoragePath: subPath, Size: opts.ContentLength}, nil
}

func (d *driver) Mkdir(ctx context.Context, subPath string) (storagedriver.MkdirResult, error) {
	d.probe(ctx)
	exists, err := d.Exists(ctx, subPath)
	if err != nil {
		return storagedriver.MkdirResult{}, err
	}
	if exists {
		return storagedriver.MkdirResult{AlreadyExists: true}, nil
	}
	if err := d.client.MkdirAll(subPath, 0o755); err != nil {
		return storagedriver.MkdirResult{}, d.wrap("Mkdir", err)
	}
	return storagedriver.MkdirResult{}, nil
}

func (d *driver) Remove(ctx context.Context, subPath string) error {
	exists, err := d.Exists(ctx, subPath)
	if err != nil {
		return err
	}
	if !exists {
		return storagedriver.PathNotFoundError{Path: subPath}
	}
	return d.wrap("Remove", d.client.RemoveAll(subPath))
}

func (d *driver) Rename(ctx context.Context, oldSubPath, newSubPath string) error {
	d.probe(ctx)
	return d.wrap("Rename", d.client.Rename(oldSubPath, newSubPath, true))
}

func (d *driver) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	d.probe(ctx)
	if opts.SkipExisting {
		exists, err := d.Exists(ctx, dstSubPath)
		if err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
		if exists {
			return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
		}
	}
	// COPY is recursive for collections per RFC 4918.
	if err := d.client.Copy(srcSubPath, dstSubPath, true); err != nil {
		werr := d.wrap("Copy", err)
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: werr.Error()}, werr
	}
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
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

func (d *driver) Search(_ context.Context, _ string, _ storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	return nil, storagedriver.CapabilityError{DriverName: driverName, Missing: storagedriver.CapSearch}
}

// DownloadURL rewrites the path onto the configured custom host. The remote
// is expected to serve those paths publicly (a CDN or mirror in front of the
// DAV tree); credentials are never embedded.
func (d *driver) DownloadURL(_ context.Context, subPath string, opts storagedriver.LinkOptions) (*storagedriver.Link, error) {
	if d.customHost == "" {
		return nil, storagedriver.CapabilityError{DriverName: driverName, Missing: storagedriver.CapDirectLink}
	}
	u := d.customHost + escapePath(subPath)
	if opts.ForceDownload {
		u += "?download=1"
	}
	return &storagedriver.Link{
		URL:         u,
		Kind:        storagedriver.LinkDirect,
		ContentType: mimeFor(subPath),
	}, nil
}
