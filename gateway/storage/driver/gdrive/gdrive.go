// Package gdrive provides a storagedriver.StorageDriver implementation backed
// by Google Drive through the google.golang.org/api/drive/v3 client library.
//
// Drive addresses files by opaque ID, not path. The driver resolves virtual
// paths on demand by walking segments from the configured root, caching
// directory IDs along the way. The __shared_with_me__ virtual root switches
// resolution to the sharedWithMe query space.
//
// Parameters:
//
//	refresh_token   : refresh token, or an HTTP URL serving service-account keys
//	client_id       : OAuth client id (standard refresh mode)
//	client_secret   : OAuth client secret
//	token_endpoint  : override for the token exchange endpoint
//	online_api      : third-party token service address (online mode)
//	root_id         : Drive folder ID acting as the mount root (default "root")
//	enable_shared_view : inject the __shared_with_me__ virtual directory
package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
	"github.com/vfsgate/vfsgate/gateway/storage/oauth"
)

const (
	driverName = "gdrive"

	folderMimeType = "application/vnd.google-apps.folder"

	// SharedRootName is the virtual directory exposing sharedWithMe files.
	SharedRootName = "__shared_with_me__"

	listPageSize  = 1000
	entryFields   = "files(id, name, size, mimeType, modifiedTime, md5Checksum), nextPageToken"
	defaultRootID = "root"
)

func init() {
	factory.Register(driverName, &gdriveDriverFactory{})
}

type gdriveDriverFactory struct{}

func (f *gdriveDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

type driver struct {
	svc        *drive.Service
	tokens     *oauth.Manager
	httpc      *http.Client
	rootID     string
	sharedView bool

	// pathIDs maps directory virtual paths to Drive folder IDs. Mutations
	// invalidate the touched subtree; misses re-walk from the nearest
	// cached ancestor.
	mu      sync.RWMutex
	pathIDs map[string]string
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by Google Drive.
type Driver struct {
	baseEmbed
}

// tokenSource adapts the oauth manager to the oauth2.TokenSource contract so
// the generated Drive client can reuse it.
type tokenSource struct {
	m *oauth.Manager
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.m.Token(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, Expiry: time.Now().Add(expirySlackWindow)}, nil
}

// Forces the oauth2 layer to re-consult the manager well before real expiry;
// the manager keeps its own refresh schedule.
const expirySlackWindow = 5 * time.Minute

// FromParameters constructs a new Driver with a given parameters map.
func FromParameters(ctx context.Context, parameters map[string]interface{}) (*Driver, error) {
	getString := func(key string) string {
		if v, ok := parameters[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	getBool := func(key string) bool {
		v := strings.ToLower(getString(key))
		return v == "true" || v == "1" || v == "yes"
	}

	refreshToken := getString("refresh_token")
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh_token parameter provided")
	}

	tokens := oauth.NewManager(oauth.Config{
		RefreshToken:     refreshToken,
		ClientID:         getString("client_id"),
		ClientSecret:     getString("client_secret"),
		TokenEndpoint:    getString("token_endpoint"),
		OnlineAPIAddress: getString("online_api"),
		Scopes:           []string{drive.DriveScope},
	})

	rootID := getString("root_id")
	if rootID == "" {
		rootID = defaultRootID
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(tokenSource{m: tokens}))
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating drive client: %w", err)
	}

	d := &driver{
		svc:        svc,
		tokens:     tokens,
		httpc:      http.DefaultClient,
		rootID:     rootID,
		sharedView: getBool("enable_shared_view"),
		pathIDs:    map[string]string{"/": rootID},
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

// --- path resolution -------------------------------------------------------

func isSharedPath(subPath string) bool {
	return subPath == "/"+SharedRootName || strings.HasPrefix(subPath, "/"+SharedRootName+"/")
}

func splitSegments(subPath string) []string {
	trimmed := strings.Trim(subPath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (d *driver) cachedID(subPath string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.pathIDs[subPath]
	return id, ok
}

func (d *driver) cacheID(subPath, id string) {
	d.mu.Lock()
	d.pathIDs[subPath] = id
	d.mu.Unlock()
}

// invalidateSubtree drops cached IDs for subPath and everything under it.
// The root entry is never evicted.
func (d *driver) invalidateSubtree(subPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := range d.pathIDs {
		if p == "/" {
			continue
		}
		if p == subPath || strings.HasPrefix(p, subPath+"/") {
			delete(d.pathIDs, p)
		}
	}
}

// findLeaf queries one directory for a child by name. Duplicate names resolve
// to the first match from the unordered listing.
func (d *driver) findLeaf(ctx context.Context, parentID, name string) (*drive.File, error) {
	q := fmt.Sprintf("name = %s and %q in parents and trashed = false", quoteQ(name), parentID)
	list, err := d.svc.Files.List().Context(ctx).
		Q(q).PageSize(2).Fields(googleapi.Field(entryFields)).Do()
	if err != nil {
		return nil, d.wrap("findLeaf", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

// findSharedLeaf looks up a top-level sharedWithMe entry by name.
func (d *driver) findSharedLeaf(ctx context.Context, name string) (*drive.File, error) {
	q := fmt.Sprintf("name = %s and sharedWithMe = true and trashed = false", quoteQ(name))
	list, err := d.svc.Files.List().Context(ctx).
		Q(q).PageSize(2).Fields(googleapi.Field(entryFields)).Do()
	if err != nil {
		return nil, d.wrap("findSharedLeaf", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func quoteQ(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `\'`) + `'`
}

// resolveDir maps a directory virtual path to a Drive folder ID, walking
// segment by segment from the nearest cached ancestor.
func (d *driver) resolveDir(ctx context.Context, subPath string) (string, error) {
	if subPath == "/" {
		return d.rootID, nil
	}
	if subPath == "/"+SharedRootName {
		if !d.sharedView {
			return "", storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		// The shared root has no single ID; callers branch on isSharedPath.
		return "", nil
	}
	if id, ok := d.cachedID(subPath); ok {
		return id, nil
	}

	segments := splitSegments(subPath)
	shared := isSharedPath(subPath)
	if shared {
		segments = segments[1:]
	}

	// Walk down from the deepest cached ancestor.
	cur := "/"
	curID := d.rootID
	if shared {
		cur = "/" + SharedRootName
		curID = ""
	}
	consumed := 0
	for i := len(segments) - 1; i > 0; i-- {
		prefix := cur + "/" + strings.Join(segments[:i], "/")
		if cur == "/" {
			prefix = "/" + strings.Join(segments[:i], "/")
		}
		if id, ok := d.cachedID(prefix); ok {
			cur, curID, consumed = prefix, id, i
			break
		}
	}

	for _, seg := range segments[consumed:] {
		var f *drive.File
		var err error
		if shared && curID == "" {
			f, err = d.findSharedLeaf(ctx, seg)
		} else {
			f, err = d.findLeaf(ctx, curID, seg)
		}
		if err != nil {
			return "", err
		}
		if f == nil || f.MimeType != folderMimeType {
			return "", storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		if cur == "/" {
			cur = "/" + seg
		} else {
			cur = cur + "/" + seg
		}
		curID = f.Id
		d.cacheID(cur, curID)
	}
	return curID, nil
}

// resolveFile maps a file or directory virtual path to its Drive entry.
func (d *driver) resolveFile(ctx context.Context, subPath string) (*drive.File, error) {
	parent := path.Dir(subPath)
	name := path.Base(subPath)

	if isSharedPath(subPath) && parent == "/"+SharedRootName {
		f, err := d.findSharedLeaf(ctx, name)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return f, nil
	}

	parentID, err := d.resolveDir(ctx, parent)
	if err != nil {
		return nil, err
	}
	f, err := d.findLeaf(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
	}
	if f.MimeType == folderMimeType {
		d.cacheID(subPath, f.Id)
	}
	return f, nil
}

func (d *driver) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if gerr, ok := err.(*googleapi.Error); ok {
		if gerr.Code == http.StatusNotFound {
			return storagedriver.PathNotFoundError{DriverName: driverName}
		}
		return storagedriver.Error{DriverName: driverName, Op: op, Status: gerr.Code, Enclosed: err}
	}
	return storagedriver.Error{DriverName: driverName, Op: op, Enclosed: err}
}

func fileEntry(subPath string, f *drive.File) storagedriver.FileEntry {
	fe := storagedriver.FileEntry{
		FsPath:      subPath,
		Name:        f.Name,
		IsDirectory: f.MimeType == folderMimeType,
		MimeType:    f.MimeType,
		ETag:        f.Md5Checksum,
		StorageType: driverName,
	}
	if !fe.IsDirectory {
		fe.Size = f.Size
	} else {
		fe.MimeType = storagedriver.DirectoryMimeType
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		fe.Modified = t
	}
	return fe
}

// --- contract --------------------------------------------------------------

func (d *driver) List(ctx context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	var entries []storagedriver.FileEntry

	if d.sharedView && subPath == "/" {
		entries = append(entries, storagedriver.FileEntry{
			FsPath:      "/" + SharedRootName,
			Name:        SharedRootName,
			IsDirectory: true,
			IsVirtual:   true,
			MimeType:    storagedriver.DirectoryMimeType,
			StorageType: driverName,
		})
	}

	var q string
	if subPath == "/"+SharedRootName {
		if !d.sharedView {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		q = "sharedWithMe = true and trashed = false"
	} else {
		dirID, err := d.resolveDir(ctx, subPath)
		if err != nil {
			return nil, err
		}
		q = fmt.Sprintf("%q in parents and trashed = false", dirID)
	}

	pageToken := ""
	for {
		call := d.svc.Files.List().Context(ctx).
			Q(q).PageSize(listPageSize).Fields(googleapi.Field(entryFields))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, d.wrap("List", err)
		}
		for _, f := range list.Files {
			entries = append(entries, fileEntry(path.Join(subPath, f.Name), f))
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return entries, nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileEntry, error) {
	if subPath == "/" {
		return storagedriver.FileEntry{
			FsPath: "/", Name: "/", IsDirectory: true,
			MimeType: storagedriver.DirectoryMimeType, StorageType: driverName,
		}, nil
	}
	if subPath == "/"+SharedRootName {
		if !d.sharedView {
			return storagedriver.FileEntry{}, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return storagedriver.FileEntry{
			FsPath: subPath, Name: SharedRootName, IsDirectory: true, IsVirtual: true,
			MimeType: storagedriver.DirectoryMimeType, StorageType: driverName,
		}, nil
	}
	f, err := d.resolveFile(ctx, subPath)
	if err != nil {
		return storagedriver.FileEntry{}, err
	}
	return fileEntry(subPath, f), nil
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
	f, err := d.resolveFile(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if f.MimeType == folderMimeType {
		return nil, storagedriver.InvalidPathError{Path: subPath, DriverName: driverName, Reason: "is a directory"}
	}
	fe := fileEntry(subPath, f)
	fileID := f.Id

	return &storagedriver.StreamDescriptor{
		Size:          fe.Size,
		ContentType:   fe.MimeType,
		ETag:          fe.ETag,
		LastModified:  fe.Modified,
		SupportsRange: true,
		Open: func(ctx context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			call := d.svc.Files.Get(fileID).Context(ctx)
			if rng != nil {
				call.Header().Set("Range", rng.RequestHeader())
			}
			resp, err := call.Download()
			if err != nil {
				return nil, d.wrap("Download", err)
			}
			return resp.Body, nil
		},
	}, nil
}

func (d *driver) Upload(ctx context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	parent := path.Dir(subPath)
	parentID, err := d.resolveDir(ctx, parent)
	if err != nil {
		if !opts.AutoCreateParents || !storagedriver.IsNotFound(err) {
			return nil, err
		}
		parentID, err = d.mkdirAll(ctx, parent)
		if err != nil {
			return nil, err
		}
	}

	name := path.Base(subPath)
	if opts.FileName != "" {
		name = opts.FileName
	}
	limited := body
	if opts.ContentLength >= 0 {
		limited = io.LimitReader(body, opts.ContentLength)
	}

	var info *drive.File
	existing, err := d.findLeaf(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		info, err = d.svc.Files.Update(existing.Id, &drive.File{}).Context(ctx).
			Media(limited, googleapi.ContentType(opts.ContentType)).
			Fields("id, name, size, md5Checksum").Do()
	} else {
		info, err = d.svc.Files.Create(&drive.File{
			Name:     name,
			Parents:  []string{parentID},
			MimeType: opts.ContentType,
		}).Context(ctx).
			Media(limited, googleapi.ContentType(opts.ContentType)).
			Fields("id, name, size, md5Checksum").Do()
	}
	if err != nil {
		return nil, d.wrap("Upload", err)
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        info.Md5Checksum,
		Size:        info.Size,
	}, nil
}

// mkdirAll creates missing directories along subPath and returns the ID of
// the deepest one.
func (d *driver) mkdirAll(ctx context.Context, subPath string) (string, error) {
	if subPath == "/" {
		return d.rootID, nil
	}
	cur := "/"
	curID := d.rootID
	for _, seg := range splitSegments(subPath) {
		next := path.Join(cur, seg)
		if id, ok := d.cachedID(next); ok {
			cur, curID = next, id
			continue
		}
		f, err := d.findLeaf(ctx, curID, seg)
		if err != nil {
			return "", err
		}
		if f == nil {
			created, err := d.svc.Files.Create(&drive.File{
				Name:     seg,
				MimeType: folderMimeType,
				Parents:  []string{curID},
			}).Context(ctx).Fields("id").Do()
			if err != nil {
				return "", d.wrap("Mkdir", err)
			}
			f = &drive.File{Id: created.Id, MimeType: folderMimeType}
		} else if f.MimeType != folderMimeType {
			return "", storagedriver.InvalidPathError{Path: next, DriverName: driverName, Reason: "not a directory"}
		}
		cur, curID = next, f.Id
		d.cacheID(cur, curID)
	}
	return curID, nil
}

func (d *driver) Mkdir(ctx context.Context, subPath string) (storagedriver.MkdirResult, error) {
	if _, err := d.resolveDir(ctx, subPath); err == nil {
		return storagedriver.MkdirResult{AlreadyExists: true}, nil
	} else if !storagedriver.IsNotFound(err) {
		return storagedriver.MkdirResult{}, err
	}
	if _, err := d.mkdirAll(ctx, subPath); err != nil {
		return storagedriver.MkdirResult{}, err
	}
	return storagedriver.MkdirResult{}, nil
}

func (d *driver) Remove(ctx context.Context, subPath string) error {
	f, err := d.resolveFile(ctx, subPath)
	if err != nil {
		return err
	}
	// Drive deletes folders recursively.
	if err := d.svc.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
		return d.wrap("Remove", err)
	}
	d.invalidateSubtree(subPath)
	return nil
}

func (d *driver) Rename(ctx context.Context, oldSubPath, newSubPath string) error {
	f, err := d.resolveFile(ctx, oldSubPath)
	if err != nil {
		return err
	}

	oldParent := path.Dir(oldSubPath)
	newParent := path.Dir(newSubPath)
	update := d.svc.Files.Update(f.Id, &drive.File{Name: path.Base(newSubPath)}).Context(ctx)
	if oldParent != newParent {
		oldParentID, err := d.resolveDir(ctx, oldParent)
		if err != nil {
			return err
		}
		newParentID, err := d.resolveDir(ctx, newParent)
		if err != nil {
			return err
		}
		update = update.RemoveParents(oldParentID).AddParents(newParentID)
	}
	if _, err := update.Do(); err != nil {
		return d.wrap("Rename", err)
	}
	d.invalidateSubtree(oldSubPath)
	d.invalidateSubtree(newSubPath)
	return nil
}

func (d *driver) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	src, err := d.resolveFile(ctx, srcSubPath)
	if err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}

	if opts.SkipExisting {
		exists, err := d.Exists(ctx, dstSubPath)
		if err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
		if exists {
			return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
		}
	}

	dstParentID, err := d.resolveDir(ctx, path.Dir(dstSubPath))
	if err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}

	if src.MimeType != folderMimeType {
		if err := d.copyLeaf(ctx, src.Id, dstParentID, path.Base(dstSubPath)); err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
		d.invalidateSubtree(dstSubPath)
		return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
	}

	if err := d.copyTree(ctx, src.Id, dstParentID, path.Base(dstSubPath)); err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}
	d.invalidateSubtree(dstSubPath)
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func (d *driver) copyLeaf(ctx context.Context, srcID, dstParentID, name string) error {
	_, err := d.svc.Files.Copy(srcID, &drive.File{
		Name:    name,
		Parents: []string{dstParentID},
	}).Context(ctx).Fields("id").Do()
	return d.wrap("Copy", err)
}

// copyTree mirrors a folder subtree breadth-first: Drive has no native
// recursive copy, so folders are created and leaves copied level by level.
func (d *driver) copyTree(ctx context.Context, srcID, dstParentID, name string) error {
	type pair struct {
		srcID string
		dstID string
	}

	rootDst, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{dstParentID},
	}).Context(ctx).Fields("id").Do()
	if err != nil {
		return d.wrap("Copy", err)
	}

	queue := []pair{{srcID: srcID, dstID: rootDst.Id}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			call := d.svc.Files.List().Context(ctx).
				Q(fmt.Sprintf("%q in parents and trashed = false", cur.srcID)).
				PageSize(listPageSize).Fields(googleapi.Field(entryFields))
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			list, err := call.Do()
			if err != nil {
				return d.wrap("Copy", err)
			}
			for _, f := range list.Files {
				if f.MimeType == folderMimeType {
					child, err := d.svc.Files.Create(&drive.File{
						Name:     f.Name,
						MimeType: folderMimeType,
						Parents:  []string{cur.dstID},
					}).Context(ctx).Fields("id").Do()
					if err != nil {
						return d.wrap("Copy", err)
					}
					queue = append(queue, pair{srcID: f.Id, dstID: child.Id})
					continue
				}
				if err := d.copyLeaf(ctx, f.Id, cur.dstID, f.Name); err != nil {
					return err
				}
			}
			if list.NextPageToken == "" {
				break
			}
			pageToken = list.NextPageToken
		}
	}
	return nil
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
	q := fmt.Sprintf("name contains %s and trashed = false", quoteQ(query))
	if opts.SearchPath != "" && opts.SearchPath != "/" {
		dirID, err := d.resolveDir(ctx, opts.SearchPath)
		if err != nil {
			return nil, err
		}
		q = fmt.Sprintf("%s and %q in parents", q, dirID)
	}

	max := opts.MaxResults
	if max <= 0 || max > listPageSize {
		max = listPageSize
	}
	list, err := d.svc.Files.List().Context(ctx).
		Q(q).PageSize(int64(max)).Fields(googleapi.Field(entryFields)).Do()
	if err != nil {
		return nil, d.wrap("Search", err)
	}

	base := opts.SearchPath
	if base == "" {
		base = "/"
	}
	entries := make([]storagedriver.FileEntry, 0, len(list.Files))
	for _, f := range list.Files {
		entries = append(entries, fileEntry(path.Join(base, f.Name), f))
	}
	return entries, nil
}

// DownloadURL hands out an alt=media URL carrying a short-lived access token.
// The link dies with the token, so ExpiresIn reflects the token window.
func (d *driver) DownloadURL(ctx context.Context, subPath string, _ storagedriver.LinkOptions) (*storagedriver.Link, error) {
	f, err := d.resolveFile(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if f.MimeType == folderMimeType {
		return nil, storagedriver.InvalidPathError{Path: subPath, DriverName: driverName, Reason: "is a directory"}
	}
	tok, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, d.wrap("DownloadURL", err)
	}
	fe := fileEntry(subPath, f)
	return &storagedriver.Link{
		URL:          "https://www.googleapis.com/drive/v3/files/" + f.Id + "?alt=media&access_token=" + tok,
		Kind:         storagedriver.LinkDirect,
		ContentType:  fe.MimeType,
		ETag:         fe.ETag,
		LastModified: fe.Modified,
		ExpiresIn:    expirySlackWindow * 2,
	}, nil
}
