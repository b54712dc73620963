// Package inmemory provides a heap-backed storage driver. It exists for
// tests and for ephemeral "memory" mounts; contents vanish on restart.
package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
)

const driverName = "memory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

// inMemoryDriverFactory implements the factory.StorageDriverFactory interface.
type inMemoryDriverFactory struct{}

func (f *inMemoryDriverFactory) Create(_ context.Context, _ map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type entry struct {
	data    []byte
	dir     bool
	modTime time.Time
}

type driver struct {
	mu    sync.RWMutex
	files map[string]*entry // keyed by cleaned sub-path
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver kept entirely in process memory.
type Driver struct {
	baseEmbed
}

// New constructs an empty in-memory driver.
func New() *Driver {
	d := &driver{files: map[string]*entry{
		"/": {dir: true, modTime: time.Now()},
	}}
	return &Driver{baseEmbed{base.Base{StorageDriver: d}}}
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) Capabilities() storagedriver.Capability {
	return storagedriver.CapReader | storagedriver.CapWriter |
		storagedriver.CapAtomic | storagedriver.CapProxy | storagedriver.CapSearch
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (d *driver) entryFor(p string) (*entry, bool) {
	e, ok := d.files[clean(p)]
	return e, ok
}

func (d *driver) toFileEntry(p string, e *entry) storagedriver.FileEntry {
	fe := storagedriver.FileEntry{
		FsPath:      p,
		Name:        path.Base(p),
		IsDirectory: e.dir,
		Modified:    e.modTime,
		StorageType: driverName,
	}
	if e.dir {
		fe.MimeType = storagedriver.DirectoryMimeType
	} else {
		fe.Size = int64(len(e.data))
		fe.MimeType = mimeFor(p)
		fe.ETag = fmt.Sprintf("%x-%d", e.modTime.UnixNano(), len(e.data))
	}
	return fe
}

func mimeFor(p string) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (d *driver) List(_ context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	dirPath := clean(subPath)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if e, ok := d.files[dirPath]; !ok || !e.dir {
		if !ok {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "not a directory"}
	}

	prefix := dirPath
	if prefix != "/" {
		prefix += "/"
	}

	var names []string
	for p := range d.files {
		if p == dirPath || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(p[len(prefix):], "/") {
			continue
		}
		names = append(names, p)
	}
	sort.Strings(names)

	entries := make([]storagedriver.FileEntry, 0, len(names))
	for _, p := range names {
		entries = append(entries, d.toFileEntry(p, d.files[p]))
	}
	return entries, nil
}

func (d *driver) Stat(_ context.Context, subPath string) (storagedriver.FileEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entryFor(subPath)
	if !ok {
		return storagedriver.FileEntry{}, storagedriver.PathNotFoundError{Path: subPath}
	}
	return d.toFileEntry(clean(subPath), e), nil
}

func (d *driver) Exists(_ context.Context, subPath string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entryFor(subPath)
	return ok, nil
}

func (d *driver) Download(_ context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	d.mu.RLock()
	e, ok := d.entryFor(subPath)
	if !ok {
		d.mu.RUnlock()
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}
	if e.dir {
		d.mu.RUnlock()
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "is a directory"}
	}
	// Snapshot so a later overwrite does not race the reader.
	data := make([]byte, len(e.data))
	copy(data, e.data)
	modTime := e.modTime
	d.mu.RUnlock()

	return &storagedriver.StreamDescriptor{
		Size:          int64(len(data)),
		ContentType:   mimeFor(subPath),
		ETag:          fmt.Sprintf("%x-%d", modTime.UnixNano(), len(data)),
		LastModified:  modTime,
		SupportsRange: true,
		Open: func(_ context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			if rng == nil {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
			if rng.Start < 0 || rng.End >= int64(len(data)) || rng.Start > rng.End {
				return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "range out of bounds"}
			}
			return io.NopCloser(bytes.NewReader(data[rng.Start : rng.End+1])), nil
		},
	}, nil
}

func (d *driver) Upload(_ context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	p := clean(subPath)
	parent := path.Dir(p)

	data, err := io.ReadAll(io.LimitReader(body, opts.ContentLength))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != opts.ContentLength {
		return nil, fmt.Errorf("short body: got %d bytes, declared %d", len(data), opts.ContentLength)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.files[parent]; !ok || !e.dir {
		if !opts.AutoCreateParents {
			return nil, storagedriver.PathNotFoundError{Path: parent}
		}
		d.mkdirAllLocked(parent)
	}
	if e, ok := d.files[p]; ok && e.dir {
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "is a directory"}
	}

	now := time.Now()
	d.files[p] = &entry{data: data, modTime: now}
	return &storagedriver.UploadResult{
		StoragePath: p,
		ETag:        fmt.Sprintf("%x-%d", now.UnixNano(), len(data)),
		Size:        int64(len(data)),
	}, nil
}

func (d *driver) mkdirAllLocked(p string) {
	for cur := clean(p); ; cur = path.Dir(cur) {
		if _, ok := d.files[cur]; !ok {
			d.files[cur] = &entry{dir: true, modTime: time.Now()}
		}
		if cur == "/" {
			return
		}
	}
}

func (d *driver) Mkdir(_ context.Context, subPath string) (storagedriver.MkdirResult, error) {
	p := clean(subPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.files[p]; ok {
		if e.dir {
			return storagedriver.MkdirResult{AlreadyExists: true}, nil
		}
		return storagedriver.MkdirResult{}, storagedriver.InvalidPathError{Path: subPath, Reason: "exists as a file"}
	}
	d.mkdirAllLocked(p)
	return storagedriver.MkdirResult{}, nil
}

func (d *driver) Remove(_ context.Context, subPath string) error {
	p := clean(subPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.files[p]
	if !ok {
		return storagedriver.PathNotFoundError{Path: subPath}
	}
	delete(d.files, p)
	if e.dir {
		prefix := p + "/"
		if p == "/" {
			prefix = "/"
		}
		for other := range d.files {
			if strings.HasPrefix(other, prefix) {
				delete(d.files, other)
			}
		}
		if p == "/" {
			d.files["/"] = &entry{dir: true, modTime: time.Now()}
		}
	}
	return nil
}

func (d *driver) Rename(_ context.Context, oldSubPath, newSubPath string) error {
	oldP, newP := clean(oldSubPath), clean(newSubPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.files[oldP]
	if !ok {
		return storagedriver.PathNotFoundError{Path: oldSubPath}
	}
	if parent := path.Dir(newP); parent != "/" {
		if pe, ok := d.files[parent]; !ok || !pe.dir {
			return storagedriver.PathNotFoundError{Path: parent}
		}
	}

	moves := map[string]string{oldP: newP}
	if e.dir {
		prefix := oldP + "/"
		for other := range d.files {
			if strings.HasPrefix(other, prefix) {
				moves[other] = newP + other[len(oldP):]
			}
		}
	}
	for from, to := range moves {
		d.files[to] = d.files[from]
		delete(d.files, from)
	}
	return nil
}

func (d *driver) Copy(_ context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	srcP, dstP := clean(srcSubPath), clean(dstSubPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	src, ok := d.files[srcP]
	if !ok {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: "source not found"},
			storagedriver.PathNotFoundError{Path: srcSubPath}
	}
	if _, exists := d.files[dstP]; exists && opts.SkipExisting {
		return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
	}

	cp := func(from, to string, e *entry) {
		dup := &entry{dir: e.dir, modTime: time.Now()}
		if !e.dir {
			dup.data = append([]byte(nil), e.data...)
		}
		d.files[to] = dup
	}
	cp(srcP, dstP, src)
	if src.dir {
		prefix := srcP + "/"
		for other, e := range d.files {
			if strings.HasPrefix(other, prefix) {
				cp(other, dstP+other[len(srcP):], e)
			}
		}
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

func (d *driver) Search(_ context.Context, query string, opts storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	q := strings.ToLower(query)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var paths []string
	for p := range d.files {
		if p == "/" {
			continue
		}
		if opts.SearchPath != "" && !strings.HasPrefix(p, clean(opts.SearchPath)) {
			continue
		}
		if strings.Contains(strings.ToLower(path.Base(p)), q) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if opts.MaxResults > 0 && len(paths) > opts.MaxResults {
		paths = paths[:opts.MaxResults]
	}

	entries := make([]storagedriver.FileEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, d.toFileEntry(p, d.files[p]))
	}
	return entries, nil
}

func (d *driver) DownloadURL(_ context.Context, subPath string, _ storagedriver.LinkOptions) (*storagedriver.Link, error) {
	return nil, storagedriver.CapabilityError{DriverName: driverName, Missing: storagedriver.CapDirectLink}
}
