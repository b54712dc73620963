// Package local provides the baseline storage driver over a directory on
// the gateway host. Chunked uploads assemble parts in a scratch directory
// beside the root before an atomic rename into place.
package local

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/base"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
)

const (
	driverName           = "local"
	defaultRootDirectory = "/var/lib/vfsgate/storage"
	scratchDirName       = ".vfsgate-parts"
)

func init() {
	factory.Register(driverName, &localDriverFactory{})
}

type localDriverFactory struct{}

func (f *localDriverFactory) Create(_ context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(parameters)
}

type driver struct {
	rootDirectory string
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by a local directory tree.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver with a given parameters map.
// Optional parameter:
// - rootdirectory
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	rootDirectory := defaultRootDirectory
	if parameters != nil {
		if rd, ok := parameters["rootdirectory"]; ok {
			rootDirectory = fmt.Sprint(rd)
		}
	}
	return New(rootDirectory)
}

// New constructs a new Driver rooted at rootDirectory, creating it when
// absent.
func New(rootDirectory string) (*Driver, error) {
	if err := os.MkdirAll(rootDirectory, 0o755); err != nil {
		return nil, err
	}
	return &Driver{baseEmbed{base.Base{StorageDriver: &driver{rootDirectory: rootDirectory}}}}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) Capabilities() storagedriver.Capability {
	return storagedriver.CapReader | storagedriver.CapWriter |
		storagedriver.CapAtomic | storagedriver.CapProxy |
		storagedriver.CapSearch | storagedriver.CapMultipart
}

// fullPath returns the absolute host path for the given sub-path. The base
// wrapper has already rejected relative segments.
func (d *driver) fullPath(subPath string) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(subPath))
}

func mimeFor(p string) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func fileEntry(subPath string, fi os.FileInfo) storagedriver.FileEntry {
	fe := storagedriver.FileEntry{
		FsPath:      subPath,
		Name:        path.Base(subPath),
		IsDirectory: fi.IsDir(),
		Modified:    fi.ModTime(),
		StorageType: driverName,
	}
	if fi.IsDir() {
		fe.MimeType = storagedriver.DirectoryMimeType
	} else {
		fe.Size = fi.Size()
		fe.MimeType = mimeFor(subPath)
		fe.ETag = fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size())
	}
	if subPath == "/" {
		fe.Name = "/"
	}
	return fe
}

func (d *driver) List(_ context.Context, subPath string, _ storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	full := d.fullPath(subPath)
	dirents, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, err
	}

	entries := make([]storagedriver.FileEntry, 0, len(dirents))
	for _, de := range dirents {
		if de.Name() == scratchDirName {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		child := path.Join(subPath, de.Name())
		entries = append(entries, fileEntry(child, fi))
	}
	return entries, nil
}

func (d *driver) Stat(_ context.Context, subPath string) (storagedriver.FileEntry, error) {
	fi, err := os.Stat(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return storagedriver.FileEntry{}, storagedriver.PathNotFoundError{Path: subPath}
		}
		return storagedriver.FileEntry{}, err
	}
	return fileEntry(subPath, fi), nil
}

func (d *driver) Exists(_ context.Context, subPath string) (bool, error) {
	_, err := os.Stat(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *driver) Download(_ context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	full := d.fullPath(subPath)
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, err
	}
	if fi.IsDir() {
		return nil, storagedriver.InvalidPathError{Path: subPath, Reason: "is a directory"}
	}

	return &storagedriver.StreamDescriptor{
		Size:          fi.Size(),
		ContentType:   mimeFor(subPath),
		ETag:          fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		LastModified:  fi.ModTime(),
		SupportsRange: true,
		Open: func(_ context.Context, rng *storagedriver.RangeSpec) (io.ReadCloser, error) {
			f, err := os.Open(full)
			if err != nil {
				return nil, err
			}
			if rng == nil {
				return f, nil
			}
			if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
				f.Close()
				return nil, err
			}
			return struct {
				io.Reader
				io.Closer
			}{io.LimitReader(f, rng.Length()), f}, nil
		},
	}, nil
}

func (d *driver) Upload(_ context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	full := d.fullPath(subPath)
	parent := filepath.Dir(full)

	if _, err := os.Stat(parent); os.IsNotExist(err) {
		if !opts.AutoCreateParents {
			return nil, storagedriver.PathNotFoundError{Path: path.Dir(subPath)}
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	var n int64
	if opts.ContentLength > 0 {
		n, err = io.Copy(f, io.LimitReader(body, opts.ContentLength))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(full)
		return nil, err
	}
	if n != opts.ContentLength {
		os.Remove(full)
		return nil, fmt.Errorf("short body: wrote %d of %d bytes", n, opts.ContentLength)
	}

	fi, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		Size:        fi.Size(),
	}, nil
}

func (d *driver) Mkdir(_ context.Context, subPath string) (storagedriver.MkdirResult, error) {
	full := d.fullPath(subPath)
	if fi, err := os.Stat(full); err == nil {
		if fi.IsDir() {
			return storagedriver.MkdirResult{AlreadyExists: true}, nil
		}
		return storagedriver.MkdirResult{}, storagedriver.InvalidPathError{Path: subPath, Reason: "exists as a file"}
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return storagedriver.MkdirResult{}, err
	}
	return storagedriver.MkdirResult{}, nil
}

func (d *driver) Remove(_ context.Context, subPath string) error {
	full := d.fullPath(subPath)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return storagedriver.PathNotFoundError{Path: subPath}
	}
	return os.RemoveAll(full)
}

func (d *driver) Rename(_ context.Context, oldSubPath, newSubPath string) error {
	src, dst := d.fullPath(oldSubPath), d.fullPath(newSubPath)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return storagedriver.PathNotFoundError{Path: oldSubPath}
	}
	return os.Rename(src, dst)
}

func (d *driver) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	src := d.fullPath(srcSubPath)
	dst := d.fullPath(dstSubPath)

	fi, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: "source not found"},
				storagedriver.PathNotFoundError{Path: srcSubPath}
		}
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}
	if _, err := os.Stat(dst); err == nil && opts.SkipExisting {
		return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
	}

	if fi.IsDir() {
		err = copyTree(ctx, src, dst)
	} else {
		err = copyFile(src, dst)
	}
	if err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
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
	q := strings.ToLower(query)
	root := d.rootDirectory
	if opts.SearchPath != "" {
		root = d.fullPath(opts.SearchPath)
	}

	var entries []storagedriver.FileEntry
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.IsDir() && fi.Name() == scratchDirName {
			return filepath.SkipDir
		}
		if p == root {
			return nil
		}
		if !strings.Contains(strings.ToLower(fi.Name()), q) {
			return nil
		}
		rel, rerr := filepath.Rel(d.rootDirectory, p)
		if rerr != nil {
			return nil
		}
		entries = append(entries, fileEntry("/"+filepath.ToSlash(rel), fi))
		if opts.MaxResults > 0 && len(entries) >= opts.MaxResults {
			return io.EOF
		}
		return nil
	})
	if err == io.EOF {
		err = nil
	}
	return entries, err
}

func (d *driver) DownloadURL(_ context.Context, subPath string, _ storagedriver.LinkOptions) (*storagedriver.Link, error) {
	return nil, storagedriver.CapabilityError{DriverName: driverName, Missing: storagedriver.CapDirectLink}
}
