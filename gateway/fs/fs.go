// Package fs is the filesystem facade: it resolves virtual paths to mounted
// drivers, enforces capability pre-conditions, dispatches the operation and
// publishes cache-invalidation events after mutations return.
package fs

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/cachebus"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// FileSystem dispatches virtual-path operations to mounted drivers.
type FileSystem struct {
	mounts *mount.Manager
	bus    *cachebus.Bus
}

// New builds the facade over a mount table and an invalidation bus. A nil
// bus disables event emission.
func New(mounts *mount.Manager, bus *cachebus.Bus) *FileSystem {
	return &FileSystem{mounts: mounts, bus: bus}
}

// Target is one resolved virtual path: the mount that claimed it, the live
// driver and the driver-relative sub-path.
type Target struct {
	Mount   *mount.Mount
	Driver  storagedriver.StorageDriver
	SubPath string
}

// Resolve maps a virtual path onto its mount and driver.
func (f *FileSystem) Resolve(ctx context.Context, p string) (*Target, error) {
	mt, sub, err := f.mounts.Resolve(p)
	if err != nil {
		return nil, err
	}
	d, err := f.mounts.Driver(ctx, mt)
	if err != nil {
		return nil, err
	}
	return &Target{Mount: mt, Driver: d, SubPath: sub}, nil
}

// Config loads the storage config behind a resolved target, for callers that
// need policy fields (link resolution, part sizing).
func (f *FileSystem) Config(ctx context.Context, t *Target) (*mount.StorageConfig, error) {
	return f.mounts.Config(ctx, t.Mount)
}

// Mounts exposes the mount table for root listings.
func (f *FileSystem) Mounts() []*mount.Mount {
	return f.mounts.Mounts()
}

// JoinPath rebuilds a full virtual path from a mount path and a sub-path.
func JoinPath(mountPath, subPath string) string {
	if mountPath == "/" {
		return subPath
	}
	if subPath == "/" || subPath == "" {
		return mountPath
	}
	return mountPath + subPath
}

// rewrite lifts a driver-relative entry into the mount view.
func rewrite(mt *mount.Mount, e storagedriver.FileEntry) storagedriver.FileEntry {
	e.FsPath = JoinPath(mt.Path, e.FsPath)
	e.MountID = mt.ID
	return e
}

func (f *FileSystem) emit(ctx context.Context, mt *mount.Mount, reason string, paths ...string) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(ctx, cachebus.Event{
		MountID:         mt.ID,
		StorageConfigID: mt.StorageConfigID,
		Paths:           paths,
		Reason:          reason,
	})
}

// List returns the children of a virtual directory. Listing "/" when no
// mount claims the root synthesizes a directory of mount points.
func (f *FileSystem) List(ctx context.Context, p string, opts storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		var noMount mount.ErrNoMount
		if p == "/" && errors.As(err, &noMount) {
			return f.mountRootListing(), nil
		}
		return nil, err
	}
	entries, err := t.Driver.List(ctx, t.SubPath, opts)
	if err != nil {
		return nil, err
	}
	out := make([]storagedriver.FileEntry, len(entries))
	for i, e := range entries {
		out[i] = rewrite(t.Mount, e)
	}
	return out, nil
}

func (f *FileSystem) mountRootListing() []storagedriver.FileEntry {
	var out []storagedriver.FileEntry
	for _, mt := range f.mounts.Mounts() {
		if mt.Path == "/" {
			continue
		}
		name := mt.Path[strings.LastIndexByte(mt.Path, '/')+1:]
		out = append(out, storagedriver.FileEntry{
			FsPath:      mt.Path,
			Name:        name,
			IsDirectory: true,
			MimeType:    storagedriver.DirectoryMimeType,
			IsVirtual:   true,
			MountID:     mt.ID,
		})
	}
	return out
}

// Stat describes one entry.
func (f *FileSystem) Stat(ctx context.Context, p string) (storagedriver.FileEntry, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return storagedriver.FileEntry{}, err
	}
	e, err := t.Driver.Stat(ctx, t.SubPath)
	if err != nil {
		return storagedriver.FileEntry{}, err
	}
	return rewrite(t.Mount, e), nil
}

// Exists reports presence without raising on absence.
func (f *FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		var noMount mount.ErrNoMount
		if errors.As(err, &noMount) {
			return false, nil
		}
		return false, err
	}
	return t.Driver.Exists(ctx, t.SubPath)
}

// Download returns the deferred stream descriptor for a file.
func (f *FileSystem) Download(ctx context.Context, p string) (*storagedriver.StreamDescriptor, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return t.Driver.Download(ctx, t.SubPath)
}

// Upload stores body at the virtual path.
func (f *FileSystem) Upload(ctx context.Context, p string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := t.Driver.Upload(ctx, t.SubPath, body, opts)
	if err != nil {
		return nil, err
	}
	f.emit(ctx, t.Mount, cachebus.ReasonUpload, t.SubPath)
	return res, nil
}

// Mkdir creates a directory; pre-existence is success.
func (f *FileSystem) Mkdir(ctx context.Context, p string) (storagedriver.MkdirResult, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return storagedriver.MkdirResult{}, err
	}
	res, err := t.Driver.Mkdir(ctx, t.SubPath)
	if err != nil {
		return storagedriver.MkdirResult{}, err
	}
	if !res.AlreadyExists {
		f.emit(ctx, t.Mount, cachebus.ReasonMkdir, t.SubPath)
	}
	return res, nil
}

// Remove deletes the entry, recursively for directories.
func (f *FileSystem) Remove(ctx context.Context, p string) error {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return err
	}
	if err := t.Driver.Remove(ctx, t.SubPath); err != nil {
		return err
	}
	f.emit(ctx, t.Mount, cachebus.ReasonRemove, t.SubPath)
	return nil
}

// Rename moves an entry within a single driver. Paths resolving to
// different storage configs are rejected; clients use copy for that.
func (f *FileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	src, err := f.Resolve(ctx, oldPath)
	if err != nil {
		return err
	}
	dst, err := f.Resolve(ctx, newPath)
	if err != nil {
		return err
	}
	if src.Mount.StorageConfigID != dst.Mount.StorageConfigID {
		return errcode.ErrorCodeValidation.WithArgs("rename cannot cross storage boundaries")
	}
	if err := src.Driver.Rename(ctx, src.SubPath, dst.SubPath); err != nil {
		return err
	}
	f.emit(ctx, src.Mount, cachebus.ReasonRename, src.SubPath, dst.SubPath)
	return nil
}

// Copy duplicates src to dst. Same-storage pairs on a driver declaring
// ATOMIC delegate to the driver's native copy; everything else streams
// through the gateway, recursing into directories.
func (f *FileSystem) Copy(ctx context.Context, srcPath, dstPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	src, err := f.Resolve(ctx, srcPath)
	if err != nil {
		return storagedriver.CopyResult{}, err
	}
	dst, err := f.Resolve(ctx, dstPath)
	if err != nil {
		return storagedriver.CopyResult{}, err
	}

	var res storagedriver.CopyResult
	if src.Mount.StorageConfigID == dst.Mount.StorageConfigID &&
		src.Driver.Capabilities().Has(storagedriver.CapAtomic) {
		res, err = src.Driver.Copy(ctx, src.SubPath, dst.SubPath, opts)
	} else {
		res, err = f.streamCopy(ctx, src, dst, opts)
	}
	if err != nil {
		return res, err
	}
	if res.Status == storagedriver.CopySuccess {
		f.emit(ctx, dst.Mount, cachebus.ReasonCopy, dst.SubPath)
	}
	return res, nil
}

// streamCopy pipes download into upload across driver boundaries, recursing
// into directories.
func (f *FileSystem) streamCopy(ctx context.Context, src, dst *Target, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	if opts.SkipExisting {
		exists, err := dst.Driver.Exists(ctx, dst.SubPath)
		if err != nil {
			return storagedriver.CopyResult{}, err
		}
		if exists {
			return storagedriver.CopyResult{Status: storagedriver.CopySkipped, Reason: "destination exists"}, nil
		}
	}

	entry, err := src.Driver.Stat(ctx, src.SubPath)
	if err != nil {
		return storagedriver.CopyResult{}, err
	}
	if entry.IsDirectory {
		return f.streamCopyDir(ctx, src, dst, opts)
	}
	return f.streamCopyFile(ctx, src, dst, entry)
}

func (f *FileSystem) streamCopyFile(ctx context.Context, src, dst *Target, entry storagedriver.FileEntry) (storagedriver.CopyResult, error) {
	desc, err := src.Driver.Download(ctx, src.SubPath)
	if err != nil {
		return storagedriver.CopyResult{}, err
	}
	rc, err := desc.Open(ctx, nil)
	if err != nil {
		return storagedriver.CopyResult{}, err
	}
	defer rc.Close()

	_, err = dst.Driver.Upload(ctx, dst.SubPath, rc, storagedriver.UploadOptions{
		FileName:          entry.Name,
		ContentType:       desc.ContentType,
		ContentLength:     entry.Size,
		AutoCreateParents: true,
	})
	if err != nil {
		return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
	}
	dcontext.GetLogger(ctx).Debugf("fs: streamed %d bytes %s -> %s", entry.Size,
		JoinPath(src.Mount.Path, src.SubPath), JoinPath(dst.Mount.Path, dst.SubPath))
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func (f *FileSystem) streamCopyDir(ctx context.Context, src, dst *Target, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	if _, err := dst.Driver.Mkdir(ctx, dst.SubPath); err != nil {
		return storagedriver.CopyResult{}, err
	}
	children, err := src.Driver.List(ctx, src.SubPath, storagedriver.ListOptions{})
	if err != nil {
		return storagedriver.CopyResult{}, err
	}
	for _, child := range children {
		childSrc := &Target{Mount: src.Mount, Driver: src.Driver, SubPath: childSub(src.SubPath, child.Name)}
		childDst := &Target{Mount: dst.Mount, Driver: dst.Driver, SubPath: childSub(dst.SubPath, child.Name)}
		if _, err := f.streamCopy(ctx, childSrc, childDst, opts); err != nil {
			return storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}, err
		}
	}
	return storagedriver.CopyResult{Status: storagedriver.CopySuccess}, nil
}

func childSub(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Move relocates src to dst as copy followed by source delete. If the
// source delete fails the freshly created destination is removed so the
// operation never duplicates content.
func (f *FileSystem) Move(ctx context.Context, srcPath, dstPath string) error {
	res, err := f.Copy(ctx, srcPath, dstPath, storagedriver.CopyOptions{})
	if err != nil {
		return err
	}
	if res.Status != storagedriver.CopySuccess {
		return errcode.ErrorCodeConflict.WithMessage("move: copy " + string(res.Status) + ": " + res.Reason)
	}
	if err := f.Remove(ctx, srcPath); err != nil {
		if rbErr := f.Remove(ctx, dstPath); rbErr != nil {
			dcontext.GetLogger(ctx).Errorf("fs: move rollback of %s failed: %v", dstPath, rbErr)
		}
		return err
	}
	return nil
}

// BatchRemove deletes each path sequentially, accumulating per-path
// failures. Paths may span mounts.
func (f *FileSystem) BatchRemove(ctx context.Context, paths []string) (storagedriver.BatchRemoveResult, error) {
	var res storagedriver.BatchRemoveResult
	for _, p := range paths {
		if err := f.Remove(ctx, p); err != nil {
			res.Failed = append(res.Failed, storagedriver.BatchFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, p)
	}
	return res, nil
}

// CopyItem is one source/target pair of a batch copy.
type CopyItem struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
}

// CopyOutcome reports one batch-copy item.
type CopyOutcome struct {
	SourcePath string                   `json:"sourcePath"`
	TargetPath string                   `json:"targetPath"`
	Result     storagedriver.CopyResult `json:"result"`
}

// BatchCopy runs each copy sequentially; a failed item does not stop the
// batch.
func (f *FileSystem) BatchCopy(ctx context.Context, items []CopyItem, opts storagedriver.CopyOptions) []CopyOutcome {
	out := make([]CopyOutcome, 0, len(items))
	for _, item := range items {
		res, err := f.Copy(ctx, item.SourcePath, item.TargetPath, opts)
		if err != nil && res.Status == "" {
			res = storagedriver.CopyResult{Status: storagedriver.CopyFailed, Reason: err.Error()}
		}
		out = append(out, CopyOutcome{SourcePath: item.SourcePath, TargetPath: item.TargetPath, Result: res})
	}
	return out
}

// Search matches entries by name below a virtual path.
func (f *FileSystem) Search(ctx context.Context, p, query string, opts storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	t, err := f.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	opts.SearchPath = t.SubPath
	entries, err := t.Driver.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	out := make([]storagedriver.FileEntry, len(entries))
	for i, e := range entries {
		out[i] = rewrite(t.Mount, e)
	}
	return out, nil
}
