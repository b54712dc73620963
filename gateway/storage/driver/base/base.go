// Package base provides a wrapper every storage driver embeds to share path
// validation, capability gating and duration logging.
//
// The canonical approach is to embed Base in the exported driver struct via a
// private embed so calls proxy through this implementation:
//
//	type driver struct { ... internal ... }
//
//	type baseEmbed struct {
//		base.Base
//	}
//
//	type Driver struct {
//		baseEmbed
//	}
//
// Base checks the sub-path shape and the declared capability before
// forwarding, so individual drivers only implement the happy path for the
// operations they declare.
package base

import (
	"context"
	"io"
	"time"

	"github.com/vfsgate/vfsgate/internal/dcontext"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// Base wraps a storagedriver implementation with common checks.
type Base struct {
	storagedriver.StorageDriver
}

func (base *Base) setDriverName(e error) error {
	switch actual := e.(type) {
	case nil:
		return nil
	case storagedriver.PathNotFoundError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.InvalidPathError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.AlreadyExistsError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.Error:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	default:
		return e
	}
}

func (base *Base) require(cap storagedriver.Capability) error {
	if !base.StorageDriver.Capabilities().Has(cap) {
		return storagedriver.CapabilityError{
			DriverName: base.StorageDriver.Name(),
			Missing:    cap,
		}
	}
	return nil
}

func (base *Base) checkPath(p string) error {
	return storagedriver.CheckPath(base.StorageDriver.Name(), p)
}

// timed produces a deferrable that logs the operation duration at debug.
func timed(ctx context.Context, op string) func() {
	start := time.Now()
	return func() {
		dcontext.GetLoggerWithFields(ctx, map[any]any{
			"op":       op,
			"duration": time.Since(start).String(),
		}).Debug("storage.driver")
	}
}

// List wraps List of the underlying storage driver.
func (base *Base) List(ctx context.Context, subPath string, opts storagedriver.ListOptions) ([]storagedriver.FileEntry, error) {
	if err := base.require(storagedriver.CapReader); err != nil {
		return nil, err
	}
	if err := base.checkPath(subPath); err != nil {
		return nil, err
	}
	defer timed(ctx, "List")()
	entries, err := base.StorageDriver.List(ctx, subPath, opts)
	return entries, base.setDriverName(err)
}

// Stat wraps Stat of the underlying storage driver.
func (base *Base) Stat(ctx context.Context, subPath string) (storagedriver.FileEntry, error) {
	if err := base.require(storagedriver.CapReader); err != nil {
		return storagedriver.FileEntry{}, err
	}
	if err := base.checkPath(subPath); err != nil {
		return storagedriver.FileEntry{}, err
	}
	defer timed(ctx, "Stat")()
	fe, err := base.StorageDriver.Stat(ctx, subPath)
	return fe, base.setDriverName(err)
}

// Exists wraps Exists of the underlying storage driver.
func (base *Base) Exists(ctx context.Context, subPath string) (bool, error) {
	if err := base.require(storagedriver.CapReader); err != nil {
		return false, err
	}
	if err := base.checkPath(subPath); err != nil {
		return false, err
	}
	defer timed(ctx, "Exists")()
	ok, err := base.StorageDriver.Exists(ctx, subPath)
	return ok, base.setDriverName(err)
}

// Download wraps Download of the underlying storage driver.
func (base *Base) Download(ctx context.Context, subPath string) (*storagedriver.StreamDescriptor, error) {
	if err := base.require(storagedriver.CapReader); err != nil {
		return nil, err
	}
	if err := base.checkPath(subPath); err != nil {
		return nil, err
	}
	defer timed(ctx, "Download")()
	sd, err := base.StorageDriver.Download(ctx, subPath)
	return sd, base.setDriverName(err)
}

// Upload wraps Upload of the underlying storage driver.
func (base *Base) Upload(ctx context.Context, subPath string, body io.Reader, opts storagedriver.UploadOptions) (*storagedriver.UploadResult, error) {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return nil, err
	}
	if err := base.checkPath(subPath); err != nil {
		return nil, err
	}
	if opts.ContentLength < 0 {
		return nil, storagedriver.InvalidPathError{
			Path:       subPath,
			DriverName: base.StorageDriver.Name(),
			Reason:     "negative content length",
		}
	}
	defer timed(ctx, "Upload")()
	res, err := base.StorageDriver.Upload(ctx, subPath, body, opts)
	return res, base.setDriverName(err)
}

// Mkdir wraps Mkdir of the underlying storage driver.
func (base *Base) Mkdir(ctx context.Context, subPath string) (storagedriver.MkdirResult, error) {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return storagedriver.MkdirResult{}, err
	}
	if err := base.checkPath(subPath); err != nil {
		return storagedriver.MkdirResult{}, err
	}
	defer timed(ctx, "Mkdir")()
	res, err := base.StorageDriver.Mkdir(ctx, subPath)
	return res, base.setDriverName(err)
}

// Remove wraps Remove of the underlying storage driver.
func (base *Base) Remove(ctx context.Context, subPath string) error {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return err
	}
	if err := base.checkPath(subPath); err != nil {
		return err
	}
	defer timed(ctx, "Remove")()
	return base.setDriverName(base.StorageDriver.Remove(ctx, subPath))
}

// Rename wraps Rename of the underlying storage driver.
func (base *Base) Rename(ctx context.Context, oldSubPath, newSubPath string) error {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return err
	}
	if err := base.checkPath(oldSubPath); err != nil {
		return err
	}
	if err := base.checkPath(newSubPath); err != nil {
		return err
	}
	defer timed(ctx, "Rename")()
	return base.setDriverName(base.StorageDriver.Rename(ctx, oldSubPath, newSubPath))
}

// Copy wraps Copy of the underlying storage driver.
func (base *Base) Copy(ctx context.Context, srcSubPath, dstSubPath string, opts storagedriver.CopyOptions) (storagedriver.CopyResult, error) {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return storagedriver.CopyResult{}, err
	}
	if err := base.checkPath(srcSubPath); err != nil {
		return storagedriver.CopyResult{}, err
	}
	if err := base.checkPath(dstSubPath); err != nil {
		return storagedriver.CopyResult{}, err
	}
	defer timed(ctx, "Copy")()
	res, err := base.StorageDriver.Copy(ctx, srcSubPath, dstSubPath, opts)
	return res, base.setDriverName(err)
}

// BatchRemove wraps BatchRemove of the underlying storage driver.
func (base *Base) BatchRemove(ctx context.Context, subPaths []string) (storagedriver.BatchRemoveResult, error) {
	if err := base.require(storagedriver.CapWriter); err != nil {
		return storagedriver.BatchRemoveResult{}, err
	}
	for _, p := range subPaths {
		if err := base.checkPath(p); err != nil {
			return storagedriver.BatchRemoveResult{}, err
		}
	}
	defer timed(ctx, "BatchRemove")()
	res, err := base.StorageDriver.BatchRemove(ctx, subPaths)
	return res, base.setDriverName(err)
}

// Search wraps Search of the underlying storage driver.
func (base *Base) Search(ctx context.Context, query string, opts storagedriver.SearchOptions) ([]storagedriver.FileEntry, error) {
	if err := base.require(storagedriver.CapSearch); err != nil {
		return nil, err
	}
	defer timed(ctx, "Search")()
	entries, err := base.StorageDriver.Search(ctx, query, opts)
	return entries, base.setDriverName(err)
}

// DownloadURL wraps DownloadURL of the underlying storage driver.
func (base *Base) DownloadURL(ctx context.Context, subPath string, opts storagedriver.LinkOptions) (*storagedriver.Link, error) {
	if err := base.require(storagedriver.CapDirectLink); err != nil {
		return nil, err
	}
	if err := base.checkPath(subPath); err != nil {
		return nil, err
	}
	defer timed(ctx, "DownloadURL")()
	link, err := base.StorageDriver.DownloadURL(ctx, subPath, opts)
	return link, base.setDriverName(err)
}
