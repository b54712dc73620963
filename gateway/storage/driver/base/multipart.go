package base

import (
	"context"
	"io"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// The multipart contract is optional; Base forwards to the inner driver when
// it declares CapMultipart and implements it, so callers can assert the
// wrapped Driver against storagedriver.MultipartDriver directly.

func (base *Base) multipart() (storagedriver.MultipartDriver, error) {
	if err := base.require(storagedriver.CapMultipart); err != nil {
		return nil, err
	}
	m, ok := base.StorageDriver.(storagedriver.MultipartDriver)
	if !ok {
		return nil, storagedriver.CapabilityError{
			DriverName: base.StorageDriver.Name(),
			Missing:    storagedriver.CapMultipart,
		}
	}
	return m, nil
}

// MultipartInit wraps MultipartInit of the underlying storage driver.
func (base *Base) MultipartInit(ctx context.Context, subPath string, init storagedriver.MultipartInit) (*storagedriver.ProviderSession, error) {
	m, err := base.multipart()
	if err != nil {
		return nil, err
	}
	if err := base.checkPath(subPath); err != nil {
		return nil, err
	}
	defer timed(ctx, "MultipartInit")()
	sess, err := m.MultipartInit(ctx, subPath, init)
	return sess, base.setDriverName(err)
}

// MultipartPutChunk wraps MultipartPutChunk of the underlying storage driver.
func (base *Base) MultipartPutChunk(ctx context.Context, sess *storagedriver.ProviderSession, partNumber int, contentRange string, body io.Reader, length int64) (*storagedriver.ChunkResult, error) {
	m, err := base.multipart()
	if err != nil {
		return nil, err
	}
	defer timed(ctx, "MultipartPutChunk")()
	res, err := m.MultipartPutChunk(ctx, sess, partNumber, contentRange, body, length)
	return res, base.setDriverName(err)
}

// MultipartProbe wraps MultipartProbe of the underlying storage driver.
func (base *Base) MultipartProbe(ctx context.Context, sess *storagedriver.ProviderSession, fileSize int64) (*storagedriver.ChunkResult, error) {
	m, err := base.multipart()
	if err != nil {
		return nil, err
	}
	defer timed(ctx, "MultipartProbe")()
	res, err := m.MultipartProbe(ctx, sess, fileSize)
	return res, base.setDriverName(err)
}

// MultipartComplete wraps MultipartComplete of the underlying storage driver.
func (base *Base) MultipartComplete(ctx context.Context, subPath string, sess *storagedriver.ProviderSession, parts []storagedriver.Part) (*storagedriver.UploadResult, error) {
	m, err := base.multipart()
	if err != nil {
		return nil, err
	}
	defer timed(ctx, "MultipartComplete")()
	res, err := m.MultipartComplete(ctx, subPath, sess, parts)
	return res, base.setDriverName(err)
}

// MultipartAbort wraps MultipartAbort of the underlying storage driver.
func (base *Base) MultipartAbort(ctx context.Context, subPath string, sess *storagedriver.ProviderSession) error {
	m, err := base.multipart()
	if err != nil {
		return err
	}
	defer timed(ctx, "MultipartAbort")()
	return base.setDriverName(m.MultipartAbort(ctx, subPath, sess))
}

// MultipartPartURLs forwards to drivers that can presign per-part URLs.
func (base *Base) MultipartPartURLs(ctx context.Context, sess *storagedriver.ProviderSession, partNumbers []int) (map[int]string, error) {
	if err := base.require(storagedriver.CapPresigned); err != nil {
		return nil, err
	}
	p, ok := base.StorageDriver.(storagedriver.PartURLer)
	if !ok {
		return nil, storagedriver.CapabilityError{
			DriverName: base.StorageDriver.Name(),
			Missing:    storagedriver.CapPresigned,
		}
	}
	defer timed(ctx, "MultipartPartURLs")()
	urls, err := p.MultipartPartURLs(ctx, sess, partNumbers)
	return urls, base.setDriverName(err)
}
