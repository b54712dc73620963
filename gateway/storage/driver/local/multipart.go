package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// Chunked uploads land as numbered part files in a scratch directory and are
// concatenated on complete. The scratch directory lives under the root so a
// restart can garbage-collect it.

func (d *driver) scratchDir(id string) string {
	return filepath.Join(d.rootDirectory, scratchDirName, id)
}

func (d *driver) MultipartInit(_ context.Context, subPath string, _ storagedriver.MultipartInit) (*storagedriver.ProviderSession, error) {
	parent := filepath.Dir(d.fullPath(subPath))
	if fi, err := os.Stat(parent); err != nil || !fi.IsDir() {
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(d.scratchDir(id), 0o755); err != nil {
		return nil, err
	}
	return &storagedriver.ProviderSession{
		Strategy: storagedriver.StrategyLocalAssembly,
		UploadID: id,
	}, nil
}

func (d *driver) MultipartPutChunk(_ context.Context, sess *storagedriver.ProviderSession, partNumber int, _ string, body io.Reader, length int64) (*storagedriver.ChunkResult, error) {
	dir := d.scratchDir(sess.UploadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
	}

	partPath := filepath.Join(dir, fmt.Sprintf("%06d.part", partNumber))
	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, io.LimitReader(body, length))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if n != length {
		return nil, fmt.Errorf("short chunk: wrote %d of %d bytes", n, length)
	}

	total, err := d.assembledBytes(sess.UploadID)
	if err != nil {
		return nil, err
	}
	return &storagedriver.ChunkResult{BytesAccepted: total}, nil
}

func (d *driver) MultipartProbe(_ context.Context, sess *storagedriver.ProviderSession, _ int64) (*storagedriver.ChunkResult, error) {
	if _, err := os.Stat(d.scratchDir(sess.UploadID)); os.IsNotExist(err) {
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
	}
	total, err := d.assembledBytes(sess.UploadID)
	if err != nil {
		return nil, err
	}
	return &storagedriver.ChunkResult{BytesAccepted: total}, nil
}

func (d *driver) MultipartComplete(ctx context.Context, subPath string, sess *storagedriver.ProviderSession, _ []storagedriver.Part) (*storagedriver.UploadResult, error) {
	dir := d.scratchDir(sess.UploadID)
	parts, err := d.partFiles(sess.UploadID)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
	}

	tmp := filepath.Join(dir, "assembled")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	var size int64
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			out.Close()
			return nil, err
		}
		in, err := os.Open(p)
		if err != nil {
			out.Close()
			return nil, err
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return nil, err
		}
		size += n
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	full := d.fullPath(subPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, full); err != nil {
		return nil, err
	}
	os.RemoveAll(dir)

	fi, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return &storagedriver.UploadResult{
		StoragePath: subPath,
		ETag:        fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		Size:        size,
	}, nil
}

func (d *driver) MultipartAbort(_ context.Context, _ string, sess *storagedriver.ProviderSession) error {
	return os.RemoveAll(d.scratchDir(sess.UploadID))
}

func (d *driver) partFiles(id string) ([]string, error) {
	dirents, err := os.ReadDir(d.scratchDir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.ErrSessionExpired{DriverName: driverName}
		}
		return nil, err
	}
	var parts []string
	for _, de := range dirents {
		if strings.HasSuffix(de.Name(), ".part") {
			parts = append(parts, filepath.Join(d.scratchDir(id), de.Name()))
		}
	}
	sort.Strings(parts)
	return parts, nil
}

func (d *driver) assembledBytes(id string) (int64, error) {
	parts, err := d.partFiles(id)
	if err != nil {
		return 0, err
	}
	// Progress counts only the contiguous prefix of parts; a gap means the
	// client must resume from the gap.
	var total int64
	for i, p := range parts {
		base := filepath.Base(p)
		num, err := strconv.Atoi(strings.TrimSuffix(base, ".part"))
		if err != nil || num != i+1 {
			break
		}
		fi, err := os.Stat(p)
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}
