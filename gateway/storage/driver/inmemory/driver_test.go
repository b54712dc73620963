package inmemory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

func put(t *testing.T, d *Driver, p, content string) {
	t.Helper()
	_, err := d.Upload(context.Background(), p, strings.NewReader(content), storagedriver.UploadOptions{
		ContentLength:     int64(len(content)),
		AutoCreateParents: true,
	})
	require.NoError(t, err)
}

func TestUploadStatDownload(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/docs/hello.txt", "hello world")

	fe, err := d.Stat(ctx, "/docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", fe.Name)
	assert.False(t, fe.IsDirectory)
	assert.Equal(t, int64(11), fe.Size)
	assert.NotEmpty(t, fe.ETag)

	desc, err := d.Download(ctx, "/docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), desc.Size)
	assert.True(t, desc.SupportsRange)

	rc, err := desc.Open(ctx, nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownloadRange(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/f.bin", "0123456789")

	desc, err := d.Download(ctx, "/f.bin")
	require.NoError(t, err)

	rc, err := desc.Open(ctx, &storagedriver.RangeSpec{Start: 2, End: 5})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	_, err = desc.Open(ctx, &storagedriver.RangeSpec{Start: 5, End: 50})
	assert.Error(t, err)
}

func TestDownloadErrors(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/dir/f.txt", "x")

	_, err := d.Download(ctx, "/missing")
	assert.True(t, storagedriver.IsNotFound(err))

	_, err = d.Download(ctx, "/dir")
	var inv storagedriver.InvalidPathError
	assert.ErrorAs(t, err, &inv)
}

func TestUploadRequiresParentWithoutAutoCreate(t *testing.T) {
	ctx := context.Background()
	d := New()
	_, err := d.Upload(ctx, "/nope/f.txt", strings.NewReader("x"), storagedriver.UploadOptions{ContentLength: 1})
	assert.True(t, storagedriver.IsNotFound(err))
}

func TestUploadEmptyFile(t *testing.T) {
	ctx := context.Background()
	d := New()
	res, err := d.Upload(ctx, "/empty", bytes.NewReader(nil), storagedriver.UploadOptions{ContentLength: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Size)

	fe, err := d.Stat(ctx, "/empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fe.Size)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/a/one.txt", "1")
	put(t, d, "/a/two.txt", "2")
	put(t, d, "/a/sub/deep.txt", "3")

	entries, err := d.List(ctx, "/a", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	names := []string{entries[0].Name, entries[1].Name, entries[2].Name}
	assert.Equal(t, []string{"one.txt", "sub", "two.txt"}, names)

	_, err = d.List(ctx, "/missing", storagedriver.ListOptions{})
	assert.True(t, storagedriver.IsNotFound(err))

	_, err = d.List(ctx, "/a/one.txt", storagedriver.ListOptions{})
	var inv storagedriver.InvalidPathError
	assert.ErrorAs(t, err, &inv)
}

func TestMkdirIdempotent(t *testing.T) {
	ctx := context.Background()
	d := New()

	res, err := d.Mkdir(ctx, "/x/y/z")
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)

	res, err = d.Mkdir(ctx, "/x/y/z")
	require.NoError(t, err)
	assert.True(t, res.AlreadyExists)

	// intermediate directories exist too
	fe, err := d.Stat(ctx, "/x/y")
	require.NoError(t, err)
	assert.True(t, fe.IsDirectory)
}

func TestMkdirOverFile(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/f", "x")
	_, err := d.Mkdir(ctx, "/f")
	var inv storagedriver.InvalidPathError
	assert.ErrorAs(t, err, &inv)
}

func TestRemoveRecursive(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/dir/a.txt", "a")
	put(t, d, "/dir/sub/b.txt", "b")

	require.NoError(t, d.Remove(ctx, "/dir"))

	ok, err := d.Exists(ctx, "/dir/sub/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, storagedriver.IsNotFound(d.Remove(ctx, "/dir")))
}

func TestRenameDirectory(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/old/f.txt", "content")

	require.NoError(t, d.Rename(ctx, "/old", "/new"))

	ok, err := d.Exists(ctx, "/new/f.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Exists(ctx, "/old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopySkipExisting(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/src.txt", "source")
	put(t, d, "/dst.txt", "dest")

	res, err := d.Copy(ctx, "/src.txt", "/dst.txt", storagedriver.CopyOptions{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySkipped, res.Status)

	res, err = d.Copy(ctx, "/src.txt", "/dst.txt", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)

	desc, err := d.Download(ctx, "/dst.txt")
	require.NoError(t, err)
	rc, err := desc.Open(ctx, nil)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "source", string(data))
}

func TestCopyDirectory(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/tree/a.txt", "a")
	put(t, d, "/tree/sub/b.txt", "b")

	res, err := d.Copy(ctx, "/tree", "/clone", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)

	ok, err := d.Exists(ctx, "/clone/sub/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchRemoveAccumulatesFailures(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/a", "1")
	put(t, d, "/b", "2")

	res, err := d.BatchRemove(ctx, []string{"/a", "/missing", "/b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, res.Success)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "/missing", res.Failed[0].Path)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	d := New()
	put(t, d, "/docs/report-2024.pdf", "r")
	put(t, d, "/docs/notes.txt", "n")
	put(t, d, "/other/report-old.pdf", "o")

	entries, err := d.Search(ctx, "REPORT", storagedriver.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = d.Search(ctx, "report", storagedriver.SearchOptions{SearchPath: "/docs"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report-2024.pdf", entries[0].Name)

	entries, err = d.Search(ctx, "report", storagedriver.SearchOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPathValidationThroughBase(t *testing.T) {
	ctx := context.Background()
	d := New()
	var inv storagedriver.InvalidPathError

	_, err := d.Stat(ctx, "relative")
	assert.ErrorAs(t, err, &inv)

	_, err = d.List(ctx, "/a/../b", storagedriver.ListOptions{})
	assert.ErrorAs(t, err, &inv)
}

func TestDownloadURLUnsupported(t *testing.T) {
	ctx := context.Background()
	d := New()
	_, err := d.DownloadURL(ctx, "/f", storagedriver.LinkOptions{})
	var capErr storagedriver.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, storagedriver.CapDirectLink, capErr.Missing)
}
