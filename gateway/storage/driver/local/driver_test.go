package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(t.TempDir())
	require.NoError(t, err)
	return d
}

func put(t *testing.T, d *Driver, subPath, content string) {
	t.Helper()
	_, err := d.Upload(context.Background(), subPath, strings.NewReader(content), storagedriver.UploadOptions{
		ContentLength:     int64(len(content)),
		AutoCreateParents: true,
	})
	require.NoError(t, err)
}

func read(t *testing.T, d *Driver, subPath string, rng *storagedriver.RangeSpec) string {
	t.Helper()
	sd, err := d.Download(context.Background(), subPath)
	require.NoError(t, err)
	rc, err := sd.Open(context.Background(), rng)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestUploadDownloadRoundtrip(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/docs/a.txt", "hello")

	fe, err := d.Stat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/docs/a.txt", fe.FsPath)
	assert.Equal(t, "a.txt", fe.Name)
	assert.EqualValues(t, 5, fe.Size)
	assert.False(t, fe.IsDirectory)
	assert.NotEmpty(t, fe.ETag)
	assert.Equal(t, "text/plain; charset=utf-8", fe.MimeType)

	assert.Equal(t, "hello", read(t, d, "/docs/a.txt", nil))
}

func TestUploadWithoutParents(t *testing.T) {
	d := newTestDriver(t)

	_, err := d.Upload(context.Background(), "/missing/a.txt", strings.NewReader("x"), storagedriver.UploadOptions{
		ContentLength: 1,
	})
	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUploadShortBody(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Upload(ctx, "/a.txt", strings.NewReader("ab"), storagedriver.UploadOptions{
		ContentLength: 10,
	})
	require.Error(t, err)

	// the partial file is not left behind
	exists, err := d.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadRange(t *testing.T) {
	d := newTestDriver(t)

	put(t, d, "/a.txt", "0123456789")
	assert.Equal(t, "2345", read(t, d, "/a.txt", &storagedriver.RangeSpec{Start: 2, End: 5}))
}

func TestDownloadDirectory(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Mkdir(ctx, "/docs")
	require.NoError(t, err)

	_, err = d.Download(ctx, "/docs")
	var invalid storagedriver.InvalidPathError
	assert.ErrorAs(t, err, &invalid)
}

func TestListSkipsScratchDir(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/a.txt", "x")
	put(t, d, "/"+scratchDirName+"/part.0", "y")
	_, err := d.Mkdir(ctx, "/sub")
	require.NoError(t, err)

	entries, err := d.List(ctx, "/", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name, entries[1].Name}
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names)
}

func TestListNotFound(t *testing.T) {
	d := newTestDriver(t)

	_, err := d.List(context.Background(), "/missing", storagedriver.ListOptions{})
	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMkdirIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	res, err := d.Mkdir(ctx, "/docs/sub")
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)

	res, err = d.Mkdir(ctx, "/docs/sub")
	require.NoError(t, err)
	assert.True(t, res.AlreadyExists)
}

func TestMkdirOverFile(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/a.txt", "x")

	_, err := d.Mkdir(ctx, "/a.txt")
	var invalid storagedriver.InvalidPathError
	assert.ErrorAs(t, err, &invalid)
}

func TestRemoveRecursive(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/docs/sub/a.txt", "x")

	require.NoError(t, d.Remove(ctx, "/docs"))

	exists, err := d.Exists(ctx, "/docs/sub/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, d.Remove(ctx, "/docs"), &notFound)
}

func TestRename(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/a.txt", "hello")
	require.NoError(t, d.Rename(ctx, "/a.txt", "/b.txt"))

	assert.Equal(t, "hello", read(t, d, "/b.txt", nil))

	exists, err := d.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, d.Rename(ctx, "/missing.txt", "/c.txt"), &notFound)
}

func TestCopyFileAndTree(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/src/a.txt", "aa")
	put(t, d, "/src/sub/b.txt", "bb")

	res, err := d.Copy(ctx, "/src", "/dst", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)
	assert.Equal(t, "aa", read(t, d, "/dst/a.txt", nil))
	assert.Equal(t, "bb", read(t, d, "/dst/sub/b.txt", nil))
}

func TestCopySkipExisting(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/a.txt", "new")
	put(t, d, "/b.txt", "old")

	res, err := d.Copy(ctx, "/a.txt", "/b.txt", storagedriver.CopyOptions{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySkipped, res.Status)
	assert.Equal(t, "old", read(t, d, "/b.txt", nil))
}

func TestCopyMissingSource(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.Copy(context.Background(), "/missing.txt", "/b.txt", storagedriver.CopyOptions{})
	require.Error(t, err)
	assert.Equal(t, storagedriver.CopyFailed, res.Status)
}

func TestBatchRemovePartialFailure(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/a.txt", "x")
	put(t, d, "/b.txt", "y")

	res, err := d.BatchRemove(ctx, []string{"/a.txt", "/missing.txt", "/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.txt", "/b.txt"}, res.Success)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "/missing.txt", res.Failed[0].Path)
}

func TestSearch(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	put(t, d, "/docs/report.txt", "x")
	put(t, d, "/docs/sub/Report-2.txt", "y")
	put(t, d, "/media/song.mp3", "z")
	put(t, d, "/"+scratchDirName+"/report.part", "p")

	entries, err := d.Search(ctx, "report", storagedriver.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	scoped, err := d.Search(ctx, "report", storagedriver.SearchOptions{SearchPath: "/media"})
	require.NoError(t, err)
	assert.Empty(t, scoped)

	limited, err := d.Search(ctx, "report", storagedriver.SearchOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDownloadURLUnsupported(t *testing.T) {
	d := newTestDriver(t)

	_, err := d.DownloadURL(context.Background(), "/a.txt", storagedriver.LinkOptions{})
	var capErr storagedriver.CapabilityError
	assert.ErrorAs(t, err, &capErr)
}
