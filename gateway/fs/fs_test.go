package fs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/cachebus"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/inmemory"
)

// flakyDriver wraps the memory driver and fails Remove on marked sub-paths.
type flakyDriver struct {
	*inmemory.Driver
	failRemove map[string]bool
}

func (d *flakyDriver) Remove(ctx context.Context, subPath string) error {
	if d.failRemove[subPath] {
		return storagedriver.Error{DriverName: "flaky", Op: "remove", Enclosed: errors.New("provider outage")}
	}
	return d.Driver.Remove(ctx, subPath)
}

var flakyInstances = map[string]*flakyDriver{}

type flakyFactory struct{}

func (flakyFactory) Create(_ context.Context, params map[string]interface{}) (storagedriver.StorageDriver, error) {
	id, _ := params["id"].(string)
	d := &flakyDriver{Driver: inmemory.New(), failRemove: map[string]bool{}}
	flakyInstances[id] = d
	return d, nil
}

func init() {
	factory.Register("flaky", flakyFactory{})
}

func newTestFS(t *testing.T, bus *cachebus.Bus) *FileSystem {
	t.Helper()
	mounts := mount.NewManager(mount.StaticConfigs{
		"mem1":  {ID: "mem1", Type: "memory"},
		"mem2":  {ID: "mem2", Type: "memory"},
		"flak1": {ID: "flak1", Type: "flaky", Parameters: map[string]interface{}{"id": "flak1"}},
	})
	for _, mt := range []*mount.Mount{
		{ID: "docs", Path: "/docs", StorageConfigID: "mem1", Active: true},
		{ID: "media", Path: "/media", StorageConfigID: "mem2", Active: true},
		{ID: "flaky", Path: "/flaky", StorageConfigID: "flak1", Active: true},
	} {
		require.NoError(t, mounts.Register(mt))
	}
	return New(mounts, bus)
}

func seed(t *testing.T, fsys *FileSystem, p, content string) {
	t.Helper()
	_, err := fsys.Upload(context.Background(), p, strings.NewReader(content), storagedriver.UploadOptions{
		ContentLength:     int64(len(content)),
		AutoCreateParents: true,
	})
	require.NoError(t, err)
}

func readFile(t *testing.T, fsys *FileSystem, p string) string {
	t.Helper()
	desc, err := fsys.Download(context.Background(), p)
	require.NoError(t, err)
	rc, err := desc.Open(context.Background(), nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestUploadStatList(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/reports/q1.txt", "quarterly")

	fe, err := fsys.Stat(ctx, "/docs/reports/q1.txt")
	require.NoError(t, err)
	assert.Equal(t, "/docs/reports/q1.txt", fe.FsPath, "entry paths are mount-view paths")
	assert.Equal(t, "docs", fe.MountID)

	entries, err := fsys.List(ctx, "/docs/reports", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/docs/reports/q1.txt", entries[0].FsPath)
}

func TestRootListingSynthesizesMounts(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)

	entries, err := fsys.List(ctx, "/", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].IsVirtual)
	assert.True(t, entries[0].IsDirectory)
	assert.Equal(t, "/docs", entries[0].FsPath)
	assert.Equal(t, "docs", entries[0].Name)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/a.txt", "x")

	ok, err := fsys.Exists(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Exists(ctx, "/docs/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// paths outside every mount report absent rather than failing
	ok, err = fsys.Exists(ctx, "/nowhere/at/all")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameWithinMount(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/old.txt", "content")

	require.NoError(t, fsys.Rename(ctx, "/docs/old.txt", "/docs/new.txt"))
	assert.Equal(t, "content", readFile(t, fsys, "/docs/new.txt"))

	ok, err := fsys.Exists(ctx, "/docs/old.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameAcrossStorageRejected(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/a.txt", "x")
	seed(t, fsys, "/media/keep", "y")

	err := fsys.Rename(ctx, "/docs/a.txt", "/media/a.txt")
	require.Error(t, err)
	var apiErr errcode.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errcode.ErrorCodeValidation, apiErr.Code)
}

func TestCopySameStorageUsesNativeCopy(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/src.txt", "payload")

	res, err := fsys.Copy(ctx, "/docs/src.txt", "/docs/dst.txt", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)
	assert.Equal(t, "payload", readFile(t, fsys, "/docs/dst.txt"))
}

func TestCopyAcrossStorageStreams(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/src.txt", "cross-driver payload")

	res, err := fsys.Copy(ctx, "/docs/src.txt", "/media/dst.txt", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)
	assert.Equal(t, "cross-driver payload", readFile(t, fsys, "/media/dst.txt"))
}

func TestCopyDirectoryAcrossStorage(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/tree/a.txt", "a")
	seed(t, fsys, "/docs/tree/sub/b.txt", "b")

	res, err := fsys.Copy(ctx, "/docs/tree", "/media/tree", storagedriver.CopyOptions{})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySuccess, res.Status)
	assert.Equal(t, "a", readFile(t, fsys, "/media/tree/a.txt"))
	assert.Equal(t, "b", readFile(t, fsys, "/media/tree/sub/b.txt"))
}

func TestCopySkipExistingAcrossStorage(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/src.txt", "new")
	seed(t, fsys, "/media/dst.txt", "old")

	res, err := fsys.Copy(ctx, "/docs/src.txt", "/media/dst.txt", storagedriver.CopyOptions{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, storagedriver.CopySkipped, res.Status)
	assert.Equal(t, "old", readFile(t, fsys, "/media/dst.txt"))
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/src.txt", "moving")

	require.NoError(t, fsys.Move(ctx, "/docs/src.txt", "/media/dst.txt"))
	assert.Equal(t, "moving", readFile(t, fsys, "/media/dst.txt"))

	ok, err := fsys.Exists(ctx, "/docs/src.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMoveRollsBackOnSourceDeleteFailure(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/flaky/src.txt", "stuck")
	flakyInstances["flak1"].failRemove["/src.txt"] = true

	err := fsys.Move(ctx, "/flaky/src.txt", "/media/dst.txt")
	require.Error(t, err)

	// the half-written destination was rolled back
	ok, exErr := fsys.Exists(ctx, "/media/dst.txt")
	require.NoError(t, exErr)
	assert.False(t, ok, "destination must not survive a failed move")

	ok, exErr = fsys.Exists(ctx, "/flaky/src.txt")
	require.NoError(t, exErr)
	assert.True(t, ok, "source remains when its delete failed")
}

func TestBatchRemove(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/a.txt", "1")
	seed(t, fsys, "/media/b.txt", "2")

	res, err := fsys.BatchRemove(ctx, []string{"/docs/a.txt", "/docs/missing", "/media/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.txt", "/media/b.txt"}, res.Success)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "/docs/missing", res.Failed[0].Path)
}

func TestBatchCopy(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/a.txt", "1")

	out := fsys.BatchCopy(ctx, []CopyItem{
		{SourcePath: "/docs/a.txt", TargetPath: "/media/a.txt"},
		{SourcePath: "/docs/missing", TargetPath: "/media/m.txt"},
	}, storagedriver.CopyOptions{})
	require.Len(t, out, 2)
	assert.Equal(t, storagedriver.CopySuccess, out[0].Result.Status)
	assert.Equal(t, storagedriver.CopyFailed, out[1].Result.Status)
}

func TestSearchScopedToMount(t *testing.T) {
	ctx := context.Background()
	fsys := newTestFS(t, nil)
	seed(t, fsys, "/docs/report.pdf", "r")
	seed(t, fsys, "/media/report.mp4", "m")

	entries, err := fsys.Search(ctx, "/docs", "report", storagedriver.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/docs/report.pdf", entries[0].FsPath)
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	bus := cachebus.New()
	defer bus.Close()

	events := make(chan cachebus.Event, 16)
	bus.Subscribe(cachebus.SubscriberFunc(func(ev cachebus.Event) { events <- ev }))

	fsys := newTestFS(t, bus)
	seed(t, fsys, "/docs/a.txt", "x")

	ev := <-events
	assert.Equal(t, cachebus.ReasonUpload, ev.Reason)
	assert.Equal(t, "docs", ev.MountID)
	assert.Equal(t, "mem1", ev.StorageConfigID)
	assert.Equal(t, []string{"/a.txt"}, ev.Paths)

	require.NoError(t, fsys.Remove(ctx, "/docs/a.txt"))
	ev = <-events
	assert.Equal(t, cachebus.ReasonRemove, ev.Reason)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/docs/a.txt", JoinPath("/docs", "/a.txt"))
	assert.Equal(t, "/docs", JoinPath("/docs", "/"))
	assert.Equal(t, "/a.txt", JoinPath("/", "/a.txt"))
}
