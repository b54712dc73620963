package mount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/inmemory"
)

func testConfigs() StaticConfigs {
	return StaticConfigs{
		"mem1": {ID: "mem1", Type: "memory"},
		"mem2": {ID: "mem2", Type: "memory"},
		"off":  {ID: "off", Type: "memory", Disabled: true},
	}
}

func newTestManager(t *testing.T, mounts ...*Mount) *Manager {
	t.Helper()
	m := NewManager(testConfigs())
	for _, mt := range mounts {
		require.NoError(t, m.Register(mt))
	}
	return m
}

func TestResolveLongestPrefixWins(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true},
		&Mount{ID: "b", Path: "/data/archive", StorageConfigID: "mem2", Active: true},
	)

	mt, sub, err := m.Resolve("/data/archive/2024/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "b", mt.ID)
	assert.Equal(t, "/2024/report.pdf", sub)

	mt, sub, err = m.Resolve("/data/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", mt.ID)
	assert.Equal(t, "/notes.txt", sub)

	// the mount point itself resolves with sub-path "/"
	mt, sub, err = m.Resolve("/data/archive")
	require.NoError(t, err)
	assert.Equal(t, "b", mt.ID)
	assert.Equal(t, "/", sub)
}

func TestResolveTrailingSlash(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true},
	)
	mt, sub, err := m.Resolve("/data/docs/")
	require.NoError(t, err)
	assert.Equal(t, "a", mt.ID)
	assert.Equal(t, "/docs", sub)
}

func TestResolveRootMount(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "root", Path: "/", StorageConfigID: "mem1", Active: true},
	)
	mt, sub, err := m.Resolve("/anything/below")
	require.NoError(t, err)
	assert.Equal(t, "root", mt.ID)
	assert.Equal(t, "/anything/below", sub)

	_, sub, err = m.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, "/", sub)
}

func TestResolveNoMount(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true},
	)
	_, _, err := m.Resolve("/other/file")
	var noMount ErrNoMount
	require.ErrorAs(t, err, &noMount)
	assert.Equal(t, "/other/file", noMount.Path)

	// sibling with the mount path as a string prefix is not under the mount
	_, _, err = m.Resolve("/database/file")
	assert.ErrorAs(t, err, &noMount)
}

func TestResolveSkipsInactive(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: false},
	)
	_, _, err := m.Resolve("/data/x")
	var noMount ErrNoMount
	assert.ErrorAs(t, err, &noMount)
}

func TestRegisterRejectsDuplicatePath(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true},
	)
	err := m.Register(&Mount{ID: "b", Path: "/data", StorageConfigID: "mem2", Active: true})
	assert.Error(t, err)
}

func TestRegisterRejectsNestingOnSameStorage(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true},
	)
	err := m.Register(&Mount{ID: "b", Path: "/data/sub", StorageConfigID: "mem1", Active: true})
	require.Error(t, err)

	// different storage config may nest
	assert.NoError(t, m.Register(&Mount{ID: "c", Path: "/data/sub", StorageConfigID: "mem2", Active: true}))
}

func TestRegisterNormalizesPath(t *testing.T) {
	m := newTestManager(t)
	mt := &Mount{ID: "a", Path: "/data/", StorageConfigID: "mem1", Active: true}
	require.NoError(t, m.Register(mt))
	assert.Equal(t, "/data", mt.Path)
	assert.Equal(t, PolicyNativeProxy, mt.WebDAVPolicy)

	assert.Error(t, m.Register(&Mount{ID: "b", Path: "relative", StorageConfigID: "mem1"}))
	assert.Error(t, m.Register(&Mount{ID: "c", Path: "/a//b", StorageConfigID: "mem1"}))
}

func TestDriverPooling(t *testing.T) {
	ctx := context.Background()
	mt := &Mount{ID: "a", Path: "/data", StorageConfigID: "mem1", Active: true}
	m := newTestManager(t, mt)

	d1, err := m.Driver(ctx, mt)
	require.NoError(t, err)
	d2, err := m.Driver(ctx, mt)
	require.NoError(t, err)
	assert.Same(t, d1, d2)

	m.InvalidateConfig("mem1")
	d3, err := m.Driver(ctx, mt)
	require.NoError(t, err)
	assert.NotSame(t, d1, d3)
}

func TestDriverDisabledConfig(t *testing.T) {
	ctx := context.Background()
	mt := &Mount{ID: "a", Path: "/data", StorageConfigID: "off", Active: true}
	m := newTestManager(t, mt)

	_, err := m.Driver(ctx, mt)
	var cfgErr ErrConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "a", cfgErr.MountID)

	_, err = m.Config(ctx, mt)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDriverUnknownConfig(t *testing.T) {
	ctx := context.Background()
	mt := &Mount{ID: "a", Path: "/data", StorageConfigID: "nope", Active: true}
	m := newTestManager(t, mt)

	_, err := m.Driver(ctx, mt)
	var cfgErr ErrConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestMountsSortedByPath(t *testing.T) {
	m := newTestManager(t,
		&Mount{ID: "b", Path: "/zeta", StorageConfigID: "mem1", Active: true},
		&Mount{ID: "a", Path: "/alpha", StorageConfigID: "mem2", Active: true},
		&Mount{ID: "c", Path: "/mid", StorageConfigID: "mem1", Active: false},
	)
	mounts := m.Mounts()
	require.Len(t, mounts, 2)
	assert.Equal(t, "/alpha", mounts[0].Path)
	assert.Equal(t, "/zeta", mounts[1].Path)
}
