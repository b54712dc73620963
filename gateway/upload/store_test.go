package upload

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

func newBoltStore(t *testing.T) Store {
	t.Helper()
	st, err := NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func activeSessionRow(id, fsPath string) *Session {
	return &Session{
		ID:              id,
		StorageType:     "memory",
		StorageConfigID: "c1",
		MountID:         "m1",
		FsPath:          fsPath,
		SubPath:         fsPath,
		FileName:        filepath.Base(fsPath),
		FileSize:        100,
		Strategy:        storagedriver.StrategySingleSession,
		PartSize:        50,
		TotalParts:      2,
		Status:          StatusActive,
	}
}

func testStoreRoundTrip(t *testing.T, st Store) {
	ctx := context.Background()

	s := activeSessionRow("s1", "/data/a.bin")
	require.NoError(t, st.Put(ctx, s))
	assert.False(t, s.CreatedAt.IsZero())

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s.FsPath, got.FsPath)
	assert.Equal(t, StatusActive, got.Status)

	_, err = st.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, st.Delete(ctx, "s1"))
	_, err = st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// deleting a missing row is a no-op
	assert.NoError(t, st.Delete(ctx, "s1"))
}

func testStoreFingerprint(t *testing.T, st Store) {
	ctx := context.Background()

	s := activeSessionRow("s2", "/data/b.bin")
	s.FingerprintAlgo = "sha256"
	s.FingerprintValue = "ff00"
	require.NoError(t, st.Put(ctx, s))

	got, err := st.FindFingerprint(ctx, s.fingerprintKey())
	require.NoError(t, err)
	assert.Equal(t, "s2", got.ID)

	// terminal rows stop answering fingerprint lookups
	s.Status = StatusCompleted
	require.NoError(t, st.Put(ctx, s))
	_, err = st.FindFingerprint(ctx, s.fingerprintKey())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func testStoreListActive(t *testing.T, st Store) {
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, activeSessionRow("a", "/data/x.bin")))
	require.NoError(t, st.Put(ctx, activeSessionRow("b", "/data/y.bin")))
	require.NoError(t, st.Put(ctx, activeSessionRow("c", "/other/z.bin")))

	done := activeSessionRow("d", "/data/done.bin")
	done.Status = StatusCompleted
	require.NoError(t, st.Put(ctx, done))

	got, err := st.ListActive(ctx, "/data")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBoltStore(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) { testStoreRoundTrip(t, newBoltStore(t)) })
	t.Run("Fingerprint", func(t *testing.T) { testStoreFingerprint(t, newBoltStore(t)) })
	t.Run("ListActive", func(t *testing.T) { testStoreListActive(t, newBoltStore(t)) })
}

func TestMemStore(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) { testStoreRoundTrip(t, NewMemStore()) })
	t.Run("Fingerprint", func(t *testing.T) { testStoreFingerprint(t, NewMemStore()) })
	t.Run("ListActive", func(t *testing.T) { testStoreListActive(t, NewMemStore()) })
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	st, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, activeSessionRow("s1", "/data/a.bin")))
	require.NoError(t, st.Close())

	st, err = NewBoltStore(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.bin", got.FsPath)
}
