package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityHas(t *testing.T) {
	caps := CapReader | CapWriter | CapMultipart

	assert.True(t, caps.Has(CapReader))
	assert.True(t, caps.Has(CapReader|CapWriter))
	assert.False(t, caps.Has(CapAtomic))
	assert.False(t, caps.Has(CapReader|CapDirectLink))
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "READER|PROXY", (CapReader | CapProxy).String())
	assert.Equal(t, "", Capability(0).String())
}

func TestRangeSpecLength(t *testing.T) {
	assert.Equal(t, int64(1), RangeSpec{Start: 0, End: 0}.Length())
	assert.Equal(t, int64(100), RangeSpec{Start: 0, End: 99}.Length())
	assert.Equal(t, int64(10), RangeSpec{Start: 90, End: 99}.Length())
}

func TestCheckPath(t *testing.T) {
	for _, p := range []string{"/", "/a", "/a/b.txt", "/with space/x"} {
		assert.NoError(t, CheckPath("test", p), p)
	}
	for _, p := range []string{"", "a/b", "/a//b", "/a/../b", "/a/.", "/a\x00b"} {
		err := CheckPath("test", p)
		assert.Error(t, err, fmt.Sprintf("%q", p))
		var inv InvalidPathError
		assert.True(t, errors.As(err, &inv), fmt.Sprintf("%q", p))
	}
}

func TestIsNotFound(t *testing.T) {
	inner := PathNotFoundError{Path: "/x", DriverName: "s3"}
	wrapped := Error{DriverName: "s3", Op: "stat", Enclosed: inner}

	assert.True(t, IsNotFound(inner))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := Error{DriverName: "webdav", Op: "list", Enclosed: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "webdav: list")
}
