package link

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		header string
		size   int64
		want   *storagedriver.RangeSpec
	}{
		{"", 100, nil},
		{"items=0-5", 100, nil},               // unknown unit: full body
		{"bytes=0-5,10-20", 100, nil},         // multi-range: full body
		{"bytes=0-49", 100, &storagedriver.RangeSpec{Start: 0, End: 49}},
		{"bytes=50-", 100, &storagedriver.RangeSpec{Start: 50, End: 99}},
		{"bytes=-10", 100, &storagedriver.RangeSpec{Start: 90, End: 99}},
		{"bytes=-200", 100, &storagedriver.RangeSpec{Start: 0, End: 99}},
		{"bytes=0-1000", 100, &storagedriver.RangeSpec{Start: 0, End: 99}}, // end clipped
		{"bytes=0-0", 100, &storagedriver.RangeSpec{Start: 0, End: 0}},
	}
	for _, tc := range tests {
		got, err := ParseRange(tc.header, tc.size)
		require.NoError(t, err, tc.header)
		assert.Equal(t, tc.want, got, tc.header)
	}
}

func TestParseRangeNotSatisfiable(t *testing.T) {
	for _, header := range []string{
		"bytes=100-", "bytes=150-200", "bytes=5-2", "bytes=abc-def", "bytes=-0",
	} {
		_, err := ParseRange(header, 100)
		var rangeErr ErrRangeNotSatisfiable
		require.ErrorAs(t, err, &rangeErr, header)
		assert.Equal(t, int64(100), rangeErr.Size)
	}
}

func TestParseRangeUnknownSize(t *testing.T) {
	// open end against unknown size keeps the open end
	got, err := ParseRange("bytes=10-", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Start)
	assert.True(t, got.OpenEnded())
	assert.Equal(t, "bytes=10-", got.RequestHeader())

	// an explicit end stays a bounded window
	got, err = ParseRange("bytes=10-19", -1)
	require.NoError(t, err)
	assert.Equal(t, &storagedriver.RangeSpec{Start: 10, End: 19}, got)
	assert.False(t, got.OpenEnded())

	// suffix ranges need a known size
	_, err = ParseRange("bytes=-10", -1)
	var rangeErr ErrRangeNotSatisfiable
	assert.ErrorAs(t, err, &rangeErr)
}

type trackedCloser struct {
	io.Reader
	closed bool
}

func (c *trackedCloser) Close() error {
	c.closed = true
	return nil
}

func TestSliceReaderWindow(t *testing.T) {
	src := &trackedCloser{Reader: strings.NewReader("0123456789")}
	r := NewSliceReader(src, 2, 4)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))
	assert.True(t, src.closed, "source closed once window exhausted")
}

func TestSliceReaderFromStart(t *testing.T) {
	src := &trackedCloser{Reader: strings.NewReader("abcdef")}
	data, err := io.ReadAll(NewSliceReader(src, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestSliceReaderShortSource(t *testing.T) {
	src := &trackedCloser{Reader: strings.NewReader("abc")}
	data, err := io.ReadAll(NewSliceReader(src, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, "bc", string(data))
}

func TestSliceReaderCloseIdempotent(t *testing.T) {
	src := &trackedCloser{Reader: strings.NewReader("abc")}
	r := NewSliceReader(src, 0, 3)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	n, err := r.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
