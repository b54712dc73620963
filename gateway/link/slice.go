package link

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// ErrRangeNotSatisfiable signals a Range header outside the file's bounds;
// handlers answer it with 416.
type ErrRangeNotSatisfiable struct {
	Header string
	Size   int64
}

func (e ErrRangeNotSatisfiable) Error() string {
	return fmt.Sprintf("range %q not satisfiable for size %d", e.Header, e.Size)
}

// ParseRange parses a single-range "bytes=a-b" header against a known size.
// Suffix ranges ("bytes=-n") and open ends ("bytes=a-") are normalized to an
// inclusive [start, end]. Multi-range requests are not supported and resolve
// to the full body (nil spec).
func ParseRange(header string, size int64) (*storagedriver.RangeSpec, error) {
	if header == "" {
		return nil, nil
	}
	value, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}
	if strings.Contains(value, ",") {
		return nil, nil
	}
	dash := strings.IndexByte(value, '-')
	if dash < 0 {
		return nil, nil
	}
	startStr := strings.TrimSpace(value[:dash])
	endStr := strings.TrimSpace(value[dash+1:])

	if startStr == "" {
		// suffix range: last n bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
		}
		if size < 0 {
			return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return &storagedriver.RangeSpec{Start: start, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
	}
	end := size - 1
	if endStr != "" {
		if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
		}
	} else if size < 0 {
		// open end against unknown length stays open
		end = storagedriver.OpenRangeEnd
	}
	if size >= 0 {
		if start >= size {
			return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
		}
		if end >= size {
			end = size - 1
		}
	}
	if end < start {
		return nil, ErrRangeNotSatisfiable{Header: header, Size: size}
	}
	return &storagedriver.RangeSpec{Start: start, End: end}, nil
}

// sliceReader emits only [start, start+length) of the underlying stream for
// sources that cannot seek. The leading skip happens lazily on first read;
// the source is closed promptly once the window is exhausted.
type sliceReader struct {
	src     io.ReadCloser
	skip    int64
	remain  int64
	skipped bool
	closed  bool
}

// NewSliceReader wraps a full-content stream so that it yields exactly the
// requested byte window.
func NewSliceReader(src io.ReadCloser, start, length int64) io.ReadCloser {
	return &sliceReader{src: src, skip: start, remain: length}
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.closed || s.remain <= 0 {
		s.Close()
		return 0, io.EOF
	}
	if !s.skipped {
		if _, err := io.CopyN(io.Discard, s.src, s.skip); err != nil {
			return 0, err
		}
		s.skipped = true
	}
	if int64(len(p)) > s.remain {
		p = p[:s.remain]
	}
	n, err := s.src.Read(p)
	s.remain -= int64(n)
	if s.remain <= 0 {
		s.Close()
		if err == nil || err == io.EOF {
			return n, io.EOF
		}
	}
	return n, err
}

func (s *sliceReader) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}
