package driver

import (
	"context"
	"io"
)

// Multipart strategies. The strategy a driver reports at session open tells
// the client how completion works: single_session providers complete on the
// final chunk's 2xx, s3_multipart requires an explicit complete call with
// part ETags.
const (
	StrategySingleSession = "single_session"
	StrategyS3Multipart   = "s3_multipart"
	StrategyLocalAssembly = "local_assembly"
)

// MultipartInit carries everything a driver needs to open a provider-side
// resumable session. PartSize arrives already normalized to the provider's
// alignment by the session manager.
type MultipartInit struct {
	FileName    string
	FileSize    int64
	PartSize    int64
	TotalParts  int
	ContentType string
}

// ProviderSession is the provider-side artifact of an opened resumable
// session, persisted verbatim in the session row and handed back on every
// subsequent call.
type ProviderSession struct {
	Strategy  string            `json:"strategy"`
	UploadURL string            `json:"uploadUrl,omitempty"`
	UploadID  string            `json:"uploadId,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// ChunkResult is the driver's interpretation of a provider response to a
// chunk PUT or a status probe.
type ChunkResult struct {
	// Completed is set when the provider signalled the whole upload done.
	Completed bool
	// BytesAccepted is the provider-authoritative high-water mark (count of
	// contiguous accepted bytes), or -1 when the provider gave no signal.
	BytesAccepted int64
	// NextExpectedRanges mirrors the provider's resume hints when present.
	NextExpectedRanges []string
	// ETag is the per-part tag for providers that expose one (S3).
	ETag string
	// Parts is the provider's own completed-part list when it keeps one
	// (S3 ListParts); empty for offset-based providers.
	Parts []Part
	// Result carries final object metadata once Completed.
	Result *UploadResult
}

// Part identifies one completed part for providers with explicit completion.
type Part struct {
	Number int    `json:"partNumber"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

// ErrSessionExpired is returned by multipart calls when the provider no
// longer knows the session; the manager marks the row errored and surfaces
// UPLOAD_SESSION_NOT_FOUND.
type ErrSessionExpired struct {
	DriverName string
}

func (e ErrSessionExpired) Error() string {
	return e.DriverName + ": provider upload session expired"
}

// MultipartDriver is implemented by drivers declaring CapMultipart. The
// session manager owns the lifecycle and calls in; drivers never touch the
// session table.
type MultipartDriver interface {
	// MultipartInit resolves the parent directory, opens the provider
	// session and returns its artifacts.
	MultipartInit(ctx context.Context, subPath string, init MultipartInit) (*ProviderSession, error)

	// MultipartPutChunk forwards one chunk, re-signing as needed.
	// contentRange is the client's "bytes A-B/T" header value.
	MultipartPutChunk(ctx context.Context, sess *ProviderSession, partNumber int, contentRange string, body io.Reader, length int64) (*ChunkResult, error)

	// MultipartProbe asks the provider for the session's current offset
	// without sending bytes.
	MultipartProbe(ctx context.Context, sess *ProviderSession, fileSize int64) (*ChunkResult, error)

	// MultipartComplete finalizes the object. For single_session providers
	// this validates state only.
	MultipartComplete(ctx context.Context, subPath string, sess *ProviderSession, parts []Part) (*UploadResult, error)

	// MultipartAbort cancels the provider session best-effort.
	MultipartAbort(ctx context.Context, subPath string, sess *ProviderSession) error
}

// PartURLer is implemented by presigning drivers that can hand the client
// per-part upload URLs so part bytes never transit the gateway.
type PartURLer interface {
	MultipartPartURLs(ctx context.Context, sess *ProviderSession, partNumbers []int) (map[int]string, error)
}
