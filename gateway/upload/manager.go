package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// ErrSessionTerminal is returned for operations on a finalized session.
var ErrSessionTerminal = errors.New("upload: session already finalized")

// ChunkRangeError rejects a chunk whose Content-Range cannot be accepted as
// declared. Handlers answer it with a validation failure.
type ChunkRangeError struct {
	Reason string
}

func (e ChunkRangeError) Error() string {
	return "upload: " + e.Reason
}

// Provider part-size alignments. Google Drive accepts only 256 KiB
// multiples, OneDrive only 320 KiB multiples, S3 requires at least 5 MiB for
// every part but the last.
const (
	gdriveAlign   = 256 << 10
	onedriveAlign = 320 << 10
	s3MinPart     = 5 << 20

	defaultPartSize = 8 << 20
)

const errCodeSessionNotFound = "UPLOAD_SESSION_NOT_FOUND"

// Manager owns the upload session lifecycle. It is a table-backed service:
// handlers call into it with the resolved driver, it never resolves mounts
// itself.
type Manager struct {
	store Store
}

// NewManager builds a Manager over the given session store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// InitRequest carries everything needed to open a session.
type InitRequest struct {
	Driver storagedriver.StorageDriver

	StorageType     string
	StorageConfigID string
	MountID         string

	FsPath  string // full virtual path of the target file
	SubPath string // driver-relative path below the mount
	Source  string

	FileName string
	FileSize int64
	PartSize int64
	MimeType string

	UserRef  string
	UserKind string

	Fingerprint *Fingerprint
}

// InitResult is the session descriptor handed back to the client.
type InitResult struct {
	Session *Session
	// Resumed is set when a fingerprint lookup matched an existing active
	// session instead of opening a new provider session.
	Resumed bool
}

// ChunkStatus reports the session state after a chunk or probe.
type ChunkStatus struct {
	Done              bool                 `json:"done"`
	BytesUploaded     int64                `json:"bytesUploaded"`
	NextExpectedRange string               `json:"nextExpectedRange,omitempty"`
	PartNumber        int                  `json:"partNumber,omitempty"`
	Parts             []storagedriver.Part `json:"parts,omitempty"`
}

// alignPartSize normalizes the requested part size to the provider's
// alignment rules.
func alignPartSize(storageType string, requested int64) int64 {
	size := requested
	if size <= 0 {
		size = defaultPartSize
	}
	switch storageType {
	case "gdrive":
		return roundUp(size, gdriveAlign)
	case "onedrive":
		return roundUp(size, onedriveAlign)
	case "s3":
		if size < s3MinPart {
			return s3MinPart
		}
	}
	return size
}

func roundUp(n, align int64) int64 {
	if rem := n % align; rem != 0 {
		return n + align - rem
	}
	return n
}

func totalParts(fileSize, partSize int64) int {
	if fileSize <= 0 {
		return 1
	}
	n := fileSize / partSize
	if fileSize%partSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}

func asMultipart(d storagedriver.StorageDriver) (storagedriver.MultipartDriver, error) {
	m, ok := d.(storagedriver.MultipartDriver)
	if !ok {
		return nil, storagedriver.CapabilityError{
			DriverName: d.Name(),
			Missing:    storagedriver.CapMultipart,
		}
	}
	return m, nil
}

// Initialize opens a new session, or resumes an existing active one when the
// fingerprint tuple matches.
func (m *Manager) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	if req.FileSize < 0 {
		return nil, fmt.Errorf("upload: negative file size")
	}

	if req.Fingerprint != nil && req.Fingerprint.Value != "" {
		key := fingerprintKey(req.UserRef, req.UserKind, req.StorageConfigID,
			req.FsPath, req.FileName, req.FileSize, req.Fingerprint.Algo, req.Fingerprint.Value)
		if existing, err := m.store.FindFingerprint(ctx, key); err == nil {
			dcontext.GetLogger(ctx).Debugf("upload: resuming session %s via fingerprint", existing.ID)
			return &InitResult{Session: existing, Resumed: true}, nil
		}
	}

	mpd, err := asMultipart(req.Driver)
	if err != nil {
		return nil, err
	}

	partSize := alignPartSize(req.StorageType, req.PartSize)
	parts := totalParts(req.FileSize, partSize)

	provider, err := mpd.MultipartInit(ctx, req.SubPath, storagedriver.MultipartInit{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		PartSize:    partSize,
		TotalParts:  parts,
		ContentType: req.MimeType,
	})
	if err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = SourceFS
	}
	s := &Session{
		ID:              uuid.NewString(),
		UserRef:         req.UserRef,
		UserKind:        req.UserKind,
		StorageType:     req.StorageType,
		StorageConfigID: req.StorageConfigID,
		MountID:         req.MountID,
		FsPath:          req.FsPath,
		SubPath:         req.SubPath,
		Source:          source,
		FileName:        req.FileName,
		FileSize:        req.FileSize,
		MimeType:        req.MimeType,
		Strategy:        provider.Strategy,
		PartSize:        partSize,
		TotalParts:      parts,
		Provider:        provider,
		Status:          StatusActive,
	}
	if req.FileSize > 0 {
		s.NextExpectedRange = "0-"
	}
	if req.Fingerprint != nil {
		s.FingerprintAlgo = req.Fingerprint.Algo
		s.FingerprintValue = req.Fingerprint.Value
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return &InitResult{Session: s}, nil
}

// Get returns the session row.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// ListActive returns active sessions whose virtual path starts with prefix.
func (m *Manager) ListActive(ctx context.Context, prefix string) ([]*Session, error) {
	return m.store.ListActive(ctx, prefix)
}

func (m *Manager) activeSession(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusActive:
		return s, nil
	case StatusError:
		if s.ErrorCode == errCodeSessionNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, ErrSessionTerminal
	default:
		return nil, ErrSessionTerminal
	}
}

// markExpired flips the row into the error state the next caller will see as
// a restartable 404.
func (m *Manager) markExpired(ctx context.Context, s *Session) {
	s.Status = StatusError
	s.ErrorCode = errCodeSessionNotFound
	s.ErrorMessage = "provider upload session expired"
	if err := m.store.Put(ctx, s); err != nil {
		dcontext.GetLogger(ctx).WithError(err).Errorf("upload: persisting expired session %s", s.ID)
	}
}

// ProxyChunk forwards one client chunk to the provider and updates progress
// from the provider's authoritative response.
func (m *Manager) ProxyChunk(ctx context.Context, driver storagedriver.StorageDriver, id, contentRange string, body io.Reader, length int64) (*ChunkStatus, error) {
	s, err := m.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	mpd, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}

	start, end, _, err := ParseContentRange(contentRange)
	if err != nil {
		return nil, err
	}
	// The provider response is authoritative for progress, but offset-less
	// providers (S3) report nothing back, so the declared range has to be
	// checked against reality before it can stand in for progress.
	if got := end - start + 1; got != length {
		return nil, ChunkRangeError{Reason: fmt.Sprintf("Content-Range %q declares %d bytes but the body carries %d", contentRange, got, length)}
	}
	if s.PartSize > 0 && start%s.PartSize != 0 {
		return nil, ChunkRangeError{Reason: fmt.Sprintf("chunk start %d is not aligned to the part size %d", start, s.PartSize)}
	}
	if s.FileSize > 0 && end >= s.FileSize {
		return nil, ChunkRangeError{Reason: fmt.Sprintf("chunk end %d is past the declared file size %d", end, s.FileSize)}
	}
	partNumber := int(start/s.PartSize) + 1

	res, err := mpd.MultipartPutChunk(ctx, s.Provider, partNumber, contentRange, body, length)
	if err != nil {
		var expired storagedriver.ErrSessionExpired
		if errors.As(err, &expired) {
			m.markExpired(ctx, s)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	s.recordPart(storagedriver.Part{Number: partNumber, Size: length, ETag: res.ETag})
	if res.BytesAccepted >= 0 {
		s.advance(res.BytesAccepted)
	} else {
		s.advance(end + 1)
	}
	if len(res.NextExpectedRanges) > 0 {
		s.NextExpectedRange = res.NextExpectedRanges[0]
	}
	if res.Completed {
		s.Status = StatusCompleted
		s.BytesUploaded = s.FileSize
		s.NextExpectedRange = ""
		if res.Result != nil {
			s.ContentLength = res.Result.Size
			s.ETag = res.Result.ETag
		}
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return &ChunkStatus{
		Done:              s.Status == StatusCompleted,
		BytesUploaded:     s.BytesUploaded,
		NextExpectedRange: s.NextExpectedRange,
		PartNumber:        partNumber,
	}, nil
}

// reconcile synchronizes the row to the provider's view of the session.
func (m *Manager) reconcile(ctx context.Context, mpd storagedriver.MultipartDriver, s *Session) error {
	res, err := mpd.MultipartProbe(ctx, s.Provider, s.FileSize)
	if err != nil {
		var expired storagedriver.ErrSessionExpired
		if errors.As(err, &expired) {
			m.markExpired(ctx, s)
			return ErrSessionNotFound
		}
		return err
	}

	if len(res.Parts) > 0 {
		s.UploadedParts = res.Parts
	}
	if res.BytesAccepted >= 0 {
		s.advance(res.BytesAccepted)
	}
	if len(res.NextExpectedRanges) > 0 {
		s.NextExpectedRange = res.NextExpectedRanges[0]
	}
	if res.Completed {
		s.Status = StatusCompleted
		s.BytesUploaded = s.FileSize
		s.NextExpectedRange = ""
	}
	return m.store.Put(ctx, s)
}

// ListParts answers "which parts are already done?" after provider
// reconciliation. Providers with real per-part state (S3) report their own
// list; offset providers get parts derived from the contiguous high-water
// mark, with the trailing partial part always left for re-upload.
func (m *Manager) ListParts(ctx context.Context, driver storagedriver.StorageDriver, id string) ([]storagedriver.Part, error) {
	s, err := m.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	mpd, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	if err := m.reconcile(ctx, mpd, s); err != nil {
		return nil, err
	}
	if len(s.UploadedParts) > 0 && s.UploadedParts[0].ETag != "" {
		return s.UploadedParts, nil
	}

	complete := int(s.BytesUploaded / s.PartSize)
	if s.BytesUploaded == s.FileSize && s.FileSize%s.PartSize != 0 {
		complete++
	}
	parts := make([]storagedriver.Part, 0, complete)
	for i := 1; i <= complete; i++ {
		size := s.PartSize
		if int64(i)*s.PartSize > s.FileSize {
			size = s.FileSize - int64(i-1)*s.PartSize
		}
		parts = append(parts, storagedriver.Part{Number: i, Size: size})
	}
	return parts, nil
}

// Refresh reconciles with the provider and returns the updated session so
// the client can plan its next ranges.
func (m *Manager) Refresh(ctx context.Context, driver storagedriver.StorageDriver, id string) (*Session, error) {
	s, err := m.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	mpd, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}
	if err := m.reconcile(ctx, mpd, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PartURLs returns presigned per-part upload URLs for drivers that support
// them, so chunk bytes can bypass the gateway.
func (m *Manager) PartURLs(ctx context.Context, driver storagedriver.StorageDriver, id string, partNumbers []int) (map[int]string, error) {
	s, err := m.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	p, ok := driver.(storagedriver.PartURLer)
	if !ok {
		return nil, storagedriver.CapabilityError{
			DriverName: driver.Name(),
			Missing:    storagedriver.CapPresigned,
		}
	}
	if len(partNumbers) == 0 {
		for i := 1; i <= s.TotalParts; i++ {
			partNumbers = append(partNumbers, i)
		}
	}
	return p.MultipartPartURLs(ctx, s.Provider, partNumbers)
}

// Complete finalizes the upload. For single-session providers the provider
// side is already done and this records the outcome; for S3 it issues the
// explicit completion with the client-supplied part ETags.
func (m *Manager) Complete(ctx context.Context, driver storagedriver.StorageDriver, id string, parts []storagedriver.Part) (*storagedriver.UploadResult, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusCompleted {
		return &storagedriver.UploadResult{
			StoragePath: s.SubPath,
			ETag:        s.ETag,
			Size:        s.ContentLength,
		}, nil
	}
	if s.Status != StatusActive {
		return nil, ErrSessionTerminal
	}
	mpd, err := asMultipart(driver)
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		parts = s.UploadedParts
	}
	result, err := mpd.MultipartComplete(ctx, s.SubPath, s.Provider, parts)
	if err != nil {
		var expired storagedriver.ErrSessionExpired
		if errors.As(err, &expired) {
			m.markExpired(ctx, s)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	s.Status = StatusCompleted
	s.BytesUploaded = s.FileSize
	s.NextExpectedRange = ""
	s.ContentLength = result.Size
	s.ETag = result.ETag
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return result, nil
}

// Abort cancels the provider session best-effort and marks the row aborted.
func (m *Manager) Abort(ctx context.Context, driver storagedriver.StorageDriver, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch s.Status {
	case StatusAborted:
		return nil
	case StatusActive:
	default:
		return ErrSessionTerminal
	}

	if mpd, err := asMultipart(driver); err == nil {
		if err := mpd.MultipartAbort(ctx, s.SubPath, s.Provider); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("upload: provider abort for session %s", s.ID)
		}
	}
	s.Status = StatusAborted
	return m.store.Put(ctx, s)
}

// ParseContentRange parses a "bytes A-B/T" header. T may be "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	malformed := ChunkRangeError{Reason: fmt.Sprintf("malformed Content-Range %q", header)}

	value := strings.TrimSpace(strings.TrimPrefix(header, "bytes"))
	slash := strings.IndexByte(value, '/')
	if slash < 0 {
		return 0, 0, 0, malformed
	}
	rangePart := strings.TrimSpace(value[:slash])
	totalPart := strings.TrimSpace(value[slash+1:])

	dash := strings.IndexByte(rangePart, '-')
	if dash <= 0 {
		return 0, 0, 0, malformed
	}
	if start, err = strconv.ParseInt(rangePart[:dash], 10, 64); err != nil {
		return 0, 0, 0, malformed
	}
	if end, err = strconv.ParseInt(rangePart[dash+1:], 10, 64); err != nil {
		return 0, 0, 0, malformed
	}
	total = -1
	if totalPart != "*" {
		if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
			return 0, 0, 0, malformed
		}
	}
	if end < start || start < 0 {
		return 0, 0, 0, ChunkRangeError{Reason: fmt.Sprintf("invalid range in Content-Range %q", header)}
	}
	return start, end, total, nil
}
