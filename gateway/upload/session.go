// Package upload implements the resumable multipart session manager: a
// table-backed service tracking one row per in-flight upload across the
// client, the gateway and the provider.
package upload

import (
	"fmt"
	"time"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// Status is the lifecycle state of an upload session. Transitions form the
// DAG active -> {completed, aborted, error}; terminal states are absorbing.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusError
}

// Source distinguishes where the upload originated.
const (
	SourceFS    = "FS"
	SourceShare = "SHARE"
)

// Fingerprint is a client-computed content identity used for pure-client
// resume across browser sessions.
type Fingerprint struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// Session is the persistent record of one resumable upload.
type Session struct {
	ID string `json:"id"`

	UserRef  string `json:"userRef"`
	UserKind string `json:"userKind"`

	StorageType     string `json:"storageType"`
	StorageConfigID string `json:"storageConfigId"`
	MountID         string `json:"mountId"`

	// FsPath is the full virtual path of the target file; SubPath is the
	// driver-relative remainder below the mount.
	FsPath  string `json:"fsPath"`
	SubPath string `json:"subPath"`
	Source  string `json:"source"`

	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType,omitempty"`

	FingerprintAlgo  string `json:"fingerprintAlgo,omitempty"`
	FingerprintValue string `json:"fingerprintValue,omitempty"`

	Strategy   string `json:"strategy"`
	PartSize   int64  `json:"partSize"`
	TotalParts int    `json:"totalParts"`

	BytesUploaded     int64                `json:"bytesUploaded"`
	UploadedParts     []storagedriver.Part `json:"uploadedParts,omitempty"`
	NextExpectedRange string               `json:"nextExpectedRange,omitempty"`

	// Provider holds the provider-side session artifacts verbatim.
	Provider *storagedriver.ProviderSession `json:"provider,omitempty"`

	Status       Status `json:"status"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	ContentLength int64 `json:"contentLength,omitempty"`
	ETag          string `json:"etag,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// fingerprintKey builds the unique resumable-session lookup key. Empty when
// the session carries no fingerprint.
func (s *Session) fingerprintKey() string {
	if s.FingerprintValue == "" {
		return ""
	}
	return fingerprintKey(s.UserRef, s.UserKind, s.StorageConfigID, s.FsPath,
		s.FileName, s.FileSize, s.FingerprintAlgo, s.FingerprintValue)
}

func fingerprintKey(userRef, userKind, configID, fsPath, fileName string, fileSize int64, algo, value string) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%s\x00%s",
		userRef, userKind, configID, fsPath, fileName, fileSize, algo, value)
}

// recordPart upserts a completed part by number, keeping the slice ordered.
func (s *Session) recordPart(p storagedriver.Part) {
	for i := range s.UploadedParts {
		if s.UploadedParts[i].Number == p.Number {
			s.UploadedParts[i] = p
			return
		}
	}
	inserted := false
	for i := range s.UploadedParts {
		if s.UploadedParts[i].Number > p.Number {
			s.UploadedParts = append(s.UploadedParts[:i],
				append([]storagedriver.Part{p}, s.UploadedParts[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		s.UploadedParts = append(s.UploadedParts, p)
	}
}

// advance raises the high-water mark, never lowering it while active.
func (s *Session) advance(bytes int64) {
	if bytes > s.BytesUploaded {
		s.BytesUploaded = bytes
	}
	if s.BytesUploaded > s.FileSize {
		s.BytesUploaded = s.FileSize
	}
	if s.BytesUploaded < s.FileSize {
		s.NextExpectedRange = fmt.Sprintf("%d-", s.BytesUploaded)
	} else {
		s.NextExpectedRange = ""
	}
}
