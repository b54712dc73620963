// Package driver defines the contract every storage backend implements to
// participate in the virtual filesystem. A driver binds one provider
// (S3-compatible, WebDAV, Google Drive, OneDrive, GitHub Releases, local
// disk) to a uniform operation set; the capability set it declares at
// construction gates which operations the facade will route to it.
package driver

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Capability is a bit in a driver's declared capability set.
type Capability uint32

const (
	// CapReader covers List, Stat, Exists and Download.
	CapReader Capability = 1 << iota
	// CapWriter covers Upload, Mkdir, Remove, Rename and BatchRemove.
	CapWriter
	// CapMultipart marks support for provider-side resumable sessions.
	CapMultipart
	// CapAtomic marks a native same-driver Copy.
	CapAtomic
	// CapDirectLink marks that DownloadURL can produce a URL the client
	// fetches without the gateway.
	CapDirectLink
	// CapProxy marks that the gateway may stream this driver's content
	// through its own proxy endpoint.
	CapProxy
	// CapSearch covers Search.
	CapSearch
	// CapPresigned marks provider-signed upload/download URLs (S3).
	CapPresigned
)

var capabilityNames = map[Capability]string{
	CapReader:     "READER",
	CapWriter:     "WRITER",
	CapMultipart:  "MULTIPART",
	CapAtomic:     "ATOMIC",
	CapDirectLink: "DIRECT_LINK",
	CapProxy:      "PROXY",
	CapSearch:     "SEARCH",
	CapPresigned:  "PRESIGNED",
}

// Has reports whether all bits of want are present in c.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	var names []string
	for bit := CapReader; bit <= CapPresigned; bit <<= 1 {
		if c.Has(bit) {
			names = append(names, capabilityNames[bit])
		}
	}
	return strings.Join(names, "|")
}

// DirectoryMimeType is the mimetype directories report in FileEntry.
const DirectoryMimeType = "application/x-directory"

// FileEntry is the common projection a driver returns for a file or
// directory. FsPath is the full virtual path; drivers fill it relative to
// their mount and the facade rewrites it to the mount view.
type FileEntry struct {
	FsPath      string    `json:"path"`
	Name        string    `json:"name"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	MimeType    string    `json:"mimetype"`
	ETag        string    `json:"etag,omitempty"`
	IsVirtual   bool      `json:"isVirtual,omitempty"`
	MountID     string    `json:"mountId,omitempty"`
	StorageType string    `json:"storageType,omitempty"`
}

// RangeSpec is an inclusive byte range [Start, End]. A range over content of
// unknown length may carry OpenRangeEnd as End, meaning "through the last
// byte, wherever that is".
type RangeSpec struct {
	Start int64
	End   int64
}

// OpenRangeEnd is the End sentinel for a range with no explicit last byte.
const OpenRangeEnd = math.MaxInt64 - 1

// Length returns the number of bytes the range covers.
func (r RangeSpec) Length() int64 {
	return r.End - r.Start + 1
}

// OpenEnded reports whether the range runs to an unknown last byte.
func (r RangeSpec) OpenEnded() bool {
	return r.End >= OpenRangeEnd
}

// RequestHeader renders the spec as an HTTP Range request value.
func (r RangeSpec) RequestHeader() string {
	if r.OpenEnded() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// StreamDescriptor describes downloadable content without opening it. Open
// defers the provider round trip so HEAD and conditional GET can
// short-circuit on the metadata alone. When SupportsRange is false, Open
// ignores the requested range and returns the full stream; callers slice in
// software.
type StreamDescriptor struct {
	Size          int64 // -1 when unknown
	ContentType   string
	ETag          string
	LastModified  time.Time
	SupportsRange bool

	Open func(ctx context.Context, rng *RangeSpec) (io.ReadCloser, error)
}

// ListOptions modifies List behavior.
type ListOptions struct {
	// Refresh bypasses driver metadata caches.
	Refresh bool
}

// UploadOptions carries the metadata Upload needs up front.
type UploadOptions struct {
	FileName    string
	ContentType string
	// ContentLength must be supplied by the caller; zero means an empty
	// file, which still creates the object.
	ContentLength int64
	// AutoCreateParents selects storage-first semantics: missing parent
	// directories are created. Mount-view uploads leave it false and
	// require the parent to exist.
	AutoCreateParents bool
}

// UploadResult reports where an upload landed.
type UploadResult struct {
	StoragePath string `json:"storagePath"`
	ETag        string `json:"etag,omitempty"`
	Size        int64  `json:"size"`
}

// MkdirResult distinguishes creation from pre-existence; both are success.
type MkdirResult struct {
	AlreadyExists bool `json:"alreadyExists"`
}

// CopyOptions modifies Copy behavior.
type CopyOptions struct {
	// SkipExisting turns an existing destination into status "skipped"
	// instead of an overwrite.
	SkipExisting bool
}

// CopyStatus is the per-item outcome of a Copy.
type CopyStatus string

const (
	CopySuccess CopyStatus = "success"
	CopySkipped CopyStatus = "skipped"
	CopyFailed  CopyStatus = "failed"
)

// CopyResult reports the outcome of a single copy.
type CopyResult struct {
	Status CopyStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BatchFailure records one failed path of a batch operation.
type BatchFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchRemoveResult accumulates per-path outcomes; there is no transaction.
type BatchRemoveResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// SearchOptions scopes a filename search.
type SearchOptions struct {
	// SearchPath is a sub-path prefix filter; drivers decide whether to
	// honor it.
	SearchPath string
	MaxResults int
	Refresh    bool
}

// LinkKind distinguishes provider-authoritative URLs from gateway proxy URLs.
type LinkKind string

const (
	LinkDirect LinkKind = "direct"
	LinkProxy  LinkKind = "proxy"
)

// Link is the outcome of URL generation. The URL is either provider-signed
// or a gateway proxy endpoint; it never embeds raw credentials.
type Link struct {
	URL          string        `json:"url"`
	Kind         LinkKind      `json:"kind"`
	ContentType  string        `json:"contentType,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	LastModified time.Time     `json:"lastModified,omitempty"`
	ExpiresIn    time.Duration `json:"expiresIn,omitempty"`
}

// LinkOptions modifies DownloadURL behavior.
type LinkOptions struct {
	// ExpiresIn requests a TTL; drivers clip it to provider limits. Zero
	// selects the configured default.
	ExpiresIn time.Duration
	// ForceDownload asks for a content-disposition attachment URL where
	// the provider supports it.
	ForceDownload bool
}

// StorageDriver is the contract between the facade and one provider
// binding. Sub-paths always begin with "/" and are relative to the mount.
// Implementations must be safe for concurrent use across distinct paths.
type StorageDriver interface {
	// Name returns the storage type discriminator, e.g. "s3" or "gdrive".
	Name() string

	// Capabilities returns the set declared at construction. It never
	// changes for the lifetime of the instance.
	Capabilities() Capability

	// List returns the direct children of a directory sub-path in provider
	// order.
	List(ctx context.Context, subPath string, opts ListOptions) ([]FileEntry, error)

	// Stat describes a single entry. The root sub-path always reports as a
	// directory.
	Stat(ctx context.Context, subPath string) (FileEntry, error)

	// Exists reports presence without raising on "not found"; other errors
	// propagate.
	Exists(ctx context.Context, subPath string) (bool, error)

	// Download returns a deferred stream descriptor. Directories yield
	// InvalidPathError.
	Download(ctx context.Context, subPath string) (*StreamDescriptor, error)

	// Upload stores body at subPath. ContentLength is authoritative; a zero
	// length creates an empty file through a fast path.
	Upload(ctx context.Context, subPath string, body io.Reader, opts UploadOptions) (*UploadResult, error)

	// Mkdir creates a directory; pre-existence is success.
	Mkdir(ctx context.Context, subPath string) (MkdirResult, error)

	// Remove deletes subPath, recursively for directories.
	Remove(ctx context.Context, subPath string) error

	// Rename moves an entry within this driver.
	Rename(ctx context.Context, oldSubPath, newSubPath string) error

	// Copy duplicates srcSubPath to dstSubPath within this driver.
	Copy(ctx context.Context, srcSubPath, dstSubPath string, opts CopyOptions) (CopyResult, error)

	// BatchRemove deletes each path sequentially, accumulating failures.
	BatchRemove(ctx context.Context, subPaths []string) (BatchRemoveResult, error)

	// Search matches entries by name.
	Search(ctx context.Context, query string, opts SearchOptions) ([]FileEntry, error)

	// DownloadURL produces a provider-authoritative direct link.
	DownloadURL(ctx context.Context, subPath string, opts LinkOptions) (*Link, error)
}
