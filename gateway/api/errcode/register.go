package errcode

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	groupToDescriptors     = map[string][]ErrorDescriptor{}
)

var (
	// ErrorCodeUnknown is a generic error that can be used as a last
	// resort if there is no situation-specific error message that can be used.
	ErrorCodeUnknown = register("errcode", ErrorDescriptor{
		Value:   "UNKNOWN",
		Message: "unknown error",
		Description: `Generic error returned when the error does not have an
			API classification.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// ErrorCodeValidation is returned when the shape or range of an input
	// value is invalid.
	ErrorCodeValidation = register("errcode", ErrorDescriptor{
		Value:          "VALIDATION_ERROR",
		Message:        "invalid request: %s",
		Description:    `The request carried a malformed path, body or parameter.`,
		HTTPStatusCode: http.StatusBadRequest,
		Expose:         true,
	})

	// ErrorCodeUnauthorized is returned if a request requires authentication.
	ErrorCodeUnauthorized = register("errcode", ErrorDescriptor{
		Value:          "UNAUTHORIZED",
		Message:        "authentication required",
		Description:    `The request lacked valid credentials.`,
		HTTPStatusCode: http.StatusUnauthorized,
		Expose:         true,
	})

	// ErrorCodeForbidden is returned if a client does not have sufficient
	// permission to perform an action, including path-prefix violations.
	ErrorCodeForbidden = register("errcode", ErrorDescriptor{
		Value:          "FORBIDDEN",
		Message:        "requested access to the resource is denied",
		Description:    `The credentials do not permit the operation on this path.`,
		HTTPStatusCode: http.StatusForbidden,
		Expose:         true,
	})

	// ErrorCodeNotFound is returned when a path, mount or upload session
	// does not exist.
	ErrorCodeNotFound = register("errcode", ErrorDescriptor{
		Value:          "NOT_FOUND",
		Message:        "resource not found",
		Description:    `The virtual path, mount or session is absent.`,
		HTTPStatusCode: http.StatusNotFound,
		Expose:         true,
	})

	// ErrorCodeConflict is returned on name collisions and non-empty
	// directory constraints.
	ErrorCodeConflict = register("errcode", ErrorDescriptor{
		Value:          "CONFLICT",
		Message:        "resource conflict",
		Description:    `The destination already exists or is not empty.`,
		HTTPStatusCode: http.StatusConflict,
		Expose:         true,
	})

	// ErrorCodePreconditionFailed is returned on WebDAV conditional failures.
	ErrorCodePreconditionFailed = register("errcode", ErrorDescriptor{
		Value:          "PRECONDITION_FAILED",
		Message:        "precondition failed",
		Description:    `A conditional header did not match the resource state.`,
		HTTPStatusCode: http.StatusPreconditionFailed,
		Expose:         true,
	})

	// ErrorCodeLocked is returned on WebDAV lock conflicts.
	ErrorCodeLocked = register("errcode", ErrorDescriptor{
		Value:          "LOCKED",
		Message:        "resource is locked",
		Description:    `Another client holds a conflicting lock on the resource.`,
		HTTPStatusCode: http.StatusLocked,
		Expose:         true,
	})

	// ErrorCodeNotImplemented is returned when a driver lacks the capability
	// an operation requires.
	ErrorCodeNotImplemented = register("errcode", ErrorDescriptor{
		Value:          "NOT_IMPLEMENTED",
		Message:        "operation not supported by this storage",
		Description:    `The mounted driver does not declare the required capability.`,
		HTTPStatusCode: http.StatusNotImplemented,
		Expose:         true,
	})

	// ErrorCodeRepository is returned on persistence failures. Never exposed.
	ErrorCodeRepository = register("errcode", ErrorDescriptor{
		Value:          "REPOSITORY_ERROR",
		Message:        "internal storage error",
		Description:    `Reading or writing gateway-owned state failed.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})
)

// Driver-side failures. DRIVER_ERROR is the umbrella; sub-codes exist where
// handlers or clients need to distinguish.
var (
	ErrorCodeDriver = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR",
		Message:        "storage provider error",
		Description:    `The storage provider rejected or failed the operation.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeDriverS3 = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR.S3",
		Message:        "s3 provider error",
		Description:    `The S3-compatible endpoint returned a failure.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeDriverGDriveNotFound = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR.GDRIVE.NOT_FOUND",
		Message:        "google drive file not found",
		Description:    `Path to fileID resolution failed for a segment.`,
		HTTPStatusCode: http.StatusNotFound,
		Expose:         true,
	})

	ErrorCodeDriverGDriveAuth = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR.GDRIVE_AUTH",
		Message:        "google drive authorization failed",
		Description:    `Token acquisition or refresh was rejected by the provider.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeDriverGitHubAPI = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR.GITHUB_API",
		Message:        "github api error",
		Description:    `The GitHub API returned a failure or rate limit.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeDriverGitHubConfig = register("driver", ErrorDescriptor{
		Value:          "DRIVER_ERROR.GITHUB_RELEASES_INVALID_CONFIG",
		Message:        "invalid repo_structure configuration",
		Description:    `The repo_structure mount parameter could not be parsed.`,
		HTTPStatusCode: http.StatusInternalServerError,
		Expose:         true,
	})

	// ErrorCodeUploadSessionNotFound is surfaced as 404 so resuming clients
	// restart from scratch.
	ErrorCodeUploadSessionNotFound = register("driver", ErrorDescriptor{
		Value:          "UPLOAD_SESSION_NOT_FOUND",
		Message:        "upload session not found or expired",
		Description:    `The provider-side resumable session has lapsed.`,
		HTTPStatusCode: http.StatusNotFound,
		Expose:         true,
	})
)

var (
	nextCode     = 1000
	registerLock sync.Mutex
)

// Register will make the passed-in error known to the environment and
// return a new ErrorCode.
func Register(group string, descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)

	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("ErrorValue %q is already registered", descriptor.Value))
	}
	if _, ok := errorCodeToDescriptors[descriptor.Code]; ok {
		panic(fmt.Sprintf("ErrorCode %v is already registered", descriptor.Code))
	}

	groupToDescriptors[group] = append(groupToDescriptors[group], descriptor)
	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor

	nextCode++
	return descriptor.Code
}

// register is like Register but without the lock, for package init use.
func register(group string, descriptor ErrorDescriptor) ErrorCode {
	return Register(group, descriptor)
}

// GetGroupNames returns the list of Error group names that are registered.
func GetGroupNames() []string {
	keys := []string{}
	for k := range groupToDescriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetErrorCodeGroup returns the named group of error descriptors.
func GetErrorCodeGroup(name string) []ErrorDescriptor {
	return groupToDescriptors[name]
}

// GetErrorAllDescriptors returns a slice of all ErrorDescriptors that are
// registered, irrespective of what group they're in.
func GetErrorAllDescriptors() []ErrorDescriptor {
	result := []ErrorDescriptor{}
	for _, group := range GetGroupNames() {
		result = append(result, GetErrorCodeGroup(group)...)
	}
	return result
}
