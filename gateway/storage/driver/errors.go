package driver

import (
	"errors"
	"fmt"
	"strings"
)

// PathNotFoundError is returned when operating on a nonexistent path.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (err PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found: %s", err.DriverName, err.Path)
}

// InvalidPathError is returned when a malformed or disallowed sub-path is
// passed to a driver, including file operations on directories.
type InvalidPathError struct {
	Path       string
	DriverName string
	Reason     string
}

func (err InvalidPathError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("%s: invalid path %q: %s", err.DriverName, err.Path, err.Reason)
	}
	return fmt.Sprintf("%s: invalid path: %s", err.DriverName, err.Path)
}

// AlreadyExistsError is returned when a destination exists and overwrite is
// not permitted.
type AlreadyExistsError struct {
	Path       string
	DriverName string
}

func (err AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s: already exists: %s", err.DriverName, err.Path)
}

// CapabilityError is returned when an operation requires a capability the
// driver did not declare. The facade maps it to NOT_IMPLEMENTED.
type CapabilityError struct {
	DriverName string
	Missing    Capability
}

func (err CapabilityError) Error() string {
	return fmt.Sprintf("%s: missing capability %s", err.DriverName, err.Missing)
}

// Error is a catch-all for provider-side failures, preserving the enclosed
// provider error (and any status/body) for non-exposed detail.
type Error struct {
	DriverName string
	Op         string
	Status     int
	Enclosed   error
}

func (err Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", err.DriverName, err.Op, err.Enclosed)
}

func (err Error) Unwrap() error {
	return err.Enclosed
}

// IsNotFound reports whether err, anywhere in its chain, is a path-not-found
// condition.
func IsNotFound(err error) bool {
	var pnf PathNotFoundError
	return errors.As(err, &pnf)
}

// CheckPath validates a virtual sub-path: absolute, cleaned, no NUL and no
// empty segments. Root ("/") is valid.
func CheckPath(name, p string) error {
	if p == "" || p[0] != '/' {
		return InvalidPathError{Path: p, DriverName: name, Reason: "must begin with /"}
	}
	if strings.ContainsRune(p, 0) {
		return InvalidPathError{Path: p, DriverName: name, Reason: "NUL byte"}
	}
	if p != "/" && strings.Contains(p, "//") {
		return InvalidPathError{Path: p, DriverName: name, Reason: "empty segment"}
	}
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "." || seg == ".." {
			return InvalidPathError{Path: p, DriverName: name, Reason: "relative segment"}
		}
	}
	return nil
}
