package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive store operations. Store implementations
// normalize backend-specific failures onto these so callers can branch
// without knowing which backend is configured.
var (
	ErrNotFound           = errors.New("object not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrInvalidCredentials = errors.New("credentials rejected")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrThrottled          = errors.New("request throttled")
)

// StoreKind identifies an archive store implementation.
type StoreKind string

const (
	StoreFS StoreKind = "fs"
	StoreS3 StoreKind = "s3"
)

func (k StoreKind) String() string {
	return string(k)
}

// StoreError carries the operation, store kind, and object location
// alongside the underlying failure.
type StoreError struct {
	Op     string // "Put", "Head", ...
	Store  StoreKind
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	loc := ""
	switch {
	case e.Key != "":
		loc = ": " + e.Bucket + "/" + e.Key
	case e.Bucket != "":
		loc = ": " + e.Bucket
	}
	return fmt.Sprintf("%s %s%s: %v", e.Store, e.Op, loc, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAccessDenied reports whether err wraps ErrAccessDenied.
func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }

// IsBucketNotFound reports whether err wraps ErrBucketNotFound.
func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }

// IsInvalidCredentials reports whether err wraps ErrInvalidCredentials.
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }

// IsStoreUnavailable reports whether err wraps ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsThrottled reports whether err wraps ErrThrottled.
func IsThrottled(err error) bool { return errors.Is(err, ErrThrottled) }
