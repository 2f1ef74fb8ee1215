// Package core defines the object storage contract port documents and cargo
// are persisted through.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local port yard (dry runs)
	DriverS3         Driver = "s3"     // DigitalOcean Spaces or any S3 endpoint
	DriverMemory     Driver = "memory" // tests
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	// Metadata is stored as flat user metadata (x-amz-meta-* on Spaces).
	Metadata map[string]string
	// IfNoneMatch makes the write create-only: it fails with
	// ErrPreconditionFailed when the key already exists.
	IfNoneMatch bool
	// IfMatch makes the write conditional on the current ETag of the key.
	IfMatch string
}

// PresignOptions configures a pre-signed download link.
type PresignOptions struct {
	Expiry time.Duration
}

// DefaultPresignExpiry applies when PresignOptions.Expiry is zero.
const DefaultPresignExpiry = 15 * time.Minute

// Info describes a stored object. ETag is the unquoted hex MD5 of the
// content, which is what Spaces reports for single-part uploads.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a single-bucket object store. Put overwrites unless a
// precondition is set. Get and Head report a missing key with an error
// matching ErrNotFound; Delete reports whether the key existed.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts PresignOptions) (string, error)
	Driver() Driver
}

var (
	ErrUnsupported        = errors.New("blobstore: unsupported operation")
	ErrNotFound           = errors.New("blobstore: not found")
	ErrPreconditionFailed = errors.New("blobstore: precondition failed")
	ErrInvalidKey         = errors.New("blobstore: invalid key")
)

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ValidateKey rejects keys that are empty, absolute, end in a slash or
// contain empty, "." or ".." segments. Every driver applies it so a key
// accepted by one backend is accepted by all of them.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsRune(key, '\\') {
		return fmt.Errorf("%w %q: backslash", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w %q: empty segment", ErrInvalidKey, key)
		case ".", "..":
			return fmt.Errorf("%w %q: relative segment", ErrInvalidKey, key)
		}
	}
	return nil
}

// ExpiryOrDefault returns the effective lifetime of a presigned link.
func (o PresignOptions) ExpiryOrDefault() time.Duration {
	if o.Expiry <= 0 {
		return DefaultPresignExpiry
	}
	return o.Expiry
}
