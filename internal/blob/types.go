// Package blob is the only entry point to object storage. Port code depends
// on the Store interface and picks a driver through Open or OpenWith.
package blob

import (
	"enfra/internal/blob/core"
)

type (
	Driver         = core.Driver
	PutOptions     = core.PutOptions
	PresignOptions = core.PresignOptions
	Info           = core.Info
	Store          = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported        = core.ErrUnsupported
	ErrNotFound           = core.ErrNotFound
	ErrPreconditionFailed = core.ErrPreconditionFailed
	ErrInvalidKey         = core.ErrInvalidKey
)

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool { return core.IsNotFound(err) }

// ValidateKey reports whether every driver accepts key.
func ValidateKey(key string) error { return core.ValidateKey(key) }
