package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	EnvDriver = "ENFRA_BLOB_DRIVER"
	EnvFSRoot = "ENFRA_BLOB_FS_ROOT"
)

// Options selects a driver explicitly. Zero fields fall back to the
// environment.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open selects a store from the environment alone.
func Open(ctx context.Context) (Store, error) {
	return OpenWith(ctx, Options{})
}

// OpenWith selects a store. The driver defaults to ENFRA_BLOB_DRIVER and
// then to the local port yard.
func OpenWith(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = Driver(strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver))))
	}
	switch driver {
	case DriverS3:
		if opts.S3.Bucket == "" {
			return OpenFromEnv(ctx)
		}
		return NewS3(ctx, opts.S3)
	case DriverFilesystem, "":
		root := opts.FSRoot
		if root == "" {
			root = os.Getenv(EnvFSRoot)
		}
		return NewPortYard(root)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q (want s3, fs or memory)", driver)
	}
}
