package blob

import (
	"context"

	infraS3 "enfra/internal/infra/blob/s3"
)

// DefaultBucket is the bucket ports live in when none is configured.
const DefaultBucket = infraS3.DefaultBucket

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenFromEnv constructs an S3 store using environment variables.
func OpenFromEnv(ctx context.Context) (Store, error) {
	return infraS3.OpenFromEnv(ctx)
}

// SpacesEndpoint returns the Spaces endpoint for a sea in an ocean.
func SpacesEndpoint(ocean, sea string) string {
	return infraS3.SpacesEndpoint(ocean, sea)
}

// NewMockS3ForTests exposes the lightweight in-memory mock for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
