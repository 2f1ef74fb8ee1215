// Package config gathers runtime settings from a .env file, the environment
// and command line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"enfra/internal/blob"
)

// DefaultEnvFile is loaded when present and no other file is named.
const DefaultEnvFile = ".env"

// Environment variable names.
const (
	EnvOcean      = "ENFRA_OCEAN"
	EnvSea        = "ENFRA_SEA"
	EnvPort       = "ENFRA_PORT"
	EnvBucket     = "ENFRA_BUCKET"
	EnvBlobDriver = "ENFRA_BLOB_DRIVER"
	EnvFSRoot     = "ENFRA_BLOB_FS_ROOT"
	EnvEndpoint   = "ENFRA_SPACES_ENDPOINT"
	EnvPathStyle  = "ENFRA_SPACES_PATH_STYLE"
	EnvLogbook    = "ENFRA_LOGBOOK"
	EnvAccessID   = "ACCESS_ID"
	EnvSecretKey  = "SECRET_KEY"
	EnvToken      = "DIGITALOCEAN_TOKEN"
)

// Config is the resolved runtime configuration.
type Config struct {
	Ocean      string
	Sea        string
	PortName   string
	Bucket     string
	BlobDriver string
	FSRoot     string
	Endpoint   string
	PathStyle  bool
	Logbook    string

	AccessID  string
	SecretKey string
	Token     string
}

// Load reads envFile into the process environment (existing variables win)
// and returns the configuration the environment describes. A missing
// DefaultEnvFile is ignored; any other missing file is an error.
func Load(envFile string) (Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	c := Config{
		Ocean:      os.Getenv(EnvOcean),
		Sea:        os.Getenv(EnvSea),
		PortName:   os.Getenv(EnvPort),
		Bucket:     os.Getenv(EnvBucket),
		BlobDriver: os.Getenv(EnvBlobDriver),
		FSRoot:     os.Getenv(EnvFSRoot),
		Endpoint:   os.Getenv(EnvEndpoint),
		Logbook:    os.Getenv(EnvLogbook),
		AccessID:   os.Getenv(EnvAccessID),
		SecretKey:  os.Getenv(EnvSecretKey),
		Token:      os.Getenv(EnvToken),
	}
	if raw := os.Getenv(EnvPathStyle); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvPathStyle, err)
		}
		c.PathStyle = v
	}
	return c, nil
}

// Driver is the blob driver to use. A configured sea implies Spaces.
func (c Config) Driver() blob.Driver {
	switch {
	case c.BlobDriver != "":
		return blob.Driver(c.BlobDriver)
	case c.Sea != "" || c.Endpoint != "":
		return blob.DriverS3
	default:
		return blob.DriverFilesystem
	}
}

// BlobOptions translates the configuration for blob.OpenWith.
func (c Config) BlobOptions() (blob.Options, error) {
	opts := blob.Options{Driver: c.Driver(), FSRoot: c.FSRoot}
	if opts.Driver != blob.DriverS3 {
		return opts, nil
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		if c.Ocean == "" || c.Sea == "" {
			return blob.Options{}, errors.New("spaces storage needs both ocean and sea (or an explicit endpoint)")
		}
		endpoint = blob.SpacesEndpoint(c.Ocean, c.Sea)
	}
	bucket := c.Bucket
	if bucket == "" {
		bucket = blob.DefaultBucket
	}
	region := c.Ocean
	if region == "" {
		region = "us-east-1"
	}
	opts.S3 = blob.S3Config{
		Region:          region,
		Bucket:          bucket,
		Endpoint:        endpoint,
		AccessKeyID:     c.AccessID,
		SecretAccessKey: c.SecretKey,
		PathStyle:       c.PathStyle,
	}
	return opts, nil
}
