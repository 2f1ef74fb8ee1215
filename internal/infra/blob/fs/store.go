// Package fs stores port objects in a local directory, the "port yard" used
// for dry runs with --blob-driver fs.
//
// Each key maps to a file below the root. Content type, user metadata and
// the ETag live in a JSON sidecar under the reserved .enfra-meta directory.
// All access goes through os.Root, so keys can never resolve outside the
// yard even through symlinks.
package fs

import (
	"context"
	"crypto/md5" //nolint:gosec // etag parity with Spaces
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"enfra/internal/blob/core"
)

// DefaultRoot is used when New is given an empty root.
const DefaultRoot = "./port-yard"

const (
	metaDir   = ".enfra-meta"
	tmpPrefix = ".incoming-"
)

// Store implements core.Store on a directory.
type Store struct {
	dir string
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	StoredAt    time.Time         `json:"stored_at"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{Key: key, Size: m.Size, ContentType: m.ContentType, ETag: m.ETag, Metadata: m.Metadata, LastModified: m.StoredAt}
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultRoot
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create port yard: %w", err)
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Dir returns the absolute yard directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, err
	}
	root, err := s.open(ctx)
	if err != nil {
		return core.Info{}, err
	}
	defer root.Close()

	current, err := readSidecar(root, key)
	exists := err == nil
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, err
	}
	switch {
	case opts.IfNoneMatch && exists:
		return core.Info{}, fmt.Errorf("blob %s already exists: %w", key, core.ErrPreconditionFailed)
	case opts.IfMatch != "" && (!exists || current.ETag != opts.IfMatch):
		return core.Info{}, fmt.Errorf("blob %s etag mismatch: %w", key, core.ErrPreconditionFailed)
	}

	dir := path.Dir(key)
	if err := root.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
		return core.Info{}, err
	}
	tmp := filepath.FromSlash(path.Join(dir, tmpPrefix+uuid.NewString()))
	f, err := root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = root.Remove(tmp) }()
	h := md5.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := root.Rename(tmp, filepath.FromSlash(key)); err != nil {
		return core.Info{}, err
	}

	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		StoredAt:    time.Now().UTC(),
	}
	if err := writeSidecar(root, key, meta); err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, nil, err
	}
	root, err := s.open(ctx)
	if err != nil {
		return core.Info{}, nil, err
	}
	defer root.Close()
	f, err := root.Open(filepath.FromSlash(key))
	if err != nil {
		return core.Info{}, nil, notFound(key, err)
	}
	info, err := stat(root, key)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	return info, f, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, err
	}
	root, err := s.open(ctx)
	if err != nil {
		return core.Info{}, err
	}
	defer root.Close()
	return stat(root, key)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	root, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer root.Close()
	if err := root.Remove(filepath.FromSlash(key)); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := root.Remove(sidecarPath(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	root, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	var infos []core.Info
	err = iofs.WalkDir(root.FS(), ".", func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == metaDir {
				return iofs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) || !strings.HasPrefix(p, prefix) {
			return nil
		}
		info, err := stat(root, p)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// PresignURL returns a file:// URL; the expiry is ignored.
func (s *Store) PresignURL(ctx context.Context, key string, _ core.PresignOptions) (string, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.dir, filepath.FromSlash(key)))}).String(), nil
}

func (s *Store) open(ctx context.Context) (*os.Root, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.OpenRoot(s.dir)
}

func checkKey(key string) error {
	if err := core.ValidateKey(key); err != nil {
		return err
	}
	if key == metaDir || strings.HasPrefix(key, metaDir+"/") {
		return fmt.Errorf("%w %q: reserved prefix", core.ErrInvalidKey, key)
	}
	return nil
}

// stat prefers the sidecar and falls back to file attributes for objects
// copied into the yard by hand.
func stat(root *os.Root, key string) (core.Info, error) {
	meta, err := readSidecar(root, key)
	if err == nil {
		return meta.info(key), nil
	}
	if !errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, err
	}
	fi, err := root.Stat(filepath.FromSlash(key))
	if err != nil {
		return core.Info{}, notFound(key, err)
	}
	if fi.IsDir() {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return core.Info{Key: key, Size: fi.Size(), LastModified: fi.ModTime().UTC()}, nil
}

func sidecarPath(key string) string {
	return filepath.FromSlash(path.Join(metaDir, key+".json"))
}

func readSidecar(root *os.Root, key string) (sidecar, error) {
	b, err := root.ReadFile(sidecarPath(key))
	if err != nil {
		return sidecar{}, err
	}
	var m sidecar
	if err := json.Unmarshal(b, &m); err != nil {
		return sidecar{}, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	return m, nil
}

func writeSidecar(root *os.Root, key string, m sidecar) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	p := sidecarPath(key)
	if err := root.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return root.WriteFile(p, b, 0o644)
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w: %w", key, core.ErrNotFound, err)
	}
	return err
}
