// Package sshkey resolves the operator's public SSH key into the MD5
// fingerprint the provider uses to identify registered keys.
package sshkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/ssh"
)

// ErrNoKey is returned when the key directory holds no public key.
var ErrNoKey = errors.New("sshkey: no public key found")

// ErrAmbiguousKey is returned when more than one public key could be meant.
var ErrAmbiguousKey = errors.New("sshkey: multiple public key files")

// LocalResolver fingerprints the single *.pub file in Dir, or File when set.
type LocalResolver struct {
	Dir  string
	File string
}

// NewLocalResolver returns a resolver over ~/.ssh, or file when non-empty.
func NewLocalResolver(file string) (*LocalResolver, error) {
	if file != "" {
		return &LocalResolver{File: file}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("sshkey: locate home directory: %w", err)
	}
	return &LocalResolver{Dir: filepath.Join(home, ".ssh")}, nil
}

// ResolveFingerprint returns the legacy MD5 fingerprint (aa:bb:...) of the
// operator's public key.
func (r *LocalResolver) ResolveFingerprint(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := r.File
	if path == "" {
		matches, err := filepath.Glob(filepath.Join(r.Dir, "*.pub"))
		if err != nil {
			return "", fmt.Errorf("sshkey: scan %s: %w", r.Dir, err)
		}
		sort.Strings(matches)
		switch len(matches) {
		case 0:
			return "", fmt.Errorf("%w in %s", ErrNoKey, r.Dir)
		case 1:
			path = matches[0]
		default:
			return "", fmt.Errorf("%w %v", ErrAmbiguousKey, matches)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("sshkey: read %s: %w", path, err)
	}
	return Fingerprint(raw)
}

// Fingerprint parses an authorized_keys formatted public key.
func Fingerprint(authorizedKey []byte) (string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		return "", fmt.Errorf("sshkey: parse public key: %w", err)
	}
	return ssh.FingerprintLegacyMD5(key), nil
}
