package blob

import (
	"enfra/internal/infra/blob/fs"
)

// DefaultYard is the port yard directory used by the fs driver when no root
// is configured.
const DefaultYard = fs.DefaultRoot

// NewPortYard opens a directory-backed store for dry runs.
func NewPortYard(dir string) (Store, error) {
	return fs.New(dir)
}
