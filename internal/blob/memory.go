package blob

import (
	memorystore "enfra/internal/infra/blob/memory"
)

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memorystore.New() }
