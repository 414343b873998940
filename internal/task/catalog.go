package task

import (
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Catalog is the process-singleton parallel to Registry: per-taskType
// policy metadata consulted for listing and allowed-action computation.
type Catalog struct {
	entries map[string]types.TaskCatalogEntry
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]types.TaskCatalogEntry)}
}

// Register adds entry under its own TaskType.
func (c *Catalog) Register(entry types.TaskCatalogEntry) {
	c.entries[entry.TaskType] = entry
}

// Get returns the catalog entry for taskType, or NotFound.
func (c *Catalog) Get(taskType string) (types.TaskCatalogEntry, error) {
	e, ok := c.entries[taskType]
	if !ok {
		return types.TaskCatalogEntry{}, gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "no catalog entry for task type: "+taskType)
	}
	return e, nil
}

// ListVisibleTypes returns the catalog entries an admin (isAdmin=true) or
// ordinary caller (isAdmin=false) may see; admin-only types are hidden from
// non-admins.
func (c *Catalog) ListVisibleTypes(isAdmin bool) []types.TaskCatalogEntry {
	out := make([]types.TaskCatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Visibility == types.VisibilityAdminOnly && !isAdmin {
			continue
		}
		out = append(out, e)
	}
	return out
}

// checkConsistency verifies every registered handler has a catalog entry and
// vice versa, per the startup consistency check (SPEC_FULL.md §4.8).
func checkConsistency(reg *Registry, cat *Catalog) error {
	for _, taskType := range reg.TaskTypes() {
		if _, ok := cat.entries[taskType]; !ok {
			return gwerrors.Validation(gwerrors.ErrCodeInvalidConfig, "task type registered with no catalog entry: "+taskType)
		}
	}
	for taskType := range cat.entries {
		if _, err := reg.Get(taskType); err != nil {
			return gwerrors.Validation(gwerrors.ErrCodeInvalidConfig, "catalog entry has no registered handler: "+taskType)
		}
	}
	return nil
}
