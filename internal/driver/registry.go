// Package driver holds the capability-dispatch registry (C3) that maps a
// mount's storage_config_id to the types.Driver instance serving it.
package driver

import (
	"fmt"
	"sync"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Registry resolves storage_config_id to the driver instance that backs it.
// Drivers are registered once at startup (one per configured storage_config)
// and never replaced at runtime; callers needing a fresh driver after a
// config reload construct a new Registry.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]types.Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]types.Driver)}
}

// Register binds storageConfigID to d, replacing any existing binding.
func (r *Registry) Register(storageConfigID string, d types.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[storageConfigID] = d
}

// Get returns the driver bound to storageConfigID.
func (r *Registry) Get(storageConfigID string) (types.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[storageConfigID]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodeMountNotFound,
			fmt.Sprintf("no driver registered for storage_config %q", storageConfigID))
	}
	return d, nil
}

// RequireCapability returns the driver bound to storageConfigID, failing if
// it does not advertise cap.
func (r *Registry) RequireCapability(storageConfigID string, cap types.Capability) (types.Driver, error) {
	d, err := r.Get(storageConfigID)
	if err != nil {
		return nil, err
	}
	if !d.Capabilities().Has(cap) {
		return nil, gwerrors.Validation(gwerrors.ErrCodeWrongStorageType,
			fmt.Sprintf("storage_config %q driver does not support %s", storageConfigID, cap))
	}
	return d, nil
}

// StorageConfigIDs returns the ids of all registered drivers.
func (r *Registry) StorageConfigIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	return ids
}
