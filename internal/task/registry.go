package task

import (
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Validator is an optional TaskHandler extension: when implemented, Engine
// calls Validate(payload) before creating a job and rejects the submission
// on error.
type Validator interface {
	Validate(payload map[string]any) error
}

// StatsTemplater is an optional TaskHandler extension: when implemented,
// Engine seeds a new job's Stats from CreateStatsTemplate(payload).
type StatsTemplater interface {
	CreateStatsTemplate(payload map[string]any) map[string]any
}

// Registry is the process-singleton taskType -> TaskHandler map.
type Registry struct {
	handlers map[string]types.TaskHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]types.TaskHandler)}
}

// Register adds handler under its own TaskType(). Registering the same
// taskType twice replaces the prior handler.
func (r *Registry) Register(handler types.TaskHandler) {
	r.handlers[handler.TaskType()] = handler
}

// Get returns the handler for taskType, or NotFound.
func (r *Registry) Get(taskType string) (types.TaskHandler, error) {
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodeJobNotFound, "no handler registered for task type: "+taskType)
	}
	return h, nil
}

// TaskTypes returns every registered task type.
func (r *Registry) TaskTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
