package executor

import (
	"context"

	"outcome-engine/internal/domain"
)

// Registry maps each outcome type to its executor. A nil entry means the
// type is declared in the schema but its executor has not shipped; keeping
// the entry lets configuration select the type ahead of the implementation
// without breaking parsing. Adding a type is one registration plus a new
// executor, never a change to dispatch.
type Registry struct {
	executors map[domain.OutcomeType]Executor
}

// NewRegistry builds the default registry: photo and ai.image wired,
// gif/video/ai.video declared but not implemented.
func NewRegistry(photo, aiImage Executor) *Registry {
	return &Registry{executors: map[domain.OutcomeType]Executor{
		domain.OutcomeTypePhoto:   photo,
		domain.OutcomeTypeAIImage: aiImage,
		domain.OutcomeTypeGIF:     nil,
		domain.OutcomeTypeVideo:   nil,
		domain.OutcomeTypeAIVideo: nil,
	}}
}

// Register installs (or replaces) the executor for a type.
func (r *Registry) Register(t domain.OutcomeType, e Executor) {
	r.executors[t] = e
}

// Dispatch selects the executor for the snapshot's outcome type and runs it.
// A missing type or a declared-but-unimplemented type is fatal, non-
// retryable invalid input.
func (r *Registry) Dispatch(ctx context.Context, ec ExecContext) (*Artifact, error) {
	t := ec.Snapshot.OutcomeConfig.Type
	if t == "" {
		return nil, domain.Errf(domain.ErrorKindInvalidInput, "job snapshot has no outcome type")
	}
	e, known := r.executors[t]
	if !known {
		return nil, domain.Errf(domain.ErrorKindInvalidInput, "unknown outcome type %q", t)
	}
	if e == nil {
		return nil, domain.Errf(domain.ErrorKindInvalidInput, "outcome type %q is not implemented", t)
	}
	return e.Execute(ctx, ec)
}
