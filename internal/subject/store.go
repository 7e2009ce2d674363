package subject

import (
	"context"

	id "qcgate/pkg/domain"
)

// Store is the entity store the approval core reads and mutates.
//
// Error contract: Get and Update return sentinel.ErrNotFound for unknown
// subjects; other failures are wrapped infrastructure errors.
type Store interface {
	Get(ctx context.Context, subjectID id.SubjectID) (*Entity, error)
	Exists(ctx context.Context, subjectID id.SubjectID) (bool, error)
	Update(ctx context.Context, subjectID id.SubjectID, patch Patch) (*Entity, error)
	// Save inserts e or replaces it wholesale.
	Save(ctx context.Context, e *Entity) error
}
