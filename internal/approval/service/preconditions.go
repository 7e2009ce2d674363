package service

import (
	"context"
	"errors"

	"qcgate/internal/approval/models"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/sentinel"
)

// Precondition is a named check run before a request for a subject of a
// given kind is created. Check returns a CodePreconditionFailed error when
// the subject is not ready for approval.
type Precondition struct {
	Name  string
	Check func(ctx context.Context, reads Stores, entity *subject.Entity) error
}

// Preconditions holds the checks per subject kind, run in registration order.
type Preconditions struct {
	byKind map[subject.Kind][]Precondition
}

func NewPreconditions() *Preconditions {
	return &Preconditions{byKind: make(map[subject.Kind][]Precondition)}
}

// DefaultPreconditions requires a QC entry's machine to be approved.
func DefaultPreconditions() *Preconditions {
	p := NewPreconditions()
	p.Register(subject.KindQCEntry, MachineApproved())
	return p
}

func (p *Preconditions) Register(kind subject.Kind, pc Precondition) {
	p.byKind[kind] = append(p.byKind[kind], pc)
}

// Names lists the checks registered for kind.
func (p *Preconditions) Names(kind subject.Kind) []string {
	var names []string
	for _, pc := range p.byKind[kind] {
		names = append(names, pc.Name)
	}
	return names
}

func (p *Preconditions) run(ctx context.Context, reads Stores, entity *subject.Entity) error {
	for _, pc := range p.byKind[entity.Kind] {
		if err := pc.Check(ctx, reads, entity); err != nil {
			if dErrors.HasCode(err, dErrors.CodePreconditionFailed) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "precondition "+pc.Name+" could not be checked")
		}
	}
	return nil
}

// MachineApproved passes when the parent machine's creation request was last
// decided with an approval. Edit decisions on the machine do not count.
func MachineApproved() Precondition {
	return Precondition{
		Name: "machine_approved",
		Check: func(ctx context.Context, reads Stores, entity *subject.Entity) error {
			if entity.ParentID == nil {
				return dErrors.New(dErrors.CodePreconditionFailed, "QC entry is not linked to a machine")
			}
			latest, err := reads.Requests.LatestForSubject(ctx, *entity.ParentID, policy.ActionCreateMachine,
				models.StatusApproved, models.StatusRejected)
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodePreconditionFailed, "machine has no approved approval request")
			}
			if err != nil {
				return err
			}
			if latest.Status != models.StatusApproved {
				return dErrors.New(dErrors.CodePreconditionFailed, "machine approval was rejected")
			}
			return nil
		},
	}
}
