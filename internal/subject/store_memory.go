package subject

import (
	"context"
	"fmt"
	"sync"

	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
	"qcgate/pkg/requestcontext"
)

// InMemoryStore keeps subjects in a map and hands out copies.
type InMemoryStore struct {
	mu       sync.RWMutex
	subjects map[id.SubjectID]*Entity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{subjects: make(map[id.SubjectID]*Entity)}
}

func (s *InMemoryStore) Get(_ context.Context, subjectID id.SubjectID) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.subjects[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemoryStore) Exists(_ context.Context, subjectID id.SubjectID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subjects[subjectID]
	return ok, nil
}

func (s *InMemoryStore) Update(ctx context.Context, subjectID id.SubjectID, patch Patch) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.subjects[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := e.Clone()
	patch.ApplyTo(next, requestcontext.Now(ctx))
	s.subjects[subjectID] = next
	return next.Clone(), nil
}

func (s *InMemoryStore) Save(ctx context.Context, e *Entity) error {
	if e == nil {
		return fmt.Errorf("subject is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := e.Clone()
	now := requestcontext.Now(ctx)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.ApprovalStatus == "" {
		stored.ApprovalStatus = ApprovalNone
	}
	s.subjects[e.ID] = stored
	return nil
}

var _ Store = (*InMemoryStore)(nil)
