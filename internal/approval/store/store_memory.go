package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"qcgate/internal/approval/models"
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
)

// Error contract:
// - ErrNotFound when the request does not exist
// - ErrConflict when a write would leave two PENDING requests for one
//   (subject, action) pair

type pendingKey struct {
	subject id.SubjectID
	action  policy.Action
}

// InMemoryStore keeps approval requests in memory and enforces the
// one-pending-per-(subject, action) constraint itself.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
	pending  map[pendingKey]id.RequestID
}

func New() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.RequestID]*models.Request),
		pending:  make(map[pendingKey]id.RequestID),
	}
}

func keyOf(r *models.Request) pendingKey {
	return pendingKey{subject: r.SubjectID, action: r.Action}
}

func (s *InMemoryStore) Insert(_ context.Context, r *models.Request) error {
	if r == nil {
		return fmt.Errorf("approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return sentinel.ErrConflict
	}
	if r.IsPending() {
		if _, taken := s.pending[keyOf(r)]; taken {
			return sentinel.ErrConflict
		}
		s.pending[keyOf(r)] = r.ID
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// FindByIDForUpdate is FindByID; callers already hold the subject lock.
func (s *InMemoryStore) FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.FindByID(ctx, requestID)
}

func (s *InMemoryStore) FindPending(_ context.Context, subjectID id.SubjectID, action policy.Action) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requestID, ok := s.pending[pendingKey{subject: subjectID, action: action}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.requests[requestID].Clone(), nil
}

// LatestForSubject returns the most recently updated action request for
// subjectID whose status is one of statuses (any status when none are given).
func (s *InMemoryStore) LatestForSubject(_ context.Context, subjectID id.SubjectID, action policy.Action, statuses ...models.Status) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Request
	for _, r := range s.requests {
		if r.SubjectID != subjectID || r.Action != action {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, r.Status) {
			continue
		}
		if latest == nil || models.MostRecent(r, latest) < 0 {
			latest = r
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, r *models.Request) error {
	if r == nil {
		return fmt.Errorf("approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	key := keyOf(r)
	if r.IsPending() {
		if holder, taken := s.pending[key]; taken && holder != r.ID {
			return sentinel.ErrConflict
		}
		s.pending[key] = r.ID
	} else if current.IsPending() {
		delete(s.pending, keyOf(current))
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, requestID id.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if holder, ok := s.pending[keyOf(r)]; ok && holder == requestID {
		delete(s.pending, keyOf(r))
	}
	delete(s.requests, requestID)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter models.Filter, page models.Page) ([]*models.Request, error) {
	page = page.Normalize()
	s.mu.RLock()
	matched := make([]*models.Request, 0)
	for _, r := range s.requests {
		if filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, models.NewestFirst)
	if page.Offset >= len(matched) {
		return []*models.Request{}, nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	return matched[page.Offset:end], nil
}
