package store

import (
	"context"
	"errors"
	"sync"

	"jobmate/discovery-pipeline/internal/model"
)

// MemoryStore keeps jobs in process. It backs the service when no
// DATABASE_URL is configured and stands in for Postgres in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.ValidatedJob
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]model.ValidatedJob)}
}

// Upsert applies Merge to every record under one lock.
func (s *MemoryStore) Upsert(ctx context.Context, jobs []model.ValidatedJob) model.UpsertOutcome {
	var out model.UpsertOutcome

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: model.ActionFailed, Err: err})
			continue
		}
		if j.ExternalID == "" {
			out.Add(model.RecordOutcome{Action: model.ActionFailed, Err: errors.New("empty external_id")})
			continue
		}

		existing, ok := s.jobs[j.ExternalID]
		if !ok {
			s.jobs[j.ExternalID] = j
			out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: model.ActionInserted})
			continue
		}
		merged, changed := Merge(existing, j)
		if !changed {
			out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: model.ActionUnchanged})
			continue
		}
		s.jobs[j.ExternalID] = merged
		out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: model.ActionUpdated})
	}
	return out
}

// Get returns the stored record for externalID.
func (s *MemoryStore) Get(_ context.Context, externalID string) (model.ValidatedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[externalID]
	if !ok {
		return model.ValidatedJob{}, ErrNotFound
	}
	return j, nil
}

// Len reports how many records are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
