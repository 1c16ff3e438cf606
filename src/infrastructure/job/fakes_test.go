package job_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"resynth/src/infrastructure/job"
)

// memStore is a map-backed Store with the same transition rules as the real
// backends.
type memStore struct {
	mu      sync.Mutex
	records map[string]*job.JobRecord

	batchCalls int
	// refuse makes Transition to the given status return false.
	refuse map[job.JobStatus]bool
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*job.JobRecord{}, refuse: map[job.JobStatus]bool{}}
}

func (s *memStore) Create(_ context.Context, rec *job.JobRecord) (*job.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.JobID]; ok {
		return nil, job.ErrDuplicateKey
	}
	cp := *rec
	s.records[rec.JobID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) Get(_ context.Context, id string) (*job.JobRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (s *memStore) BatchGet(_ context.Context, ids []string) ([]*job.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	var out []*job.JobRecord
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Transition(_ context.Context, id string, to job.JobStatus, f job.TransitionFields) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse[to] {
		return false
	}
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if rec.Status == to {
		return true
	}
	if !job.CanTransition(rec.Status, to) {
		return false
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	switch to {
	case job.JobStatusCompleted:
		out := f.OutputKey
		rec.OutputKey = &out
		rec.KeyScheme = f.KeyScheme
	case job.JobStatusFailed:
		msg := f.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return true
}

func (s *memStore) ListByStatus(_ context.Context, status job.JobStatus, limit int) ([]*job.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.JobRecord
	for _, rec := range s.records {
		if rec.Status == status && len(out) < limit {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) status(t *testing.T, id string) job.JobStatus {
	t.Helper()
	rec, ok, _ := s.Get(context.Background(), id)
	if !ok {
		t.Fatalf("job %s not in store", id)
	}
	return rec.Status
}

func (s *memStore) put(status job.JobStatus) *job.JobRecord {
	rec := job.NewRecord(time.Now(), job.DefaultRetention, "input/"+job.NewJobID()+".wav", nil, nil)
	rec.Status = status
	s.mu.Lock()
	s.records[rec.JobID] = rec
	s.mu.Unlock()
	cp := *rec
	return &cp
}
