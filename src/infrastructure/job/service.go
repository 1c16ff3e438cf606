package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"resynth/src/infrastructure/log"
)

// Sender hands a job message to the queue. Implementations return errors
// wrapping ErrQueueUnavailable or ErrDeliveryFailed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type JobService struct {
	store     Store
	sender    Sender
	retention time.Duration
	now       func() time.Time
	logger    logr.Logger
}

// SubmitRequest describes a new job.
type SubmitRequest struct {
	InputKey         string
	EffectChain      []Instruction
	OriginalFilename *string
}

func NewJobService(store Store, sender Sender, retention time.Duration) *JobService {
	return &JobService{
		store:     store,
		sender:    sender,
		retention: retention,
		now:       time.Now,
		logger:    log.WithName("job-service"),
	}
}

// Submit creates a pending job and publishes it to the message queue. When
// publishing fails the record already exists; the returned error names it.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*JobRecord, error) {
	if strings.TrimSpace(req.InputKey) == "" {
		return nil, fmt.Errorf("%w: input key is required", ErrInvalidRequest)
	}
	for i, in := range req.EffectChain {
		if strings.TrimSpace(in.Name) == "" {
			return nil, fmt.Errorf("%w: effect %d has no name", ErrInvalidRequest, i)
		}
	}

	rec := NewRecord(s.now(), s.retention, req.InputKey, req.EffectChain, req.OriginalFilename)
	job, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.sender.Send(ctx, MessageFor(job)); err != nil {
		s.logger.Error(err, "Job created but not queued", "job_id", job.JobID)
		return nil, fmt.Errorf("failed to queue job %s: %w", job.JobID, err)
	}

	s.logger.Info("Job submitted", "job_id", job.JobID, "effects", len(job.EffectChain))
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*JobRecord, bool, error) {
	return s.store.Get(ctx, id)
}

// BatchGet truncates ids to MaxBatchSize after removing duplicates.
func (s *JobService) BatchGet(ctx context.Context, ids []string) ([]*JobRecord, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []*JobRecord{}, nil
	}
	if len(ids) > MaxBatchSize {
		ids = ids[:MaxBatchSize]
	}
	return s.store.BatchGet(ctx, ids)
}

func (s *JobService) ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	return s.store.ListByStatus(ctx, status, limit)
}
