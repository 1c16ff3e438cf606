package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"resynth/src/infrastructure/log"
)

// Result is what a Processor reports for a finished job.
type Result struct {
	OutputKey string
	KeyScheme int
}

// Processor performs the transformation for one job message.
type Processor interface {
	Process(ctx context.Context, msg Message) (Result, error)
}

// Receiver yields batches of queue messages. It blocks until at least one
// message is available or ctx is done.
type Receiver interface {
	Receive(ctx context.Context) ([]*message.Message, error)
}

type ItemOutcome string

const (
	OutcomeSuccess ItemOutcome = "success"
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomeError   ItemOutcome = "error"
)

type ItemResult struct {
	MessageID string      `json:"message_id"`
	JobID     string      `json:"job_id,omitempty"`
	Outcome   ItemOutcome `json:"status"`
	OutputKey string      `json:"output_key,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// BatchResult reports per-item outcomes. ItemFailures is always empty: every
// message is acknowledged so a job that fails deterministically is not
// redelivered forever.
type BatchResult struct {
	Items        []ItemResult `json:"items"`
	ItemFailures []string     `json:"batch_item_failures"`
}

type Worker struct {
	store       Store
	processor   Processor
	concurrency int
	logger      logr.Logger
}

func NewWorker(store Store, processor Processor, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		store:       store,
		processor:   processor,
		concurrency: concurrency,
		logger:      log.WithName("worker"),
	}
}

// Run pulls batches from r until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, r Receiver) error {
	w.logger.Info("Worker started", "concurrency", w.concurrency)
	for {
		batch, err := r.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return nil
			}
			return fmt.Errorf("failed to receive job messages: %w", err)
		}
		if len(batch) == 0 {
			continue
		}

		// A batch in hand is finished even if shutdown starts meanwhile.
		result := w.ProcessBatch(context.WithoutCancel(ctx), batch)
		counts := map[ItemOutcome]int{}
		for _, item := range result.Items {
			counts[item.Outcome]++
		}
		w.logger.V(1).Info("Batch processed",
			"size", len(batch),
			"success", counts[OutcomeSuccess],
			"skipped", counts[OutcomeSkipped],
			"error", counts[OutcomeError],
		)
	}
}

// ProcessBatch handles msgs concurrently and acknowledges all of them.
// Messages carrying the same job id run one after another in batch order.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []*message.Message) BatchResult {
	results := make([]ItemResult, len(msgs))
	decoded := make([]Message, len(msgs))

	var order []string
	groups := map[string][]int{}
	for i, raw := range msgs {
		m, err := DecodeMessage(raw.Payload)
		if err != nil || m.JobID == "" || m.InputKey == "" {
			reason := "missing job_id or input_key"
			if err != nil {
				reason = fmt.Sprintf("malformed message: %v", err)
			}
			w.logger.Info("Skipping message", "message_id", raw.UUID, "reason", reason)
			results[i] = ItemResult{MessageID: raw.UUID, JobID: m.JobID, Outcome: OutcomeSkipped, Error: reason}
			raw.Ack()
			continue
		}
		decoded[i] = m
		if _, ok := groups[m.JobID]; !ok {
			order = append(order, m.JobID)
		}
		groups[m.JobID] = append(groups[m.JobID], i)
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, id := range order {
		idx := groups[id]
		g.Go(func() error {
			for _, i := range idx {
				results[i] = w.handle(ctx, msgs[i], decoded[i])
				msgs[i].Ack()
			}
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Items: results, ItemFailures: []string{}}
}

func (w *Worker) handle(ctx context.Context, raw *message.Message, m Message) ItemResult {
	logger := w.logger.WithValues("job_id", m.JobID, "message_id", raw.UUID)
	res := ItemResult{MessageID: raw.UUID, JobID: m.JobID}

	if !w.store.Transition(ctx, m.JobID, JobStatusProcessing, TransitionFields{}) {
		rec, found, err := w.store.Get(ctx, m.JobID)
		switch {
		case err == nil && !found:
			logger.Info("Skipping message for unknown or expired job")
			res.Outcome = OutcomeSkipped
			res.Error = "job not found"
			return res
		case err == nil && rec.Status.Terminal():
			logger.Info("Skipping redelivered message", "current", rec.Status)
			res.Outcome = OutcomeSkipped
			res.Error = fmt.Sprintf("job already %s", rec.Status)
			return res
		}
		return w.fail(ctx, logger, res, errors.New("could not mark job as processing"))
	}

	out, err := w.process(ctx, logger, raw, m)
	if err != nil {
		return w.fail(ctx, logger, res, err)
	}

	if !w.store.Transition(ctx, m.JobID, JobStatusCompleted, TransitionFields{OutputKey: out.OutputKey, KeyScheme: out.KeyScheme}) {
		logger.Info("Output written but completion not recorded", "output_key", out.OutputKey)
		res.Outcome = OutcomeError
		res.OutputKey = out.OutputKey
		res.Error = "completion could not be recorded"
		return res
	}

	res.OutputKey = out.OutputKey

	// Completion is a no-op when another attempt got there first; its output
	// is the one on record and ours is orphaned.
	if rec, found, err := w.store.Get(ctx, m.JobID); err == nil && found &&
		rec.OutputKey != nil && *rec.OutputKey != out.OutputKey {
		logger.Info("Duplicate completion, output not recorded", "output_key", out.OutputKey, "recorded_output_key", *rec.OutputKey)
		res.Outcome = OutcomeSkipped
		res.Error = "job already completed by another attempt"
		return res
	}

	logger.Info("Job completed", "output_key", out.OutputKey)
	res.Outcome = OutcomeSuccess
	return res
}

// process runs the processor behind watermill's Recoverer so a panic fails
// the job instead of the worker.
func (w *Worker) process(ctx context.Context, logger logr.Logger, raw *message.Message, m Message) (Result, error) {
	var out Result
	h := middleware.Recoverer(func(*message.Message) ([]*message.Message, error) {
		var err error
		out, err = w.processor.Process(ctx, m)
		return nil, err
	})

	if _, err := h(raw); err != nil {
		var recovered middleware.RecoveredPanicError
		if errors.As(err, &recovered) {
			logger.Error(err, "Processor panicked", "stacktrace", recovered.Stacktrace)
			return Result{}, fmt.Errorf("panic during processing: %v", recovered.V)
		}
		return Result{}, err
	}
	return out, nil
}

func (w *Worker) fail(ctx context.Context, logger logr.Logger, res ItemResult, cause error) ItemResult {
	logger.Error(cause, "Job failed")
	res.Outcome = OutcomeError
	res.Error = cause.Error()
	if !w.store.Transition(ctx, res.JobID, JobStatusFailed, TransitionFields{ErrorMessage: cause.Error()}) {
		// Nothing retries this: the job stays where it is until it expires.
		logger.Info("Failure could not be recorded on job")
	}
	return res
}
