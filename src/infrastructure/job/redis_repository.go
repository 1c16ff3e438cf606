package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"resynth/src/infrastructure/log"
)

const (
	recordPrefix = "JOB#"    // primary record key prefix
	recordSuffix = ":META"   // primary record sort key
	statusPrefix = "STATUS#" // status index sorted set prefix

	maxWatchRetries = 3
)

func recordKey(id string) string { return recordPrefix + id + recordSuffix }

func statusKey(s JobStatus) string { return statusPrefix + string(s) }

func indexScore(t time.Time) float64 { return float64(t.UnixMilli()) }

// RedisJobRepository keeps each record as a JSON value that expires at
// ExpiresAt, plus one sorted set per status scored by creation time.
type RedisJobRepository struct {
	client *redis.Client
	now    func() time.Time
	logger logr.Logger
}

func NewRedisJobRepository(client *redis.Client) *RedisJobRepository {
	return &RedisJobRepository{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithName("job-store").WithValues("backend", "redis"),
	}
}

func (r *RedisJobRepository) Create(ctx context.Context, rec *JobRecord) (*JobRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	key := recordKey(rec.JobID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateKey
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ExpireAt(ctx, key, rec.ExpiresAt)
			pipe.ZAdd(ctx, statusKey(rec.Status), redis.Z{Score: indexScore(rec.CreatedAt), Member: rec.JobID})
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) || errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, rec.JobID)
		}
		return nil, fmt.Errorf("%w: failed to create job: %v", ErrStoreUnavailable, err)
	}

	return decodeRecord(data)
}

func (r *RedisJobRepository) Get(ctx context.Context, id string) (*JobRecord, bool, error) {
	data, err := r.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	if rec.Expired(r.now()) {
		return nil, false, nil
	}
	return rec, true, nil
}

func (r *RedisJobRepository) BatchGet(ctx context.Context, ids []string) ([]*JobRecord, error) {
	ids, err := checkBatch(ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*JobRecord{}, nil
	}
	return r.fetch(ctx, ids)
}

func (r *RedisJobRepository) fetch(ctx context.Context, ids []string) ([]*JobRecord, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := r.now()
	out := make([]*JobRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, err
		}
		if rec.Expired(now) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisJobRepository) Transition(ctx context.Context, id string, to JobStatus, fields TransitionFields) bool {
	logger := r.logger.WithValues("job_id", id, "status", to)
	if !fields.valid(to) {
		logger.Info("Rejected transition with inconsistent fields")
		return false
	}

	key := recordKey(id)
	confirmed := false
	txf := func(tx *redis.Tx) error {
		confirmed = false
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}

		now := r.now()
		if rec.Expired(now) {
			return nil
		}
		if rec.Status == to {
			confirmed = true
			return nil
		}
		if !CanTransition(rec.Status, to) {
			logger.Info("Rejected transition", "current", rec.Status)
			return nil
		}

		from := rec.Status
		fields.apply(rec, to, now)
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ExpireAt(ctx, key, rec.ExpiresAt)
			pipe.ZRem(ctx, statusKey(from), id)
			pipe.ZAdd(ctx, statusKey(to), redis.Z{Score: indexScore(rec.CreatedAt), Member: id})
			return nil
		})
		if err != nil {
			return err
		}
		confirmed = true
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return confirmed
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		logger.Error(err, "Failed to transition job")
		return false
	}
	logger.Info("Gave up transition after concurrent modifications")
	return false
}

// ListByStatus pages through the status index newest first. Index entries
// whose record has already expired are skipped.
func (r *RedisJobRepository) ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error) {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	out := make([]*JobRecord, 0, limit)
	for start := int64(0); len(out) < limit; start += int64(limit) {
		ids, err := r.client.ZRevRange(ctx, statusKey(status), start, start+int64(limit)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(ids) == 0 {
			break
		}
		recs, err := r.fetch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			// The record may have moved on between the two reads.
			if rec.Status == status && len(out) < limit {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func decodeRecord(data []byte) (*JobRecord, error) {
	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if rec.EffectChain == nil {
		rec.EffectChain = []Instruction{}
	}
	return &rec, nil
}
