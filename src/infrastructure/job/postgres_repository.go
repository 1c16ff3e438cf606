package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resynth/src/infrastructure/log"
)

// jobRow is the primary record, keyed by job id.
type jobRow struct {
	JobID            string         `gorm:"primaryKey;column:job_id"`
	Status           string         `gorm:"not null"`
	InputKey         string         `gorm:"not null"`
	OutputKey        *string        `gorm:"column:output_key"`
	EffectChain      datatypes.JSON `gorm:"not null"`
	OriginalFilename *string
	KeyScheme        int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false"`
	CompletedAt      *time.Time
	ErrorMessage     *string
	ExpiresAt        time.Time `gorm:"not null;index"`
}

func (jobRow) TableName() string { return "jobs" }

// statusIndexRow is the status-ordered view over jobs.
type statusIndexRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	JobID     string    `gorm:"not null;uniqueIndex"`
	Status    string    `gorm:"not null;index:idx_status_created,priority:1"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false;index:idx_status_created,priority:2,sort:desc"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (statusIndexRow) TableName() string { return "job_status_index" }

// GormConfig is the configuration the repository expects its *gorm.DB to be
// opened with. TranslateError lets a unique violation from a concurrent
// Create surface as ErrDuplicateKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

type PostgresJobRepository struct {
	db        *gorm.DB
	snowflake *snowflake.Node
	now       func() time.Time
	logger    logr.Logger
}

func NewPostgresJobRepository(db *gorm.DB, node int64) (*PostgresJobRepository, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}
	return &PostgresJobRepository{
		db:        db,
		snowflake: n,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log.WithName("job-store").WithValues("backend", "postgres"),
	}, nil
}

// Migrate creates or updates the jobs and job_status_index tables.
func (r *PostgresJobRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&jobRow{}, &statusIndexRow{})
}

func (r *PostgresJobRepository) Create(ctx context.Context, rec *JobRecord) (*JobRecord, error) {
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&jobRow{}).Where("job_id = ?", rec.JobID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateKey
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Create(&statusIndexRow{
			ID:        r.snowflake.Generate().Int64(),
			JobID:     rec.JobID,
			Status:    string(rec.Status),
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, rec.JobID)
		}
		return nil, fmt.Errorf("%w: failed to create job: %v", ErrStoreUnavailable, err)
	}

	return fromRow(row)
}

func (r *PostgresJobRepository) Get(ctx context.Context, id string) (*JobRecord, bool, error) {
	var row jobRow
	result := r.db.WithContext(ctx).
		Where("job_id = ? AND expires_at > ?", id, r.now()).
		Take(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}

	rec, err := fromRow(&row)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *PostgresJobRepository) BatchGet(ctx context.Context, ids []string) ([]*JobRecord, error) {
	ids, err := checkBatch(ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*JobRecord{}, nil
	}

	var rows []jobRow
	result := r.db.WithContext(ctx).
		Where("job_id IN ? AND expires_at > ?", ids, r.now()).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}

	return fromRows(rows)
}

func (r *PostgresJobRepository) Transition(ctx context.Context, id string, to JobStatus, fields TransitionFields) bool {
	logger := r.logger.WithValues("job_id", id, "status", to)
	if !fields.valid(to) {
		logger.Info("Rejected transition with inconsistent fields")
		return false
	}

	now := r.now()
	var probe JobRecord
	fields.apply(&probe, to, now)

	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}
	switch to {
	case JobStatusCompleted:
		updates["output_key"] = probe.OutputKey
		updates["key_scheme"] = probe.KeyScheme
		updates["completed_at"] = probe.CompletedAt
	case JobStatusFailed:
		updates["error_message"] = probe.ErrorMessage
	}

	confirmed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&jobRow{}).
			Where("job_id = ? AND status IN ? AND expires_at > ?", id, sourcesOf(to), now).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Either the edge is not allowed or the job is already there.
			var current jobRow
			if err := tx.Select("status").Where("job_id = ? AND expires_at > ?", id, now).Take(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			confirmed = current.Status == string(to)
			if !confirmed {
				logger.Info("Rejected transition", "current", current.Status)
			}
			return nil
		}

		result = tx.Model(&statusIndexRow{}).Where("job_id = ?", id).Update("status", string(to))
		if result.Error != nil {
			return result.Error
		}
		confirmed = true
		return nil
	})
	if err != nil {
		logger.Error(err, "Failed to transition job")
		return false
	}
	return confirmed
}

func (r *PostgresJobRepository) ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error) {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	var rows []jobRow
	result := r.db.WithContext(ctx).
		Model(&jobRow{}).
		Select("jobs.*").
		Joins("JOIN job_status_index ON job_status_index.job_id = jobs.job_id").
		Where("job_status_index.status = ? AND jobs.expires_at > ?", string(status), r.now()).
		Order("job_status_index.created_at DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}

	return fromRows(rows)
}

func toRow(rec *JobRecord) (*jobRow, error) {
	chain, err := json.Marshal(rec.EffectChain)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal effect chain: %w", err)
	}
	return &jobRow{
		JobID:            rec.JobID,
		Status:           string(rec.Status),
		InputKey:         rec.InputKey,
		OutputKey:        rec.OutputKey,
		EffectChain:      datatypes.JSON(chain),
		OriginalFilename: rec.OriginalFilename,
		KeyScheme:        rec.KeyScheme,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		CompletedAt:      rec.CompletedAt,
		ErrorMessage:     rec.ErrorMessage,
		ExpiresAt:        rec.ExpiresAt,
	}, nil
}

func fromRow(row *jobRow) (*JobRecord, error) {
	chain := []Instruction{}
	if len(row.EffectChain) > 0 {
		if err := json.Unmarshal(row.EffectChain, &chain); err != nil {
			return nil, fmt.Errorf("failed to unmarshal effect chain of job %s: %w", row.JobID, err)
		}
	}
	return &JobRecord{
		JobID:            row.JobID,
		Status:           JobStatus(row.Status),
		InputKey:         row.InputKey,
		OutputKey:        row.OutputKey,
		EffectChain:      chain,
		OriginalFilename: row.OriginalFilename,
		KeyScheme:        row.KeyScheme,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
		CompletedAt:      utcPtr(row.CompletedAt),
		ErrorMessage:     row.ErrorMessage,
		ExpiresAt:        row.ExpiresAt.UTC(),
	}, nil
}

func fromRows(rows []jobRow) ([]*JobRecord, error) {
	out := make([]*JobRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
