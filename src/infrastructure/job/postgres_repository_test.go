package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newGormStore runs the gorm repository on an in-memory sqlite database.
func newGormStore(t *testing.T, clock *fakeClock) Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), cfg)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get *sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo, err := NewPostgresJobRepository(db, 1)
	if err != nil {
		t.Fatalf("NewPostgresJobRepository() error = %v", err)
	}
	repo.now = clock.Now
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return repo
}

func TestPostgresJobRepository(t *testing.T) {
	runStoreSuite(t, newGormStore)
}

func TestPostgresJobRepository_IndexFollowsStatus(t *testing.T) {
	clock := &fakeClock{t: epoch}
	repo := newGormStore(t, clock).(*PostgresJobRepository)
	ctx := context.Background()

	rec, err := repo.Create(ctx, newTestRecord(epoch, "input/a.wav"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	repo.Transition(ctx, rec.JobID, JobStatusProcessing, TransitionFields{})

	var row statusIndexRow
	if err := repo.db.Where("job_id = ?", rec.JobID).Take(&row).Error; err != nil {
		t.Fatalf("index row missing: %v", err)
	}
	if row.Status != string(JobStatusProcessing) {
		t.Errorf("index status = %q, want processing", row.Status)
	}
	if row.ID == 0 {
		t.Error("index row has no snowflake id")
	}
}

func TestPostgresJobRepository_UniqueViolationIsDuplicate(t *testing.T) {
	clock := &fakeClock{t: epoch}
	repo := newGormStore(t, clock).(*PostgresJobRepository)
	ctx := context.Background()
	rec := newTestRecord(epoch, "input/a.wav")

	// A concurrent Create that won the race after the existence check.
	err := repo.db.Create(&statusIndexRow{
		ID:        repo.snowflake.Generate().Int64(),
		JobID:     rec.JobID,
		Status:    string(JobStatusPending),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}).Error
	if err != nil {
		t.Fatalf("failed to seed index row: %v", err)
	}

	if _, err := repo.Create(ctx, rec); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Create() error = %v, want ErrDuplicateKey", err)
	}
	if _, found, _ := repo.Get(ctx, rec.JobID); found {
		t.Error("job row left behind by the failed create")
	}
}

func TestGormConfig_TranslatesErrors(t *testing.T) {
	if !GormConfig().TranslateError {
		t.Error("GormConfig().TranslateError = false")
	}
}

func TestNewPostgresJobRepository_InvalidNode(t *testing.T) {
	if _, err := NewPostgresJobRepository(nil, -1); err == nil {
		t.Error("NewPostgresJobRepository(node -1) returned no error")
	}
}
