package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// storeFactory builds an empty store whose notion of now is clock.
type storeFactory func(t *testing.T, clock *fakeClock) Store

func newTestRecord(now time.Time, input string) *JobRecord {
	return NewRecord(now, DefaultRetention, input, []Instruction{
		{Name: "Blues Driver"},
		{Name: "Reverb", Params: map[string]interface{}{"room_size": 0.8}},
	}, strPtr("track.wav"))
}

func runStoreSuite(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("create returns pending record", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)

		created, err := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if created.Status != JobStatusPending {
			t.Errorf("Status = %q, want %q", created.Status, JobStatusPending)
		}
		if created.OutputKey != nil || created.ErrorMessage != nil || created.CompletedAt != nil {
			t.Errorf("new record has output/error/completed set: %+v", created)
		}

		got, found, err := store.Get(ctx, created.JobID)
		if err != nil || !found {
			t.Fatalf("Get() = found %v, err %v", found, err)
		}
		if got.InputKey != "input/a.wav" || len(got.EffectChain) != 2 || got.EffectChain[1].Name != "Reverb" {
			t.Errorf("Get() = %+v, want stored fields", got)
		}
		if got.OriginalFilename == nil || *got.OriginalFilename != "track.wav" {
			t.Errorf("OriginalFilename = %v, want track.wav", got.OriginalFilename)
		}
		if !got.CreatedAt.Equal(epoch) || !got.ExpiresAt.Equal(epoch.Add(DefaultRetention)) {
			t.Errorf("timestamps = %v / %v", got.CreatedAt, got.ExpiresAt)
		}
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)

		rec := newTestRecord(clock.Now(), "input/a.wav")
		if _, err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := store.Create(ctx, rec); !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("second Create() error = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		store := factory(t, &fakeClock{t: epoch})
		got, found, err := store.Get(ctx, "does-not-exist")
		if err != nil || found || got != nil {
			t.Errorf("Get() = %v, %v, %v; want nil, false, nil", got, found, err)
		}
	})

	t.Run("transitions follow the state machine", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		rec, err := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		steps := []struct {
			name   string
			to     JobStatus
			fields TransitionFields
			want   bool
			status JobStatus
		}{
			{"pending to completed skips processing", JobStatusCompleted, TransitionFields{OutputKey: "output/x.wav"}, false, JobStatusPending},
			{"pending to failed", JobStatusFailed, TransitionFields{ErrorMessage: "boom"}, false, JobStatusPending},
			{"pending to processing", JobStatusProcessing, TransitionFields{}, true, JobStatusProcessing},
			{"processing again is a no-op", JobStatusProcessing, TransitionFields{}, true, JobStatusProcessing},
			{"back to pending", JobStatusPending, TransitionFields{}, false, JobStatusProcessing},
			{"completed without output", JobStatusCompleted, TransitionFields{}, false, JobStatusProcessing},
			{"processing to completed", JobStatusCompleted, TransitionFields{OutputKey: "output/x.wav", KeyScheme: 1}, true, JobStatusCompleted},
			{"completed to failed", JobStatusFailed, TransitionFields{ErrorMessage: "late"}, false, JobStatusCompleted},
			{"completed to processing", JobStatusProcessing, TransitionFields{}, false, JobStatusCompleted},
		}
		for _, step := range steps {
			clock.Advance(time.Second)
			if got := store.Transition(ctx, rec.JobID, step.to, step.fields); got != step.want {
				t.Errorf("%s: Transition(%s) = %v, want %v", step.name, step.to, got, step.want)
			}
			cur, _, err := store.Get(ctx, rec.JobID)
			if err != nil {
				t.Fatalf("%s: Get() error = %v", step.name, err)
			}
			if cur.Status != step.status {
				t.Errorf("%s: status = %q, want %q", step.name, cur.Status, step.status)
			}
		}

		got, _, _ := store.Get(ctx, rec.JobID)
		if got.OutputKey == nil || *got.OutputKey != "output/x.wav" {
			t.Errorf("OutputKey = %v, want output/x.wav", got.OutputKey)
		}
		if got.ErrorMessage != nil {
			t.Errorf("ErrorMessage = %q, want nil", *got.ErrorMessage)
		}
		if got.CompletedAt == nil || got.KeyScheme != 1 {
			t.Errorf("CompletedAt = %v, KeyScheme = %d", got.CompletedAt, got.KeyScheme)
		}
	})

	t.Run("repeated completion equals a single completion", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		rec, _ := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))
		store.Transition(ctx, rec.JobID, JobStatusProcessing, TransitionFields{})

		clock.Advance(time.Minute)
		if !store.Transition(ctx, rec.JobID, JobStatusCompleted, TransitionFields{OutputKey: "output/x.wav"}) {
			t.Fatal("first completion not confirmed")
		}
		once, _, _ := store.Get(ctx, rec.JobID)

		clock.Advance(time.Minute)
		if !store.Transition(ctx, rec.JobID, JobStatusCompleted, TransitionFields{OutputKey: "output/y.wav"}) {
			t.Fatal("repeated completion not confirmed")
		}
		twice, _, _ := store.Get(ctx, rec.JobID)

		if *twice.OutputKey != *once.OutputKey || !twice.UpdatedAt.Equal(once.UpdatedAt) || !twice.CompletedAt.Equal(*once.CompletedAt) {
			t.Errorf("record changed by repeated completion: %+v vs %+v", once, twice)
		}
	})

	t.Run("failure records the message", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		rec, _ := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))
		store.Transition(ctx, rec.JobID, JobStatusProcessing, TransitionFields{})

		if store.Transition(ctx, rec.JobID, JobStatusFailed, TransitionFields{}) {
			t.Error("failed without a message was confirmed")
		}
		if !store.Transition(ctx, rec.JobID, JobStatusFailed, TransitionFields{ErrorMessage: "decode error"}) {
			t.Fatal("failure not confirmed")
		}
		got, _, _ := store.Get(ctx, rec.JobID)
		if got.ErrorMessage == nil || *got.ErrorMessage != "decode error" || got.OutputKey != nil {
			t.Errorf("got %+v, want error message and no output", got)
		}
	})

	t.Run("transition of unknown job", func(t *testing.T) {
		store := factory(t, &fakeClock{t: epoch})
		if store.Transition(ctx, "missing", JobStatusProcessing, TransitionFields{}) {
			t.Error("Transition() on a missing job = true")
		}
	})

	t.Run("batch get omits missing ids", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		a, _ := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))
		b, _ := store.Create(ctx, newTestRecord(clock.Now(), "input/b.wav"))

		got, err := store.BatchGet(ctx, []string{a.JobID, "missing", b.JobID, a.JobID})
		if err != nil {
			t.Fatalf("BatchGet() error = %v", err)
		}
		ids := map[string]bool{}
		for _, rec := range got {
			ids[rec.JobID] = true
		}
		if len(got) != 2 || !ids[a.JobID] || !ids[b.JobID] {
			t.Errorf("BatchGet() returned %d records %v, want a and b", len(got), ids)
		}

		empty, err := store.BatchGet(ctx, nil)
		if err != nil || empty == nil || len(empty) != 0 {
			t.Errorf("BatchGet(nil) = %v, %v; want empty slice", empty, err)
		}
	})

	t.Run("batch get rejects more than the limit", func(t *testing.T) {
		store := factory(t, &fakeClock{t: epoch})
		ids := make([]string, MaxBatchSize+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("id-%d", i)
		}
		if _, err := store.BatchGet(ctx, ids); !errors.Is(err, ErrBatchTooLarge) {
			t.Errorf("BatchGet(%d ids) error = %v, want ErrBatchTooLarge", len(ids), err)
		}
	})

	t.Run("expired records read as absent", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		rec, _ := store.Create(ctx, newTestRecord(clock.Now(), "input/a.wav"))

		clock.Advance(DefaultRetention + time.Hour)
		if _, found, err := store.Get(ctx, rec.JobID); found || err != nil {
			t.Errorf("Get() after expiry = found %v, err %v", found, err)
		}
		if got, _ := store.BatchGet(ctx, []string{rec.JobID}); len(got) != 0 {
			t.Errorf("BatchGet() after expiry returned %d records", len(got))
		}
		if store.Transition(ctx, rec.JobID, JobStatusProcessing, TransitionFields{}) {
			t.Error("Transition() after expiry = true")
		}
	})

	t.Run("list by status newest first", func(t *testing.T) {
		clock := &fakeClock{t: epoch}
		store := factory(t, clock)
		var ids []string
		for i := 0; i < 3; i++ {
			clock.Advance(time.Hour)
			rec, err := store.Create(ctx, newTestRecord(clock.Now(), fmt.Sprintf("input/%d.wav", i)))
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			ids = append(ids, rec.JobID)
		}
		store.Transition(ctx, ids[1], JobStatusProcessing, TransitionFields{})

		pending, err := store.ListByStatus(ctx, JobStatusPending, 10)
		if err != nil {
			t.Fatalf("ListByStatus() error = %v", err)
		}
		if len(pending) != 2 || pending[0].JobID != ids[2] || pending[1].JobID != ids[0] {
			t.Errorf("pending = %v, want [%s %s]", jobIDs(pending), ids[2], ids[0])
		}

		processing, _ := store.ListByStatus(ctx, JobStatusProcessing, 10)
		if len(processing) != 1 || processing[0].JobID != ids[1] {
			t.Errorf("processing = %v, want [%s]", jobIDs(processing), ids[1])
		}

		limited, _ := store.ListByStatus(ctx, JobStatusPending, 1)
		if len(limited) != 1 || limited[0].JobID != ids[2] {
			t.Errorf("limited = %v, want [%s]", jobIDs(limited), ids[2])
		}
	})
}

func jobIDs(recs []*JobRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.JobID
	}
	return out
}
