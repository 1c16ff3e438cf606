package job

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultRetention is how long a record lives before the store purges it.
const DefaultRetention = 7 * 24 * time.Hour

// allowedFrom lists, for every target status, the statuses a record may be
// in for the transition to apply.
var allowedFrom = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusPending},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusProcessing},
}

// Valid reports whether s is one of the four known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether from -> to is a forward edge of the state
// machine. Same-status pairs are not edges.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// sourcesOf returns the statuses from which to is reachable, as strings for
// use in store queries.
func sourcesOf(to JobStatus) []string {
	from := allowedFrom[to]
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}

// Instruction is one named effect with its parameter overrides. The list on a
// job is passed verbatim to the effect engine.
type Instruction struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// JobRecord is the persisted state of one re-synthesis job.
type JobRecord struct {
	JobID            string        `json:"job_id"`
	Status           JobStatus     `json:"status"`
	InputKey         string        `json:"input_key"`
	OutputKey        *string       `json:"output_key"`
	EffectChain      []Instruction `json:"effect_chain"`
	OriginalFilename *string       `json:"original_filename"`
	KeyScheme        int           `json:"key_scheme,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at"`
	ErrorMessage     *string       `json:"error_message"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// NewJobID returns a fresh 32 character hex identifier.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRecord builds a pending record created at now and expiring after
// retention.
func NewRecord(now time.Time, retention time.Duration, inputKey string, chain []Instruction, originalFilename *string) *JobRecord {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if chain == nil {
		chain = []Instruction{}
	}
	now = now.UTC()
	return &JobRecord{
		JobID:            NewJobID(),
		Status:           JobStatusPending,
		InputKey:         inputKey,
		EffectChain:      chain,
		OriginalFilename: originalFilename,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(retention),
	}
}

// Expired reports whether the record is past its retention window at now.
func (r *JobRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TransitionFields carries the values written alongside a status change.
type TransitionFields struct {
	OutputKey    string
	ErrorMessage string
	KeyScheme    int
}

// valid checks the output/error pairing required by the target status.
func (f TransitionFields) valid(to JobStatus) bool {
	switch to {
	case JobStatusCompleted:
		return f.OutputKey != "" && f.ErrorMessage == ""
	case JobStatusFailed:
		return f.ErrorMessage != "" && f.OutputKey == ""
	case JobStatusProcessing:
		return f.OutputKey == "" && f.ErrorMessage == ""
	}
	return false
}

// apply writes the transition onto r in place.
func (f TransitionFields) apply(r *JobRecord, to JobStatus, now time.Time) {
	r.Status = to
	r.UpdatedAt = now
	switch to {
	case JobStatusCompleted:
		out := f.OutputKey
		r.OutputKey = &out
		r.KeyScheme = f.KeyScheme
		completed := now
		r.CompletedAt = &completed
	case JobStatusFailed:
		msg := f.ErrorMessage
		r.ErrorMessage = &msg
	}
}

// Message is the queue payload handed from the submitter to a worker.
type Message struct {
	JobID            string        `json:"job_id"`
	InputKey         string        `json:"input_key"`
	EffectChain      []Instruction `json:"effect_chain"`
	OriginalFilename *string       `json:"original_filename"`
}

// MessageFor copies the creation-time fields of r into a queue message.
func MessageFor(r *JobRecord) Message {
	return Message{
		JobID:            r.JobID,
		InputKey:         r.InputKey,
		EffectChain:      r.EffectChain,
		OriginalFilename: r.OriginalFilename,
	}
}

// DecodeMessage parses a queue payload.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Store defines the interface for job persistence. Implementations keep the
// primary record and the status index consistent within every call.
type Store interface {
	Create(ctx context.Context, rec *JobRecord) (*JobRecord, error)
	Get(ctx context.Context, id string) (*JobRecord, bool, error)
	BatchGet(ctx context.Context, ids []string) ([]*JobRecord, error)
	// Transition returns true only when the record is confirmed to be in
	// status to. false means the state is unknown to the caller.
	Transition(ctx context.Context, id string, to JobStatus, fields TransitionFields) bool
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error)
}
