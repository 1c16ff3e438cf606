package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	v1 "resynth/handler/http/v1"
	"resynth/src/core/artifact"
	"resynth/src/infrastructure/job"
)

type fakeJobs struct {
	records   map[string]*job.JobRecord
	submitErr error
	submitted []job.SubmitRequest
	batchIDs  []string
}

func (f *fakeJobs) Submit(_ context.Context, req job.SubmitRequest) (*job.JobRecord, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return job.NewRecord(time.Now(), 0, req.InputKey, req.EffectChain, req.OriginalFilename), nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*job.JobRecord, bool, error) {
	rec, ok := f.records[id]
	return rec, ok, nil
}

func (f *fakeJobs) BatchGet(_ context.Context, ids []string) ([]*job.JobRecord, error) {
	f.batchIDs = ids
	out := []*job.JobRecord{}
	for _, id := range ids {
		if rec, ok := f.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeJobs) ListByStatus(_ context.Context, status job.JobStatus, limit int) ([]*job.JobRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", job.ErrInvalidRequest, status)
	}
	out := []*job.JobRecord{}
	for _, rec := range f.records {
		if rec.Status == status && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeDeriver struct{}

func (fakeDeriver) Derive(_ context.Context, rec *job.JobRecord) (artifact.AccessURLs, error) {
	if rec.Status != job.JobStatusCompleted {
		return artifact.AccessURLs{}, nil
	}
	u := "https://blobs.example/" + *rec.OutputKey
	return artifact.AccessURLs{Download: &u}, nil
}

type fakeUploads struct{ err error }

func (f fakeUploads) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://blobs.example/" + key + "?put", nil
}

func setup(jobs *fakeJobs) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1.NewHandler(jobs, fakeDeriver{}, fakeUploads{}, v1.Config{InputPrefix: "input/"}).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func completed(id string) *job.JobRecord {
	rec := job.NewRecord(time.Now(), 0, "input/a.wav", nil, nil)
	rec.JobID = id
	rec.Status = job.JobStatusCompleted
	out := "output/" + id + ".wav"
	rec.OutputKey = &out
	return rec
}

func TestSubmitJob(t *testing.T) {
	jobs := &fakeJobs{}
	r := setup(jobs)

	w := do(r, http.MethodPost, "/api/jobs", map[string]interface{}{
		"s3_key":            "input/a.wav",
		"effect_chain":      []map[string]interface{}{{"name": "Fuzz", "params": map[string]interface{}{"drive_db": 20}}},
		"original_filename": "a.wav",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body)
	}
	var resp v1.SubmitJobResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.JobID == "" || resp.Status != job.JobStatusPending {
		t.Errorf("response = %+v", resp)
	}
	if len(jobs.submitted) != 1 || jobs.submitted[0].InputKey != "input/a.wav" || jobs.submitted[0].EffectChain[0].Name != "Fuzz" {
		t.Errorf("submitted = %+v", jobs.submitted)
	}
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"missing key", nil, map[string]interface{}{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid request", fmt.Errorf("%w: bad", job.ErrInvalidRequest), map[string]string{"s3_key": "k"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"queue down", fmt.Errorf("failed to queue job x: %w", job.ErrQueueUnavailable), map[string]string{"s3_key": "k"}, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"},
		{"store down", fmt.Errorf("%w: boom", job.ErrStoreUnavailable), map[string]string{"s3_key": "k"}, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"conflict", job.ErrDuplicateKey, map[string]string{"s3_key": "k"}, http.StatusConflict, "CONFLICT"},
		{"unexpected", errors.New("boom"), map[string]string{"s3_key": "k"}, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(setup(&fakeJobs{submitErr: tt.err}), http.MethodPost, "/api/jobs", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp v1.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Code != tt.wantErr || resp.Message == "" {
				t.Errorf("error body = %+v, want code %s", resp, tt.wantErr)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	jobs := &fakeJobs{records: map[string]*job.JobRecord{"done": completed("done")}}
	r := setup(jobs)

	w := do(r, http.MethodGet, "/api/jobs/done", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["job_id"] != "done" || body["status"] != "completed" {
		t.Errorf("body = %v", body)
	}
	if body["download_url"] != "https://blobs.example/output/done.wav" {
		t.Errorf("download_url = %v", body["download_url"])
	}

	w = do(r, http.MethodGet, "/api/jobs/missing", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "NOT_FOUND") {
		t.Errorf("missing job: status %d body %s", w.Code, w.Body)
	}
}

func TestBatchGetJobs(t *testing.T) {
	jobs := &fakeJobs{records: map[string]*job.JobRecord{"a": completed("a"), "b": completed("b")}}
	r := setup(jobs)

	w := do(r, http.MethodPost, "/api/jobs/batch", map[string]interface{}{"job_ids": []string{"a", "b", "c"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Jobs []map[string]interface{} `json:"jobs"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Jobs) != 2 {
		t.Errorf("returned %d jobs, want 2", len(body.Jobs))
	}

	w = do(r, http.MethodPost, "/api/jobs/batch", map[string]interface{}{"job_ids": []string{}})
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"jobs":[]}` {
		t.Errorf("empty batch: status %d body %s", w.Code, w.Body)
	}
}

func TestListJobs(t *testing.T) {
	jobs := &fakeJobs{records: map[string]*job.JobRecord{"a": completed("a")}}
	r := setup(jobs)

	w := do(r, http.MethodGet, "/api/jobs?status=completed&limit=5", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"job_id":"a"`) {
		t.Errorf("list: status %d body %s", w.Code, w.Body)
	}

	for _, path := range []string{"/api/jobs?status=done", "/api/jobs?status=completed&limit=zero"} {
		if w := do(r, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, w.Code)
		}
	}
}

func TestCreateUploadURL(t *testing.T) {
	r := setup(&fakeJobs{})

	w := do(r, http.MethodPost, "/api/upload-url", map[string]string{"filename": "Take.WAV", "content_type": "audio/wav"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp v1.UploadURLResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.S3Key, "input/") || !strings.HasSuffix(resp.S3Key, ".wav") {
		t.Errorf("s3_key = %q", resp.S3Key)
	}
	if !strings.Contains(resp.UploadURL, resp.S3Key) {
		t.Errorf("upload_url %q does not point at %q", resp.UploadURL, resp.S3Key)
	}

	if w := do(r, http.MethodPost, "/api/upload-url", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing filename status = %d, want 400", w.Code)
	}
}

func TestSystemRoutes(t *testing.T) {
	r := setup(&fakeJobs{})

	if w := do(r, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health: status %d body %s", w.Code, w.Body)
	}

	w := do(r, http.MethodGet, "/api/effects", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"Blues Driver"`) {
		t.Errorf("effects: status %d body %s", w.Code, w.Body)
	}
}
