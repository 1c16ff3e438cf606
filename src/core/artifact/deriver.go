package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
)

const DefaultExpiry = time.Hour

// Presigner issues time-limited GET URLs. disposition may be empty.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration, disposition string) (string, error)
}

// AccessURLs are the download links for a completed job. Absent links are
// nil.
type AccessURLs struct {
	Download         *string `json:"download_url"`
	NormalizedInput  *string `json:"normalized_input_url"`
	NormalizedOutput *string `json:"normalized_output_url"`
}

type Deriver struct {
	presigner Presigner
	expiry    time.Duration
	logger    logr.Logger
}

func NewDeriver(presigner Presigner, expiry time.Duration) *Deriver {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Deriver{
		presigner: presigner,
		expiry:    expiry,
		logger:    log.WithName("artifact"),
	}
}

// Derive returns URLs for a completed record. Other statuses get no URLs and
// no error. The normalized copies are optional: if presigning one fails its
// URL is left out.
func (d *Deriver) Derive(ctx context.Context, rec *job.JobRecord) (AccessURLs, error) {
	if rec == nil || rec.Status != job.JobStatusCompleted || rec.OutputKey == nil {
		return AccessURLs{}, nil
	}

	keys, err := Resolve(*rec.OutputKey, rec.KeyScheme)
	if err != nil {
		return AccessURLs{}, fmt.Errorf("job %s: %w", rec.JobID, err)
	}

	disposition := ContentDisposition(DownloadFilename(rec.OriginalFilename, rec.JobID))
	download, err := d.presigner.PresignGet(ctx, keys.Output, d.expiry, disposition)
	if err != nil {
		return AccessURLs{}, fmt.Errorf("failed to presign output for job %s: %w", rec.JobID, err)
	}

	urls := AccessURLs{Download: &download}
	urls.NormalizedInput = d.optional(ctx, rec.JobID, keys.NormalizedInput)
	urls.NormalizedOutput = d.optional(ctx, rec.JobID, keys.NormalizedOutput)
	return urls, nil
}

func (d *Deriver) optional(ctx context.Context, jobID, key string) *string {
	u, err := d.presigner.PresignGet(ctx, key, d.expiry, "")
	if err != nil {
		d.logger.Error(err, "Failed to presign normalized copy", "job_id", jobID, "key", key)
		return nil
	}
	return &u
}
