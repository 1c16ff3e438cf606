package jobctrl

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"resynth/src/core/artifact"
	"resynth/src/core/audio"
	"resynth/src/core/effects"
	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
)

const wavContentType = "audio/wav"

// BlobStore is the object storage the task reads inputs from and writes
// artifacts to.
type BlobStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, data []byte, key, contentType string) error
}

// EffectEngine applies an effect chain to de-interleaved samples.
type EffectEngine interface {
	Apply(channels [][]float64, sampleRate int, chain []effects.Spec) [][]float64
}

// ResynthesisTask turns one job message into a processed output file plus
// peak-normalized copies of the input and output for comparison.
type ResynthesisTask struct {
	blobs  BlobStore
	engine EffectEngine
	layout artifact.Layout
	newID  func() string
	logger logr.Logger
}

func NewResynthesisTask(blobs BlobStore, engine EffectEngine, layout artifact.Layout) *ResynthesisTask {
	return &ResynthesisTask{
		blobs:  blobs,
		engine: engine,
		layout: layout,
		newID:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		logger: log.WithName("resynthesis"),
	}
}

func (t *ResynthesisTask) Process(ctx context.Context, msg job.Message) (job.Result, error) {
	logger := t.logger.WithValues("job_id", msg.JobID)

	data, err := t.blobs.Download(ctx, msg.InputKey)
	if err != nil {
		return job.Result{}, fmt.Errorf("failed to download input: %w", err)
	}

	input, err := audio.DecodeWAV(data)
	if err != nil {
		return job.Result{}, fmt.Errorf("failed to decode input: %w", err)
	}
	logger.V(1).Info("Input decoded", "sample_rate", input.SampleRate, "channels", len(input.Channels), "frames", input.Frames())

	output := &audio.Buffer{
		SampleRate: input.SampleRate,
		BitDepth:   input.BitDepth,
		Channels:   t.engine.Apply(input.Channels, input.SampleRate, toSpecs(msg.EffectChain)),
	}

	keys := t.layout.KeysFor(t.newID())
	uploads := []struct {
		key string
		buf *audio.Buffer
	}{
		{keys.Output, output},
		{keys.NormalizedInput, audio.NormalizePeak(input, audio.DisplayPeak)},
		{keys.NormalizedOutput, audio.NormalizePeak(output, audio.DisplayPeak)},
	}
	for _, u := range uploads {
		encoded, err := audio.EncodeWAV(u.buf)
		if err != nil {
			return job.Result{}, fmt.Errorf("failed to encode %s: %w", u.key, err)
		}
		if err := t.blobs.Upload(ctx, encoded, u.key, wavContentType); err != nil {
			return job.Result{}, fmt.Errorf("failed to upload %s: %w", u.key, err)
		}
	}

	logger.Info("Artifacts uploaded", "output_key", keys.Output)
	return job.Result{OutputKey: keys.Output, KeyScheme: artifact.CurrentKeyScheme}, nil
}

func toSpecs(chain []job.Instruction) []effects.Spec {
	specs := make([]effects.Spec, len(chain))
	for i, in := range chain {
		specs[i] = effects.Spec{Name: in.Name, Params: in.Params}
	}
	return specs
}
