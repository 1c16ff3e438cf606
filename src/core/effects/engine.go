package effects

import (
	"github.com/go-logr/logr"

	"resynth/src/infrastructure/log"
)

// Engine applies effect chains. It is stateless and safe for concurrent use.
type Engine struct {
	logger logr.Logger
}

func NewEngine() *Engine {
	return &Engine{logger: log.WithName("effects")}
}

// Apply runs chain over a copy of channels and returns the result, which has
// the same number of channels and frames as the input. Unrecognized effects
// are skipped.
func (e *Engine) Apply(channels [][]float64, sampleRate int, chain []Spec) [][]float64 {
	out := make([][]float64, len(channels))
	for i, ch := range channels {
		out[i] = append([]float64(nil), ch...)
	}

	for _, step := range Plan(chain) {
		switch s := step.(type) {
		case Recognized:
			for i := range out {
				out[i] = process(s, out[i], sampleRate)
			}
		case Unrecognized:
			e.logger.V(1).Info("Skipping unknown effect", "name", s.Name)
		}
	}
	return out
}

func process(s Recognized, x []float64, sampleRate int) []float64 {
	p := s.Params
	switch s.Definition.Kind {
	case KindGain:
		return gain(x, p["gain_db"])
	case KindDistortion:
		return distortion(x, p["drive_db"])
	case KindDelay:
		return delay(x, sampleRate, p["delay_seconds"], p["feedback"], param(p, "mix", 0.5))
	case KindChorus:
		return chorus(x, sampleRate, p["rate_hz"], p["depth"], param(p, "centre_delay_ms", 7), param(p, "feedback", 0), param(p, "mix", 0.5))
	case KindReverb:
		return reverb(x, sampleRate, p["room_size"], param(p, "damping", 0.5), param(p, "wet_level", 0.33), param(p, "dry_level", 0.4))
	}
	return x
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
