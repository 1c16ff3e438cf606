package effects

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind is the processing family an effect belongs to.
type Kind string

const (
	KindGain       Kind = "gain"
	KindDistortion Kind = "distortion"
	KindChorus     Kind = "chorus"
	KindDelay      Kind = "delay"
	KindReverb     Kind = "reverb"
)

// Definition maps a pedal name onto a Kind with default parameters.
type Definition struct {
	Name     string             `json:"name"`
	Kind     Kind               `json:"kind"`
	Defaults map[string]float64 `json:"default_params"`
}

// Ordered roughly from mild to heavy within each family.
var catalog = []Definition{
	{Name: "Booster_Preamp", Kind: KindGain, Defaults: map[string]float64{"gain_db": 6}},
	{Name: "Blues Driver", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 10}},
	{Name: "SUPER OverDrive", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 15}},
	{Name: "Distortion", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 30}},
	{Name: "Fuzz", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 33}},
	{Name: "Metal Zone", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 36}},
	{Name: "Heavy Metal", Kind: KindDistortion, Defaults: map[string]float64{"drive_db": 50}},
	{Name: "Chorus", Kind: KindChorus, Defaults: map[string]float64{"rate_hz": 1.0, "depth": 0.25}},
	{Name: "Dimension", Kind: KindChorus, Defaults: map[string]float64{"rate_hz": 0.5, "depth": 0.15}},
	{Name: "Vibrato", Kind: KindChorus, Defaults: map[string]float64{"rate_hz": 0.3, "depth": 0.5, "mix": 1.0}},
	{Name: "Delay", Kind: KindDelay, Defaults: map[string]float64{"delay_seconds": 0.35, "feedback": 0.4}},
	{Name: "Reverb", Kind: KindReverb, Defaults: map[string]float64{"room_size": 0.5}},
}

// paramRange bounds a parameter. Buffer sizes derive from these values, so
// requests outside the range are clamped.
type paramRange struct{ min, max float64 }

var paramRanges = map[string]paramRange{
	"gain_db":         {-60, 60},
	"drive_db":        {-60, 60},
	"delay_seconds":   {0, 10},
	"centre_delay_ms": {0, 100},
	"rate_hz":         {0, 20},
	"depth":           {0, 1},
	"feedback":        {-0.99, 0.99},
	"mix":             {0, 1},
	"room_size":       {0, 1},
	"damping":         {0, 1},
	"wet_level":       {0, 1},
	"dry_level":       {0, 1},
}

func bound(key string, v float64) float64 {
	r, ok := paramRanges[key]
	if !ok {
		return v
	}
	return math.Max(r.min, math.Min(r.max, v))
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(catalog))
	for _, d := range catalog {
		m[d.Name] = d
	}
	return m
}()

// Catalog lists every known effect.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	for i, d := range catalog {
		defaults := make(map[string]float64, len(d.Defaults))
		for k, v := range d.Defaults {
			defaults[k] = v
		}
		out[i] = Definition{Name: d.Name, Kind: d.Kind, Defaults: defaults}
	}
	return out
}

// Lookup finds an effect by its exact name.
func Lookup(name string) (Definition, bool) {
	d, ok := byName[name]
	return d, ok
}

// Spec is one requested effect as it arrives on a job.
type Spec struct {
	Name   string
	Params map[string]interface{}
}

// Step is a resolved Spec: either Recognized or Unrecognized.
type Step interface {
	step()
}

// Recognized is an effect the engine applies, with defaults merged under
// the caller's overrides.
type Recognized struct {
	Definition Definition
	Params     map[string]float64
}

// Unrecognized is an effect name the engine does not know. It is skipped so
// that chains written for newer engines still run here.
type Unrecognized struct {
	Name string
}

func (Recognized) step()   {}
func (Unrecognized) step() {}

// Plan resolves specs in order. Overrides that are not finite numbers are
// dropped and known parameters are clamped to their range.
func Plan(specs []Spec) []Step {
	steps := make([]Step, 0, len(specs))
	for _, s := range specs {
		def, ok := Lookup(s.Name)
		if !ok {
			steps = append(steps, Unrecognized{Name: s.Name})
			continue
		}
		params := make(map[string]float64, len(def.Defaults)+len(s.Params))
		for k, v := range def.Defaults {
			params[k] = v
		}
		for k, v := range s.Params {
			if f, ok := toFloat(v); ok {
				params[k] = bound(k, f)
			}
		}
		steps = append(steps, Recognized{Definition: def, Params: params})
	}
	return steps
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
