package effects

import "math"

func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func gain(x []float64, db float64) []float64 {
	g := dbToGain(db)
	for i := range x {
		x[i] *= g
	}
	return x
}

// distortion is a tanh waveshaper driven by drive_db.
func distortion(x []float64, driveDB float64) []float64 {
	g := dbToGain(driveDB)
	for i := range x {
		x[i] = math.Tanh(g * x[i])
	}
	return x
}

// delay is a feedback delay line mixed with the dry signal.
func delay(x []float64, sampleRate int, seconds, feedback, mix float64) []float64 {
	n := int(math.Round(seconds * float64(sampleRate)))
	if n < 1 {
		n = 1
	}
	feedback = clamp(feedback, 0, 0.99)
	mix = clamp(mix, 0, 1)

	line := make([]float64, n)
	pos := 0
	for i, in := range x {
		delayed := line[pos]
		line[pos] = in + feedback*delayed
		pos = (pos + 1) % n
		x[i] = in*(1-mix) + delayed*mix
	}
	return x
}

// chorus reads a delay line whose length is swept by a sine LFO around
// centreMS.
func chorus(x []float64, sampleRate int, rateHz, depth, centreMS, feedback, mix float64) []float64 {
	sr := float64(sampleRate)
	centre := centreMS / 1000 * sr
	depth = clamp(depth, 0, 1)
	feedback = clamp(feedback, -0.99, 0.99)
	mix = clamp(mix, 0, 1)

	written := make([]float64, len(x))
	for i, in := range x {
		d := centre * (1 + depth*math.Sin(2*math.Pi*rateHz*float64(i)/sr))
		wet := interpolate(written, float64(i)-d)
		written[i] = in + feedback*wet
		x[i] = in*(1-mix) + wet*mix
	}
	return x
}

func interpolate(buf []float64, pos float64) float64 {
	if pos < 0 {
		return 0
	}
	i := int(pos)
	frac := pos - float64(i)
	if i+1 >= len(buf) {
		if i < len(buf) {
			return buf[i]
		}
		return 0
	}
	return buf[i]*(1-frac) + buf[i+1]*frac
}

// Freeverb tunings at 44.1 kHz.
var (
	combTunings    = []int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
	allpassTunings = []int{556, 441, 341, 225}
)

// reverb is a mono Schroeder/Freeverb network of parallel damped combs into
// serial allpasses.
func reverb(x []float64, sampleRate int, roomSize, damping, wetLevel, dryLevel float64) []float64 {
	scale := float64(sampleRate) / 44100
	size := func(t int) int {
		n := int(float64(t) * scale)
		if n < 1 {
			n = 1
		}
		return n
	}

	feedback := 0.7 + 0.28*clamp(roomSize, 0, 1)
	damp := 0.4 * clamp(damping, 0, 1)
	wet := 3 * clamp(wetLevel, 0, 1)
	dry := 2 * clamp(dryLevel, 0, 1)

	combs := make([][]float64, len(combTunings))
	combPos := make([]int, len(combTunings))
	filters := make([]float64, len(combTunings))
	for i, t := range combTunings {
		combs[i] = make([]float64, size(t))
	}
	allpasses := make([][]float64, len(allpassTunings))
	allpassPos := make([]int, len(allpassTunings))
	for i, t := range allpassTunings {
		allpasses[i] = make([]float64, size(t))
	}

	for n, in := range x {
		input := in * 0.015
		out := 0.0
		for i, buf := range combs {
			y := buf[combPos[i]]
			filters[i] = y*(1-damp) + filters[i]*damp
			buf[combPos[i]] = input + filters[i]*feedback
			combPos[i] = (combPos[i] + 1) % len(buf)
			out += y
		}
		for i, buf := range allpasses {
			b := buf[allpassPos[i]]
			buf[allpassPos[i]] = out + b*0.5
			allpassPos[i] = (allpassPos[i] + 1) % len(buf)
			out = b - out
		}
		x[n] = in*dry + out*wet
	}
	return x
}
