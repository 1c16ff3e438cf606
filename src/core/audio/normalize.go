package audio

import "math"

// DisplayPeak is the peak level of the normalised copies shown to users.
const DisplayPeak = 0.7

// NormalizePeak returns a copy of buf scaled so its largest absolute sample
// equals target. Silent buffers are returned unchanged.
func NormalizePeak(buf *Buffer, target float64) *Buffer {
	out := buf.Clone()
	peak := 0.0
	for _, ch := range out.Channels {
		for _, s := range ch {
			peak = math.Max(peak, math.Abs(s))
		}
	}
	if peak == 0 {
		return out
	}

	gain := target / peak
	for _, ch := range out.Channels {
		for i := range ch {
			ch[i] *= gain
		}
	}
	return out
}
