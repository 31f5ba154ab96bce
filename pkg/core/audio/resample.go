package audio

import (
	"fmt"
	"math"
)

// Resampler retimes a continuous stream of linear samples from one rate
// to another using linear interpolation. It carries the previous input
// sample and the fractional read position across calls so that chained
// frame-by-frame resampling never introduces a discontinuity at frame
// boundaries. One Resampler per direction per call; not safe for
// concurrent use.
type Resampler struct {
	from, to int
	step     float64

	primed bool
	last   int16
	pos    float64
}

// NewResampler returns a resampler from sourceRate to targetRate Hz.
func NewResampler(sourceRate, targetRate int) (*Resampler, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d to=%d", sourceRate, targetRate)
	}
	return &Resampler{
		from: sourceRate,
		to:   targetRate,
		step: float64(sourceRate) / float64(targetRate),
	}, nil
}

// Process resamples one frame, carrying the tail into the next call.
// Edge samples are preserved exactly: an output position that lands on
// an input sample emits that sample unmodified.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if r.from == r.to {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	var src []int16
	if r.primed {
		src = make([]int16, 0, len(in)+1)
		src = append(src, r.last)
		src = append(src, in...)
	} else {
		src = in
		r.primed = true
		r.pos = 0
	}

	out := make([]int16, 0, len(in)*r.to/r.from+1)
	pos := r.pos
	limit := float64(len(src) - 1)
	for pos < limit {
		i := int(pos)
		frac := pos - float64(i)
		if frac == 0 {
			out = append(out, src[i])
		} else {
			v := float64(src[i]) + (float64(src[i+1])-float64(src[i]))*frac
			out = append(out, int16(math.Round(v)))
		}
		pos += r.step
	}

	// The final input sample becomes the carried tail; an output
	// position landing exactly on it is emitted on the next call.
	r.last = src[len(src)-1]
	r.pos = pos - limit
	return out
}

// Reset clears the carried tail, e.g. after a gap in the stream.
func (r *Resampler) Reset() {
	r.primed = false
	r.pos = 0
	r.last = 0
}

// ResamplePCM16 is the stateless one-shot form over PCM16 bytes.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	rs, err := NewResampler(fromRate, toRate)
	if err != nil {
		return nil, err
	}
	samples, err := SamplesFromPCM16(input)
	if err != nil {
		return nil, err
	}
	out := rs.Process(samples)
	// Flush the carried tail so the one-shot form keeps the last edge.
	if rs.primed && rs.pos == 0 {
		out = append(out, rs.last)
	}
	return PCM16FromSamples(out), nil
}
