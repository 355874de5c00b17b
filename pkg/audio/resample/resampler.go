// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Streams interleaved int32 samples between rates using linear interpolation
package resample

import "math"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	// position of the next output frame, in input frames relative to the
	// start of the next chunk. -1 addresses lastFrame.
	position  float64
	lastFrame []int32
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int32, channels),
	}
}

// Passthrough reports whether input and output rates match.
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// Resample appends the resampled form of input to dst and returns it.
// input and output are interleaved.
func (r *Resampler) Resample(dst, input []int32) []int32 {
	frames := len(input) / r.channels
	if frames == 0 {
		return dst
	}
	if r.Passthrough() {
		return append(dst, input[:frames*r.channels]...)
	}

	at := func(frame, ch int) float64 {
		if frame < 0 {
			return float64(r.lastFrame[ch])
		}
		return float64(input[frame*r.channels+ch])
	}

	for {
		idx := int(math.Floor(r.position))
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s := at(idx, ch)*(1.0-frac) + at(idx+1, ch)*frac
			dst = append(dst, int32(s))
		}
		r.position += r.ratio
	}

	copy(r.lastFrame, input[(frames-1)*r.channels:frames*r.channels])
	r.position -= float64(frames)
	return dst
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded estimates how many output samples input samples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(math.Ceil(float64(inputFrames) / r.ratio))
	return outputFrames * r.channels
}
