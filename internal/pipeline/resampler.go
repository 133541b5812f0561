package pipeline

// Resampler performs linear-interpolation sample-rate conversion,
// adapted from the teacher's pkg/audio/resample/resampler.go (itself
// stateful across calls via a fractional position and the last input
// sample, needed here because the Sample Converter pumps audio through it
// in small batches rather than all at once).
type Resampler struct {
	inputRate, outputRate, channels int
	ratio                           float64
	position                        float64
	lastSample                      []int32
}

// NewResampler constructs a resampler converting from inputRate to
// outputRate for the given channel count.
func NewResampler(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]int32, channels),
	}
}

// Resample consumes from input and writes interpolated samples into
// output, returning the number of input samples consumed. The resampler
// may consume fewer input samples than provided; the Sample Converter is
// responsible for carrying the remainder to the next call.
func (r *Resampler) Resample(input, output []int32) (consumed, produced int) {
	ch := r.channels
	inFrames := len(input) / ch
	outFrames := len(output) / ch

	for produced < outFrames {
		idx := int(r.position)
		if idx >= inFrames-1 {
			break
		}
		frac := r.position - float64(idx)
		for c := 0; c < ch; c++ {
			a := float64(input[idx*ch+c])
			b := float64(input[(idx+1)*ch+c])
			output[produced*ch+c] = int32(a + (b-a)*frac)
		}
		produced++
		r.position += r.ratio
	}

	consumed = int(r.position)
	if consumed > inFrames {
		consumed = inFrames
	}
	r.position -= float64(consumed)
	if consumed > 0 {
		for c := 0; c < ch; c++ {
			r.lastSample[c] = input[(consumed-1)*ch+c]
		}
	}
	return consumed * ch, produced * ch
}

// Reset clears resampler state, used whenever the Sample Converter drops
// resampler state on a source-format change (§4.4.3 step 1).
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}
