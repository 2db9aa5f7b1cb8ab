package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	sampleRate   = 44100
	channelCount = 2

	// Short fade at both ends of every beep so the speaker does not click.
	rampDuration = 5 * time.Millisecond

	amplitude = 0.6
)

type toneStep struct {
	freq float64
	d    time.Duration
}

// lowPattern is the descending three-tone wail announcing low glucose.
func lowPattern() []byte {
	return synthesize([]toneStep{
		{freq: 880, d: 250 * time.Millisecond},
		{freq: 0, d: 80 * time.Millisecond},
		{freq: 660, d: 250 * time.Millisecond},
		{freq: 0, d: 80 * time.Millisecond},
		{freq: 440, d: 400 * time.Millisecond},
	})
}

// highPattern is the ascending counterpart for high glucose.
func highPattern() []byte {
	return synthesize([]toneStep{
		{freq: 440, d: 250 * time.Millisecond},
		{freq: 0, d: 80 * time.Millisecond},
		{freq: 660, d: 250 * time.Millisecond},
		{freq: 0, d: 80 * time.Millisecond},
		{freq: 880, d: 400 * time.Millisecond},
	})
}

// synthesize renders the steps as interleaved stereo 16-bit little-endian PCM.
// A zero frequency step is silence.
func synthesize(steps []toneStep) []byte {
	var out []byte
	for _, step := range steps {
		out = append(out, renderStep(step)...)
	}
	return out
}

func renderStep(step toneStep) []byte {
	samples := int(float64(sampleRate) * step.d.Seconds())
	ramp := int(float64(sampleRate) * rampDuration.Seconds())
	out := make([]byte, 0, samples*channelCount*2)

	buf := make([]byte, 2)
	for i := 0; i < samples; i++ {
		var value int16
		if step.freq > 0 {
			v := amplitude * math.Sin(2*math.Pi*step.freq*float64(i)/sampleRate)
			v *= envelope(i, samples, ramp)
			value = int16(v * math.MaxInt16)
		}
		binary.LittleEndian.PutUint16(buf, uint16(value))
		for ch := 0; ch < channelCount; ch++ {
			out = append(out, buf...)
		}
	}
	return out
}

func envelope(i, total, ramp int) float64 {
	if ramp <= 0 {
		return 1
	}
	if i < ramp {
		return float64(i) / float64(ramp)
	}
	if remaining := total - i; remaining < ramp {
		return float64(remaining) / float64(ramp)
	}
	return 1
}

// silence renders a stereo gap of the given length.
func silence(d time.Duration) []byte {
	samples := int(float64(sampleRate) * d.Seconds())
	return make([]byte, samples*channelCount*2)
}

// repeatPattern strings together n copies of the cycle separated by gaps. The
// result is what a single alert trigger plays end to end.
func repeatPattern(cycle []byte, n int, gap time.Duration) []byte {
	if n <= 1 {
		return cycle
	}
	gapPCM := silence(gap)
	out := make([]byte, 0, n*len(cycle)+(n-1)*len(gapPCM))
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, gapPCM...)
		}
		out = append(out, cycle...)
	}
	return out
}
