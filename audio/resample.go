package audio

import "github.com/faiface/beep"

// monoStreamer feeds one 16-bit LE mono PCM buffer to beep. beep streams
// stereo frames, so the mono sample is mirrored onto both channels and only
// channel 0 is read back out.
type monoStreamer struct {
	pcm []byte
	pos int
}

func (s *monoStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos+bytesPerSample > len(s.pcm) {
			return i, i > 0
		}
		v := float64(int16(uint16(s.pcm[s.pos])|uint16(s.pcm[s.pos+1])<<8)) / 32768.0
		samples[i][0] = v
		samples[i][1] = v
		s.pos += bytesPerSample
	}
	return len(samples), true
}

func (s *monoStreamer) Err() error { return nil }

// Resampler converts 16-bit LE mono PCM between two fixed rates. Its scratch
// buffers are reused across calls so it can run inside the hardware callback
// domain. Not safe for concurrent use.
type Resampler struct {
	from, to beep.SampleRate
	src      monoStreamer
	frames   [][2]float64
	out      []byte
}

func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{
		from:   beep.SampleRate(fromRate),
		to:     beep.SampleRate(toRate),
		frames: make([][2]float64, 512),
	}
}

// Resample converts one buffer. The returned slice is only valid until the
// next call.
func (r *Resampler) Resample(pcm []byte) []byte {
	r.src.pcm = pcm
	r.src.pos = 0
	resampler := beep.Resample(3, r.from, r.to, &r.src)

	r.out = r.out[:0]
	for {
		n, ok := resampler.Stream(r.frames)
		for i := 0; i < n; i++ {
			v := r.frames[i][0]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			s := int16(v * 32767)
			r.out = append(r.out, byte(uint16(s)), byte(uint16(s)>>8))
		}
		if !ok {
			return r.out
		}
	}
}
