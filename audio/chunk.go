package audio

import "time"

// ChunkSize returns the byte size of an audio slice of the given duration.
func ChunkSize(sampleRate int, d time.Duration, bytesPerSample int, channels int) int {
	frames := int(float64(sampleRate) * d.Seconds())
	return frames * bytesPerSample * channels
}

// Chunker regroups arbitrarily sized PCM buffers into fixed-size chunks. It
// is push-based so it can live inside a hardware callback: Push does
// O(len(p)) work against a bounded internal buffer.
type Chunker struct {
	size int
	buf  []byte
}

func NewChunker(size int) *Chunker {
	return &Chunker{
		size: size,
		buf:  make([]byte, 0, size*2),
	}
}

// Push appends p and calls emit once per completed chunk. The slice passed to
// emit is only valid for the duration of the call.
func (c *Chunker) Push(p []byte, emit func(chunk []byte)) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= c.size {
		emit(c.buf[:c.size])
		c.buf = append(c.buf[:0], c.buf[c.size:]...)
	}
}

// Pending returns the number of buffered bytes not yet emitted.
func (c *Chunker) Pending() int {
	return len(c.buf)
}
