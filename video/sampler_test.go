package video

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/codewandler/gemlive-go/events"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed frame until it is switched to an error.
type fakeSource struct {
	mu    sync.Mutex
	frame image.Image
	err   error
}

func (s *fakeSource) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.err
}

func (s *fakeSource) set(frame image.Image, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.err = err
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	return img
}

// collect subscribes to the sampler and returns a channel of emitted chunks.
func collect(s *Sampler) <-chan events.MediaChunk {
	ch := make(chan events.MediaChunk, 64)
	s.OnFrame(func(chunk events.MediaChunk) { ch <- chunk })
	return ch
}

func TestSampler_EmitsDownscaledJPEG(t *testing.T) {
	src := &fakeSource{frame: testFrame(16, 8)}
	s := NewSampler(src, WithInterval(5*time.Millisecond))
	frames := collect(s)

	s.Start()
	defer s.Stop()

	var chunk events.MediaChunk
	select {
	case chunk = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sampled")
	}

	require.Equal(t, FrameMIMEType, chunk.MIMEType)
	require.False(t, chunk.CapturedAt.IsZero())

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 4, img.Bounds().Dx(), "16px wide source scales to 25%")
	require.Equal(t, 2, img.Bounds().Dy())
}

func TestSampler_StartIdempotent(t *testing.T) {
	src := &fakeSource{frame: testFrame(16, 8)}
	s := NewSampler(src, WithInterval(50*time.Millisecond))
	frames := collect(s)

	s.Start()
	s.Start()
	defer s.Stop()

	// A doubled loop would emit at twice the cadence.
	deadline := time.After(175 * time.Millisecond)
	var n int
loop:
	for {
		select {
		case <-frames:
			n++
		case <-deadline:
			break loop
		}
	}
	require.LessOrEqual(t, n, 4)
}

func TestSampler_SkipsZeroDimensionFrames(t *testing.T) {
	// 2x2 scales to 0x0: the sampler must skip it but keep running.
	src := &fakeSource{frame: testFrame(2, 2)}
	s := NewSampler(src, WithInterval(5*time.Millisecond))
	frames := collect(s)

	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, frames)
	require.True(t, s.Running())

	// Once the source delivers a real frame, sampling resumes.
	src.set(testFrame(16, 8), nil)
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not recover after zero-dimension frames")
	}
}

func TestSampler_StopsWhenSourceEnds(t *testing.T) {
	src := &fakeSource{frame: testFrame(16, 8)}
	s := NewSampler(src, WithInterval(5*time.Millisecond))

	s.Start()
	require.True(t, s.Running())

	src.set(nil, io.EOF)
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)
}

func TestSampler_StopsWhenGateCloses(t *testing.T) {
	var mu sync.Mutex
	open := true

	src := &fakeSource{frame: testFrame(16, 8)}
	s := NewSampler(src,
		WithInterval(5*time.Millisecond),
		WithGate(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return open
		}),
	)
	frames := collect(s)

	s.Start()
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sampled while gate open")
	}

	mu.Lock()
	open = false
	mu.Unlock()
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)
}

func TestSampler_StopIdempotent(t *testing.T) {
	s := NewSampler(&fakeSource{frame: testFrame(16, 8)}, WithInterval(time.Hour))
	s.Start()
	s.Stop()
	s.Stop()
	require.False(t, s.Running())
}
