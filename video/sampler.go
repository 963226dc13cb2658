// Package video implements the throttled frame sampler: a live video source
// is rendered at full rate by its owner, but only sampled to the network at a
// fixed low cadence, downscaled and JPEG-encoded.
package video

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/gemlive-go/events"
	"github.com/codewandler/gemlive-go/internal/emitter"
	"golang.org/x/image/draw"
)

const (
	// DefaultInterval is one frame every 2 seconds (0.5 Hz), independent of
	// the source's native frame rate.
	DefaultInterval = 2 * time.Second

	// DefaultScale downscales to 25% of the source's linear dimensions.
	DefaultScale = 0.25

	FrameMIMEType = "image/jpeg"
)

// Source delivers the most recent frame of a live video/screen capture.
// It returns io.EOF once the source has ended.
type Source interface {
	Frame() (image.Image, error)
}

// Sampler emits throttled, downscaled JPEG chunks from a Source.
type Sampler struct {
	logger   *slog.Logger
	source   Source
	interval time.Duration
	scale    float64
	gate     func() bool

	mu   sync.Mutex
	stop chan struct{}

	frameEv emitter.Emitter[events.MediaChunk]
}

type SamplerOption func(*Sampler)

func WithSamplerLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		s.interval = d
	}
}

func WithScale(scale float64) SamplerOption {
	return func(s *Sampler) {
		s.scale = scale
	}
}

// WithGate makes the sampler stop itself as soon as the predicate reports
// false; callers wire this to the owning connection's Connected state.
func WithGate(gate func() bool) SamplerOption {
	return func(s *Sampler) {
		s.gate = gate
	}
}

func NewSampler(source Source, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		logger:   slog.New(slog.DiscardHandler),
		source:   source,
		interval: DefaultInterval,
		scale:    DefaultScale,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnFrame fires once per sampled frame with a base64 JPEG chunk.
func (s *Sampler) OnFrame(fn func(chunk events.MediaChunk)) func() {
	return s.frameEv.Subscribe(fn)
}

func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Start begins sampling. Calling it while already running is a no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	go s.loop(stop)
}

// Stop ends sampling. Idempotent.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

func (s *Sampler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.sample() {
				s.Stop()
				return
			}
		}
	}
}

// sample grabs, scales and emits one frame. It returns false when sampling
// must end (source gone or gate closed).
func (s *Sampler) sample() bool {
	if s.gate != nil && !s.gate() {
		s.logger.Debug("sampling gate closed")
		return false
	}

	img, err := s.source.Frame()
	if err == io.EOF {
		s.logger.Debug("source ended")
		return false
	}
	if err != nil {
		s.logger.Error("frame grab failed", slog.Any("err", err))
		return true
	}
	if img == nil {
		return true
	}

	bounds := img.Bounds()
	w := int(float64(bounds.Dx()) * s.scale)
	h := int(float64(bounds.Dy()) * s.scale)
	// A source that has not produced a real frame yet scales to nothing.
	if w == 0 || h == 0 {
		return true
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 100}); err != nil {
		s.logger.Error("jpeg encode failed", slog.Any("err", err))
		return true
	}

	s.frameEv.Emit(events.MediaChunk{
		MIMEType:   FrameMIMEType,
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		CapturedAt: time.Now(),
	})
	return true
}
