// Package audio implements the microphone capture and playback engines of
// the realtime pipeline. Capture runs in the hardware callback domain and
// must never block on the main loop; playback is fed from the network
// goroutine and drained by the audio device.
package audio

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/codewandler/gemlive-go/events"
	"github.com/codewandler/gemlive-go/internal/emitter"
)

const (
	// CaptureSampleRate is the wire format of outbound audio: 16-bit mono PCM.
	CaptureSampleRate = 16_000
	CaptureMIMEType   = "audio/pcm;rate=16000"

	bytesPerSample = 2
)

// DeviceError means the microphone (or another capture device) is unavailable
// or permission was denied. The engine remains stopped after it.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Device is a running capture device handle.
type Device interface {
	Stop() error
}

// Opener acquires the microphone and starts delivering 16-bit little-endian
// mono PCM buffers at sampleRate to onFrames. onFrames is invoked from the
// hardware callback domain.
type Opener func(sampleRate int, onFrames func(pcm []byte)) (Device, error)

// CaptureEngine captures microphone input and emits base64 PCM chunks of a
// fixed small duration plus one volume sample per chunk.
type CaptureEngine struct {
	logger     *slog.Logger
	opener     Opener
	deviceRate int
	chunkMS    int

	mu        sync.Mutex
	device    Device
	chunker   *Chunker
	resampler *Resampler

	dataEv   emitter.Emitter[events.MediaChunk]
	volumeEv emitter.Emitter[float64]
}

type CaptureOption func(*CaptureEngine)

func WithCaptureLogger(logger *slog.Logger) CaptureOption {
	return func(e *CaptureEngine) {
		e.logger = logger
	}
}

// WithOpener replaces the device backend (tests inject fakes here).
func WithOpener(opener Opener) CaptureOption {
	return func(e *CaptureEngine) {
		e.opener = opener
	}
}

// WithDeviceSampleRate sets the rate the device delivers. When it differs
// from CaptureSampleRate the callback path resamples before emitting.
func WithDeviceSampleRate(rate int) CaptureOption {
	return func(e *CaptureEngine) {
		e.deviceRate = rate
	}
}

// WithChunkDuration sets the emitted chunk duration in milliseconds.
func WithChunkDuration(ms int) CaptureOption {
	return func(e *CaptureEngine) {
		e.chunkMS = ms
	}
}

func NewCaptureEngine(opts ...CaptureOption) *CaptureEngine {
	e := &CaptureEngine{
		logger:     slog.New(slog.DiscardHandler),
		opener:     MalgoOpener(),
		deviceRate: CaptureSampleRate,
		chunkMS:    20,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnData fires once per captured chunk with base64 16 kHz PCM.
func (e *CaptureEngine) OnData(fn func(chunk events.MediaChunk)) func() {
	return e.dataEv.Subscribe(fn)
}

// OnVolume fires once per captured chunk with the RMS amplitude in [0,1].
func (e *CaptureEngine) OnVolume(fn func(rms float64)) func() {
	return e.volumeEv.Subscribe(fn)
}

func (e *CaptureEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device != nil
}

// Start acquires the microphone and begins emitting chunks. Calling it while
// already running is a no-op; a failed start leaves the engine stopped.
func (e *CaptureEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.device != nil {
		return nil
	}

	chunkSize := ChunkSize(CaptureSampleRate, time.Duration(e.chunkMS)*time.Millisecond, bytesPerSample, 1)
	e.chunker = NewChunker(chunkSize)
	if e.deviceRate != CaptureSampleRate {
		e.resampler = NewResampler(e.deviceRate, CaptureSampleRate)
	}

	device, err := e.opener(e.deviceRate, e.onFrames)
	if err != nil {
		e.chunker = nil
		e.resampler = nil
		return &DeviceError{Op: "start capture", Err: err}
	}

	e.device = device
	e.logger.Debug("capture started", slog.Int("device_rate", e.deviceRate), slog.Int("chunk_size", chunkSize))
	return nil
}

// Stop tears down the capture graph and releases the device. Idempotent.
func (e *CaptureEngine) Stop() error {
	e.mu.Lock()
	device := e.device
	e.device = nil
	e.chunker = nil
	e.resampler = nil
	e.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Stop(); err != nil {
		return &DeviceError{Op: "stop capture", Err: err}
	}
	e.logger.Debug("capture stopped")
	return nil
}

// onFrames runs in the hardware callback domain: O(buffer size) work only,
// no blocking on the main loop.
func (e *CaptureEngine) onFrames(pcm []byte) {
	e.mu.Lock()
	chunker := e.chunker
	resampler := e.resampler
	e.mu.Unlock()
	if chunker == nil {
		return
	}

	if resampler != nil {
		pcm = resampler.Resample(pcm)
	}

	chunker.Push(pcm, e.emitChunk)
}

func (e *CaptureEngine) emitChunk(pcm []byte) {
	e.dataEv.Emit(events.MediaChunk{
		MIMEType:   CaptureMIMEType,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		CapturedAt: time.Now(),
	})
	e.volumeEv.Emit(rms(pcm))
}

// rms computes the normalized root-mean-square amplitude of 16-bit LE PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
