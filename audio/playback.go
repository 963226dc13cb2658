package audio

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/gemlive-go/events"
	"github.com/smallnest/ringbuffer"
)

const (
	// PlaybackSampleRate is the rate the model synthesizes audio at.
	PlaybackSampleRate = 24_000
)

// Player consumes PCM from the reader it was built around.
type Player interface {
	Play()
	Close() error
}

// PlayerFactory builds the single player of an engine around its queue
// reader. The default factory is backed by oto.
type PlayerFactory func(src io.Reader) (Player, error)

// PlaybackEngine plays inbound audio chunks gaplessly in arrival order and
// supports immediate interruption. Chunks pass through a ring buffer that the
// audio device drains; Interrupt resets the buffer so nothing scheduled
// survives.
type PlaybackEngine struct {
	logger     *slog.Logger
	factory    PlayerFactory
	sampleRate int
	capacity   time.Duration

	mu     sync.Mutex
	buf    *ringbuffer.RingBuffer
	player Player
}

type PlaybackOption func(*PlaybackEngine)

func WithPlaybackLogger(logger *slog.Logger) PlaybackOption {
	return func(e *PlaybackEngine) {
		e.logger = logger
	}
}

func WithPlayerFactory(factory PlayerFactory) PlaybackOption {
	return func(e *PlaybackEngine) {
		e.factory = factory
	}
}

func WithPlaybackSampleRate(rate int) PlaybackOption {
	return func(e *PlaybackEngine) {
		e.sampleRate = rate
	}
}

// WithQueueCapacity sets how much audio the queue holds before Enqueue fails.
func WithQueueCapacity(d time.Duration) PlaybackOption {
	return func(e *PlaybackEngine) {
		e.capacity = d
	}
}

func NewPlaybackEngine(opts ...PlaybackOption) *PlaybackEngine {
	e := &PlaybackEngine{
		logger:     slog.New(slog.DiscardHandler),
		sampleRate: PlaybackSampleRate,
		capacity:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.factory == nil {
		e.factory = OtoFactory(e.sampleRate, 1)
	}

	size := ChunkSize(e.sampleRate, e.capacity, bytesPerSample, 1)
	e.buf = ringbuffer.New(size)

	return e
}

// Start builds the player and begins draining the queue. Idempotent.
func (e *PlaybackEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.player != nil {
		return nil
	}

	player, err := e.factory(&queueReader{buf: e.buf})
	if err != nil {
		return &DeviceError{Op: "start playback", Err: err}
	}
	player.Play()
	e.player = player
	return nil
}

// Enqueue decodes a chunk and schedules it after previously enqueued audio.
func (e *PlaybackEngine) Enqueue(chunk events.Blob) error {
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	return e.EnqueuePCM(pcm)
}

// EnqueuePCM schedules raw 16-bit LE mono PCM. A chunk the queue cannot hold
// is rejected whole: a partial write would leave an odd byte count queued and
// shift every later 16-bit sample.
func (e *PlaybackEngine) EnqueuePCM(pcm []byte) error {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()

	if buf.Free() < len(pcm) {
		return fmt.Errorf("playback queue: %w", ringbuffer.ErrIsFull)
	}
	if _, err := buf.Write(pcm); err != nil {
		return fmt.Errorf("playback queue: %w", err)
	}
	return nil
}

// Interrupt immediately discards all scheduled audio. Nothing from the
// interrupted turn plays after it returns.
func (e *PlaybackEngine) Interrupt() {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()

	buf.Reset()
	e.logger.Debug("playback interrupted")
}

// Buffered returns the number of queued, not yet played bytes.
func (e *PlaybackEngine) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Length()
}

// Close releases the player and drops queued audio. Idempotent.
func (e *PlaybackEngine) Close() error {
	e.mu.Lock()
	player := e.player
	e.player = nil
	e.mu.Unlock()

	e.buf.Reset()
	if player == nil {
		return nil
	}
	return player.Close()
}

// queueReader adapts the ring buffer to the pull model of audio devices:
// when the queue runs dry it feeds silence instead of blocking or returning
// zero-byte reads.
type queueReader struct {
	buf *ringbuffer.RingBuffer
}

func (r *queueReader) Read(p []byte) (int, error) {
	n, err := r.buf.Read(p)
	if n > 0 {
		return n, nil
	}
	if err != nil && err != ringbuffer.ErrIsEmpty {
		return 0, err
	}

	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
