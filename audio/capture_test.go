package audio

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/codewandler/gemlive-go/events"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	stopped bool
}

func (d *fakeDevice) Stop() error {
	d.stopped = true
	return nil
}

// fakeOpener counts acquisitions and exposes the frame callback so tests can
// play the hardware role.
type fakeOpener struct {
	opened   int
	device   *fakeDevice
	onFrames func(pcm []byte)
}

func (f *fakeOpener) open(sampleRate int, onFrames func(pcm []byte)) (Device, error) {
	f.opened++
	f.onFrames = onFrames
	f.device = &fakeDevice{}
	return f.device, nil
}

// squareWave returns n samples of a full-scale 16-bit LE square wave.
func squareWave(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(32767)
		if i%2 == 1 {
			v = -32767
		}
		out[i*2] = byte(uint16(v))
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func TestCaptureEngine_StartIdempotent(t *testing.T) {
	opener := &fakeOpener{}
	e := NewCaptureEngine(WithOpener(opener.open))

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	require.Equal(t, 1, opener.opened, "second start must not acquire the device again")
	require.True(t, e.Running())

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	require.True(t, opener.device.stopped)
	require.False(t, e.Running())
}

func TestCaptureEngine_FailedStartLeavesStopped(t *testing.T) {
	e := NewCaptureEngine(WithOpener(func(sampleRate int, onFrames func([]byte)) (Device, error) {
		return nil, errors.New("permission denied")
	}))

	err := e.Start()
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	require.False(t, e.Running())
}

func TestCaptureEngine_EmitsChunksAndVolume(t *testing.T) {
	opener := &fakeOpener{}
	e := NewCaptureEngine(WithOpener(opener.open), WithChunkDuration(20))

	var chunks []events.MediaChunk
	var volumes []float64
	e.OnData(func(c events.MediaChunk) { chunks = append(chunks, c) })
	e.OnVolume(func(v float64) { volumes = append(volumes, v) })

	require.NoError(t, e.Start())

	// 20ms at 16 kHz mono 16-bit = 640 bytes; feed it in two half buffers.
	pcm := squareWave(320)
	opener.onFrames(pcm[:320])
	require.Empty(t, chunks, "half a chunk must not emit")
	opener.onFrames(pcm[320:])

	require.Len(t, chunks, 1)
	require.Equal(t, CaptureMIMEType, chunks[0].MIMEType)

	decoded, err := base64.StdEncoding.DecodeString(chunks[0].Data)
	require.NoError(t, err)
	require.Equal(t, pcm, decoded)
	require.False(t, chunks[0].CapturedAt.IsZero())

	require.Len(t, volumes, 1)
	require.InDelta(t, 1.0, volumes[0], 0.01, "full-scale square wave has RMS ~1")
}

func TestCaptureEngine_SilenceHasZeroVolume(t *testing.T) {
	opener := &fakeOpener{}
	e := NewCaptureEngine(WithOpener(opener.open), WithChunkDuration(20))

	var volumes []float64
	e.OnVolume(func(v float64) { volumes = append(volumes, v) })

	require.NoError(t, e.Start())
	opener.onFrames(make([]byte, 640))

	require.Len(t, volumes, 1)
	require.Equal(t, 0.0, volumes[0])
}

func TestCaptureEngine_ResamplesForeignDeviceRate(t *testing.T) {
	opener := &fakeOpener{}
	e := NewCaptureEngine(
		WithOpener(opener.open),
		WithDeviceSampleRate(32_000),
		WithChunkDuration(20),
	)

	var chunks []events.MediaChunk
	e.OnData(func(c events.MediaChunk) { chunks = append(chunks, c) })

	require.NoError(t, e.Start())

	// 4 x 20ms at 32 kHz resample down to ~2 emitted 16 kHz chunks.
	for i := 0; i < 4; i++ {
		opener.onFrames(squareWave(640))
	}

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		decoded, err := base64.StdEncoding.DecodeString(c.Data)
		require.NoError(t, err)
		require.Len(t, decoded, 640, "emitted chunks are fixed 20ms 16 kHz slices")
	}
}

func TestCaptureEngine_FramesIgnoredAfterStop(t *testing.T) {
	opener := &fakeOpener{}
	e := NewCaptureEngine(WithOpener(opener.open), WithChunkDuration(20))

	var chunks int
	e.OnData(func(events.MediaChunk) { chunks++ })

	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())

	opener.onFrames(squareWave(320))
	require.Zero(t, chunks)
}
