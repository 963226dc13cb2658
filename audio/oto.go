package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoFactory is the default playback backend.
func OtoFactory(sampleRate, channels int) PlayerFactory {
	return func(src io.Reader) (Player, error) {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			// ~100ms device buffer: low latency without glitching.
			BufferSize: 100 * time.Millisecond,
		}

		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			return nil, fmt.Errorf("init speaker: %w", err)
		}
		<-ready

		return ctx.NewPlayer(src), nil
	}
}
