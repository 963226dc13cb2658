package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// MalgoOpener is the default capture backend: a miniaudio capture device
// delivering 16-bit mono PCM straight from the hardware callback.
func MalgoOpener() Opener {
	return func(sampleRate int, onFrames func(pcm []byte)) (Device, error) {
		ctxConfig := malgo.ContextConfig{}
		ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

		allocated, err := malgo.InitContext(nil, ctxConfig, nil)
		if err != nil {
			return nil, fmt.Errorf("init audio context: %w", err)
		}

		deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = 1
		deviceConfig.SampleRate = uint32(sampleRate)
		deviceConfig.PeriodSizeInMilliseconds = 20

		callbacks := malgo.DeviceCallbacks{
			Data: func(_, pInputSamples []byte, _ uint32) {
				onFrames(pInputSamples)
			},
		}

		device, err := malgo.InitDevice(allocated.Context, deviceConfig, callbacks)
		if err != nil {
			_ = allocated.Uninit()
			allocated.Free()
			return nil, fmt.Errorf("init capture device: %w", err)
		}

		if err := device.Start(); err != nil {
			device.Uninit()
			_ = allocated.Uninit()
			allocated.Free()
			return nil, fmt.Errorf("start capture device: %w", err)
		}

		return &malgoDevice{ctx: allocated, device: device}, nil
	}
}

type malgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (d *malgoDevice) Stop() error {
	err := d.device.Stop()
	d.device.Uninit()
	_ = d.ctx.Uninit()
	d.ctx.Free()
	return err
}
