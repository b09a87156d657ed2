// Package source wraps PortAudio device enumeration and capture/playback
// streams in small Capture and Playback types.
package source

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Device describes an available audio device.
type Device struct {
	ID   int
	Name string
}

// ListInputDevices returns devices with at least one input channel.
func ListInputDevices() ([]Device, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns devices with at least one output channel.
func ListOutputDevices() ([]Device, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("source: list devices: %w", err)
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out, nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Capture owns a PortAudio input stream and reads into an internal buffer of
// frameSize samples at a time.
type Capture struct {
	stream *portaudio.Stream
	buf    []float32
	Rate   float64
	Name   string
}

// OpenCapture opens the input device identified by deviceID (-1 selects the
// system default) with the given frame size.
func OpenCapture(deviceID int, sampleRate float64, channels, frameSize int) (*Capture, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("source: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("source: resolve input device: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("source: open capture stream: %w", err)
	}
	return &Capture{stream: stream, buf: buf, Rate: sampleRate, Name: dev.Name}, nil
}

// Start begins capture.
func (c *Capture) Start() error { return c.stream.Start() }

// Read blocks until one frame of samples is available, then returns it. The
// returned slice is reused across calls; callers must copy it if they retain it.
func (c *Capture) Read() ([]float32, error) {
	if err := c.stream.Read(); err != nil {
		return nil, err
	}
	return c.buf, nil
}

// Stop halts the stream. Safe to call from a different goroutine than Read;
// it unblocks any in-flight Read call.
func (c *Capture) Stop() error { return c.stream.Stop() }

// Close releases the underlying native stream. Callers must ensure no
// goroutine is still inside Read when Close is called.
func (c *Capture) Close() error { return c.stream.Close() }

// Playback owns a PortAudio output stream and writes frameSize samples at a time.
type Playback struct {
	stream *portaudio.Stream
	buf    []float32
	Name   string
}

// OpenPlayback opens the output device identified by deviceID (-1 selects the
// system default) with the given frame size.
func OpenPlayback(deviceID int, sampleRate float64, channels, frameSize int) (*Playback, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("source: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, fmt.Errorf("source: resolve output device: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("source: open playback stream: %w", err)
	}
	return &Playback{stream: stream, buf: buf, Name: dev.Name}, nil
}

// Start begins playback.
func (p *Playback) Start() error { return p.stream.Start() }

// Write copies samples into the stream's buffer and blocks until PortAudio
// has consumed it. samples must have exactly the stream's frame size.
func (p *Playback) Write(samples []float32) error {
	copy(p.buf, samples)
	return p.stream.Write()
}

// Stop halts the stream, unblocking any in-flight Write call.
func (p *Playback) Stop() error { return p.stream.Stop() }

// Close releases the underlying native stream.
func (p *Playback) Close() error { return p.stream.Close() }
