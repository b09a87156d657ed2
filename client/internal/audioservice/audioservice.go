// Package audioservice wires PortAudio capture/playback streams to the
// signal-conditioning chain (echo cancellation, noise gate, gain control,
// voice activity detection), the Opus codec, and the peer mixer. It is the
// component that actually touches hardware; everything upstream of it
// (wire codec, mixer, ring buffers) is plain data processing and is
// exercised without PortAudio in tests.
package audioservice

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"client/internal/aec"
	"client/internal/agc"
	"client/internal/codec"
	"client/internal/mixer"
	"client/internal/noisegate"
	"client/internal/source"
	"client/internal/vad"
)

const (
	// SampleRate is the operating rate this service always captures and
	// plays back at; codec.NearestRate maps it to itself exactly.
	SampleRate = 48000
	Channels   = 1
	FrameSize  = SampleRate * codec.FrameDurationMs / 1000 // 960 samples @ 20ms

	outFrameBuf   = 30 // ~600ms of 20ms frames; drop rather than block a slow sender
	notifFrameBuf = 16
)

// Sound identifies a UI audio cue played into the local playback stream.
type Sound int

const (
	SoundConnect Sound = iota
	SoundDisconnect
	SoundUserJoined
	SoundUserLeft
	SoundMute
	SoundUnmute
)

const notifVolume = 0.18

// Service owns the capture and playback streams and the signal chain between
// them and the network.
type Service struct {
	capture  *source.Capture
	playback *source.Playback

	encoder *codec.Encoder
	mixer   *mixer.Mixer

	aec  *aec.AEC
	gate *noisegate.Gate
	agc  *agc.AGC
	vad  *vad.VAD

	volume atomic.Uint32 // math.Float32bits

	outFrames chan []byte
	notifCh   chan []float32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// New constructs a Service bound to mx for decoding/mixing incoming peer
// audio. The signal chain starts with echo cancellation, gate, AGC, and VAD
// all enabled at their defaults.
func New(mx *mixer.Mixer) *Service {
	s := &Service{
		mixer:     mx,
		aec:       aec.New(FrameSize),
		gate:      noisegate.New(),
		agc:       agc.New(),
		vad:       vad.New(),
		outFrames: make(chan []byte, outFrameBuf),
		notifCh:   make(chan []float32, notifFrameBuf),
	}
	s.volume.Store(math.Float32bits(1.0))
	return s
}

// OutFrames returns the channel of encoded Opus frames ready to be sent over
// the network. The caller (the session) drains it.
func (s *Service) OutFrames() <-chan []byte { return s.outFrames }

// Start opens the requested input/output devices (-1 selects the system
// default) and begins capture and playback goroutines.
func (s *Service) Start(inputDeviceID, outputDeviceID int) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("audioservice: already running")
	}

	enc, err := codec.NewEncoder(SampleRate, Channels)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.encoder = enc

	capture, err := source.OpenCapture(inputDeviceID, SampleRate, Channels, FrameSize)
	if err != nil {
		s.running.Store(false)
		return err
	}
	playback, err := source.OpenPlayback(outputDeviceID, SampleRate, Channels, FrameSize)
	if err != nil {
		capture.Close()
		s.running.Store(false)
		return err
	}

	if err := capture.Start(); err != nil {
		capture.Close()
		playback.Close()
		s.running.Store(false)
		return err
	}
	if err := playback.Start(); err != nil {
		capture.Stop()
		capture.Close()
		playback.Close()
		s.running.Store(false)
		return err
	}

	s.mu.Lock()
	s.capture = capture
	s.playback = playback
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.captureLoop() }()
	go func() { defer s.wg.Done(); s.playbackLoop() }()

	log.Info("audio service started", "capture", capture.Name, "playback", playback.Name)
	return nil
}

// Stop halts capture and playback and releases the native streams.
//
// Streams are stopped before the goroutines are joined: Stop() unblocks any
// in-flight Read/Write call, which is what lets captureLoop/playbackLoop
// observe stopCh and return. Close() only happens after wg.Wait(), so the
// native stream object is never freed while a goroutine might still touch it.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)

	s.mu.Lock()
	if s.capture != nil {
		s.capture.Stop()
	}
	if s.playback != nil {
		s.playback.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	if s.playback != nil {
		s.playback.Close()
		s.playback = nil
	}
	s.mu.Unlock()
}

func (s *Service) captureLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		frame, err := s.capture.Read()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.Warn("capture read failed", "error", err)
				continue
			}
		}

		buf := make([]float32, len(frame))
		copy(buf, frame)

		s.aec.Process(buf)
		rms := s.gate.Process(buf)
		s.agc.Process(buf)

		if !s.vad.ShouldSend(rms) {
			continue
		}

		frames, err := s.encoder.Push(buf)
		if err != nil {
			log.Warn("encode failed", "error", err)
			continue
		}
		for _, f := range frames {
			select {
			case s.outFrames <- f:
			default:
				log.Warn("outbound frame queue full, dropping frame")
			}
		}
	}
}

func (s *Service) playbackLoop() {
	mixBuf := make([]float32, FrameSize)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		for i := range mixBuf {
			sample, _ := s.mixer.Next()
			mixBuf[i] = sample
		}

		select {
		case notif := <-s.notifCh:
			for i := range mixBuf {
				if i < len(notif) {
					mixBuf[i] += notif[i]
				}
			}
		default:
		}

		vol := math.Float32frombits(s.volume.Load())
		for i, v := range mixBuf {
			out := v * vol
			if out > 1 {
				out = 1
			} else if out < -1 {
				out = -1
			}
			mixBuf[i] = out
		}

		s.aec.FeedFarEnd(mixBuf)

		if err := s.playback.Write(mixBuf); err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.Warn("playback write failed", "error", err)
			}
		}
	}
}

// SetVolume sets the playback volume in [0, 1].
func (s *Service) SetVolume(v float32) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volume.Store(math.Float32bits(v))
}

// SetNoiseGate enables/disables the noise gate and sets its threshold level
// in [0, 100].
func (s *Service) SetNoiseGate(enabled bool, level int) {
	s.gate.SetEnabled(enabled)
	s.gate.SetThreshold(level)
}

// SetAECEnabled toggles acoustic echo cancellation.
func (s *Service) SetAECEnabled(enabled bool) {
	s.aec.SetEnabled(enabled)
}

// PlayNotification enqueues a synthesized cue for mixing into the next
// playback frames. It never blocks; a full queue drops the cue.
func (s *Service) PlayNotification(sound Sound) {
	tones := notificationTones(sound)
	if len(tones) == 0 {
		return
	}
	samples := renderTones(tones)
	select {
	case s.notifCh <- samples:
	default:
		log.Warn("notification queue full, dropping cue")
	}
}

type tone struct {
	freqHz int
	ms     int
}

func notificationTones(sound Sound) []tone {
	switch sound {
	case SoundConnect:
		return []tone{{523, 80}, {784, 120}}
	case SoundDisconnect:
		return []tone{{784, 80}, {523, 120}}
	case SoundUserJoined:
		return []tone{{880, 120}}
	case SoundUserLeft:
		return []tone{{440, 120}}
	case SoundMute:
		return []tone{{523, 80}, {440, 100}}
	case SoundUnmute:
		return []tone{{440, 80}, {523, 100}}
	default:
		return nil
	}
}

// renderTones synthesizes a concatenated sine-tone sequence with 5ms
// fade-in/out to avoid clicks, truncated or padded to one frame's length so
// it can be mixed into a single playback frame.
func renderTones(tones []tone) []float32 {
	var raw []float32
	for _, t := range tones {
		raw = append(raw, sineTone(float64(t.freqHz), t.ms)...)
	}
	out := make([]float32, FrameSize)
	copy(out, raw)
	return out
}

func sineTone(freq float64, durationMs int) []float32 {
	n := SampleRate * durationMs / 1000
	out := make([]float32, n)

	fade := SampleRate * 5 / 1000
	if fade > n/2 {
		fade = n / 2
	}

	for i := range out {
		t := float64(i) / float64(SampleRate)
		v := float32(math.Sin(2 * math.Pi * freq * t))

		env := float32(1.0)
		if i < fade {
			env = float32(i) / float32(fade)
		} else if i >= n-fade {
			env = float32(n-1-i) / float32(fade)
		}
		out[i] = v * env * notifVolume
	}
	return out
}
