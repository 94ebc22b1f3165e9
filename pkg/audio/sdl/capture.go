package sdl

import (
	"fmt"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/voxhall/voxhall/pkg/pcm"
)

// CaptureConfig configures a microphone source.
type CaptureConfig struct {
	// Device names the input device. Empty selects the system default.
	Device string

	// SampleRate is the capture rate in Hz.
	SampleRate int

	// FrameSize is the number of samples delivered per frame.
	FrameSize int
}

// Capture reads PCM16 mono audio from an SDL input device and delivers it as
// normalized frames. It implements the capture source contract: one Start,
// frames until Stop, then the frame channel closes.
type Capture struct {
	cfg CaptureConfig

	mu      sync.Mutex
	dev     sdl.AudioDeviceID
	frames  chan []float32
	done    chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewCapture creates an unstarted microphone source.
func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	return &Capture{cfg: cfg}
}

// Start opens the device and begins delivering frames.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("sdl: capture already started")
	}
	if err := ensureInit(); err != nil {
		return fmt.Errorf("sdl: init audio: %w", err)
	}

	spec := sdl.AudioSpec{
		Freq:     int32(c.cfg.SampleRate),
		Format:   sdl.AUDIO_S16SYS,
		Channels: 1,
		Samples:  uint16(c.cfg.FrameSize),
	}
	dev, err := sdl.OpenAudioDevice(c.cfg.Device, true, &spec, nil, 0)
	if err != nil {
		return fmt.Errorf("sdl: open capture device %q: %w", c.cfg.Device, err)
	}

	c.dev = dev
	c.frames = make(chan []float32, 4)
	c.done = make(chan struct{})
	c.started = true

	sdl.PauseAudioDevice(dev, false)

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// readLoop polls the device queue and emits one frame per FrameSize samples.
// It owns the frame channel and closes it on exit.
func (c *Capture) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	frameBytes := c.cfg.FrameSize * 2
	buf := make([]byte, frameBytes)
	fill := 0

	// Poll at half the frame period so the device queue stays shallow.
	interval := time.Duration(c.cfg.FrameSize) * time.Second / time.Duration(c.cfg.SampleRate) / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		n, err := sdl.DequeueAudio(c.dev, buf[fill:])
		if err != nil {
			return
		}
		fill += int(n)
		if fill < frameBytes {
			continue
		}

		frame, err := pcm.DecodeBytes(buf[:fill], 1)
		fill = 0
		if err != nil {
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

// Frames returns the frame stream. The channel is closed after Stop.
func (c *Capture) Frames() <-chan []float32 { return c.frames }

// SampleRate returns the capture rate in Hz.
func (c *Capture) SampleRate() int { return c.cfg.SampleRate }

// Stop pauses and closes the device and the frame stream. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()

	sdl.PauseAudioDevice(c.dev, true)
	sdl.CloseAudioDevice(c.dev)
	return nil
}
