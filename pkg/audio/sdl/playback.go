package sdl

import (
	"fmt"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/voxhall/voxhall/internal/playback"
	"github.com/voxhall/voxhall/pkg/pcm"
)

// watchInterval is how often the drain watcher samples the device queue.
const watchInterval = 20 * time.Millisecond

// Playback plays scheduled chunks through an SDL output device in queue mode.
// The device queue preserves hand-over order, so the scheduler's timeline
// positions are honoured without seeking; the `at` argument to Play is
// ignored.
type Playback struct {
	device string

	mu      sync.Mutex
	dev     sdl.AudioDeviceID
	rate    int
	opened  bool
	closed  bool
	queued  uint64 // total bytes ever handed to the device
	pending []*handle
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ playback.Sink = (*Playback)(nil)

// NewPlayback creates a sink on the named output device. Empty selects the
// system default. The device itself is opened lazily on the first Play, at
// that chunk's sample rate.
func NewPlayback(device string) *Playback {
	return &Playback{device: device}
}

// handle tracks one queued chunk. end is the chunk's final byte offset on the
// device's cumulative stream; the watcher completes the handle once the
// device has consumed that many bytes.
type handle struct {
	sink *Playback
	end  uint64
	done chan struct{}
	once sync.Once
}

func (h *handle) Done() <-chan struct{} { return h.done }

// Stop flushes the device queue. SDL cannot remove a single chunk from the
// queue, so stopping any chunk stops everything still queued; the scheduler
// only stops chunks in bulk on interruption, where that is exactly the
// desired behaviour.
func (h *handle) Stop() { h.sink.flush() }

func (h *handle) complete() { h.once.Do(func() { close(h.done) }) }

// Play encodes the samples to PCM16 and appends them to the device queue.
func (p *Playback) Play(samples []float32, sampleRate int, _ time.Duration) (playback.Handle, error) {
	data := pcm.EncodeBytes(samples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("sdl: playback closed")
	}
	if err := p.ensureDeviceLocked(sampleRate); err != nil {
		return nil, err
	}
	if err := sdl.QueueAudio(p.dev, data); err != nil {
		return nil, fmt.Errorf("sdl: queue audio: %w", err)
	}
	p.queued += uint64(len(data))

	h := &handle{sink: p, end: p.queued, done: make(chan struct{})}
	p.pending = append(p.pending, h)
	return h, nil
}

// ensureDeviceLocked opens the output device at rate, reopening it if a
// previous chunk used a different rate.
func (p *Playback) ensureDeviceLocked(rate int) error {
	if p.opened && p.rate == rate {
		return nil
	}
	if p.opened {
		p.closeDeviceLocked()
	}
	if err := ensureInit(); err != nil {
		return fmt.Errorf("sdl: init audio: %w", err)
	}

	spec := sdl.AudioSpec{
		Freq:     int32(rate),
		Format:   sdl.AUDIO_S16SYS,
		Channels: 1,
		Samples:  1024,
	}
	dev, err := sdl.OpenAudioDevice(p.device, false, &spec, nil, 0)
	if err != nil {
		return fmt.Errorf("sdl: open playback device %q: %w", p.device, err)
	}

	p.dev = dev
	p.rate = rate
	p.opened = true
	p.queued = 0
	p.stop = make(chan struct{})

	sdl.PauseAudioDevice(dev, false)

	p.wg.Add(1)
	go p.watch(dev, p.stop)
	return nil
}

// watch completes pending handles as the device consumes its queue.
func (p *Playback) watch(dev sdl.AudioDeviceID, stop chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		remaining := uint64(sdl.GetQueuedAudioSize(dev))

		p.mu.Lock()
		if p.stop != stop {
			// Device was reopened; a fresh watcher owns the pending list.
			p.mu.Unlock()
			return
		}
		played := p.queued - remaining
		for len(p.pending) > 0 && p.pending[0].end <= played {
			p.pending[0].complete()
			p.pending = p.pending[1:]
		}
		p.mu.Unlock()
	}
}

// flush drops everything still queued on the device and completes every
// pending handle.
func (p *Playback) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return
	}
	sdl.ClearQueuedAudio(p.dev)
	for _, h := range p.pending {
		h.complete()
	}
	p.pending = nil
}

func (p *Playback) closeDeviceLocked() {
	close(p.stop)
	sdl.ClearQueuedAudio(p.dev)
	sdl.CloseAudioDevice(p.dev)
	for _, h := range p.pending {
		h.complete()
	}
	p.pending = nil
	p.opened = false
}

// Close flushes and closes the device. Idempotent.
func (p *Playback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	opened := p.opened
	if opened {
		p.closeDeviceLocked()
	}
	p.mu.Unlock()

	if opened {
		p.wg.Wait()
	}
	return nil
}
