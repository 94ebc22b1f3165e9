// Package capture runs the microphone-side audio pipeline.
//
// A Pipeline pulls normalized frames from a Source and fans each one out two
// ways: synchronously to an observer (turn detection runs inline, in capture
// order) and asynchronously to the agent session as an encoded PCM16 chunk.
// The network write happens on a separate goroutine behind a bounded queue so
// a slow transport can never stall the capture loop; when the queue overflows
// the oldest chunk is dropped and counted.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxhall/voxhall/pkg/pcm"
)

// Source is a stream of captured audio frames. Implementations own the device
// and deliver normalized mono samples on Frames.
type Source interface {
	// Start opens the device and begins delivering frames.
	Start() error

	// Frames returns the frame stream. The channel is closed after Stop.
	Frames() <-chan []float32

	// SampleRate returns the capture rate in Hz.
	SampleRate() int

	// Stop closes the device and the frame stream. Idempotent.
	Stop() error
}

// Sender receives encoded caller audio. Satisfied by agent.SessionHandle.
type Sender interface {
	SendAudio(chunk []byte, sampleRate int) error
}

// Observer is called synchronously with every captured frame before it is
// queued for sending. It must not block.
type Observer func(frame []float32, now time.Time)

const defaultQueueSize = 32

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers the synchronous per-frame observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithQueueSize overrides the send-queue depth.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// Pipeline connects a Source to a Sender.
type Pipeline struct {
	source    Source
	sender    Sender
	observer  Observer
	log       *slog.Logger
	queueSize int

	captured atomic.Int64
	dropped  atomic.Int64

	mu      sync.Mutex
	queue   chan []byte
	done    chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Pipeline. Start must be called before frames flow.
func New(source Source, sender Sender, log *slog.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		source:    source,
		sender:    sender,
		log:       log,
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the source and launches the capture and send loops.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	if err := p.source.Start(); err != nil {
		return err
	}

	p.queue = make(chan []byte, p.queueSize)
	p.done = make(chan struct{})
	p.started = true

	p.wg.Add(2)
	go p.captureLoop()
	go p.sendLoop()
	return nil
}

// captureLoop drains the source, observes each frame and enqueues its encoded
// form. It owns the queue and closes it on exit.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()
	defer close(p.queue)

	for frame := range p.source.Frames() {
		p.captured.Add(1)

		if p.observer != nil {
			p.observer(frame, time.Now())
		}

		chunk := pcm.EncodeBytes(frame)
		for {
			select {
			case p.queue <- chunk:
			default:
				// Queue full: drop the oldest chunk to keep latency bounded.
				select {
				case <-p.queue:
					p.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// sendLoop drains the queue into the sender.
func (p *Pipeline) sendLoop() {
	defer p.wg.Done()

	rate := p.source.SampleRate()
	for chunk := range p.queue {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.sender.SendAudio(chunk, rate); err != nil {
			p.log.Warn("dropping caller audio chunk", "error", err)
		}
	}
}

// FramesCaptured returns the total number of frames read from the source.
func (p *Pipeline) FramesCaptured() int64 { return p.captured.Load() }

// FramesDropped returns the number of chunks discarded due to send backlog.
func (p *Pipeline) FramesDropped() int64 { return p.dropped.Load() }

// Stop closes the source and waits for both loops to finish. Idempotent; a
// Stop before Start is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	err := p.source.Stop()
	close(p.done)
	p.wg.Wait()

	if d := p.dropped.Load(); d > 0 {
		p.log.Warn("capture finished with dropped chunks", "dropped", d)
	}
	return err
}
