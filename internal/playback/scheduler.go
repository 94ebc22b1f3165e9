// Package playback schedules synthesised audio chunks for gapless output.
//
// Chunks arrive from the network in bursts, faster than real time. The
// Scheduler keeps a playback horizon: the moment the last scheduled chunk
// will finish. Each new chunk starts at the horizon (or immediately, if the
// horizon has fallen into the past during a silent gap), and the horizon
// advances by exactly the chunk's duration. Back-to-back chunks are therefore
// seamless regardless of arrival jitter.
//
// The horizon only moves forward, with one exception: Interrupt stops every
// in-flight chunk and snaps the horizon back to the present, so the next
// response starts immediately instead of after the discarded backlog.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock reports the current playback-timeline position. It is an interface so
// tests can drive time by hand.
type Clock interface {
	Now() time.Duration
}

// Handle represents one chunk that has been handed to the output device.
type Handle interface {
	// Done is closed when the chunk finishes playing or is stopped.
	Done() <-chan struct{}

	// Stop halts playback of this chunk immediately. Idempotent.
	Stop()
}

// Sink is the output device abstraction. Play begins output of the given
// samples at the requested timeline position.
//
// Implementations that cannot seek (queue-based devices) may ignore at; the
// Scheduler still guarantees chunks are handed over in start order.
type Sink interface {
	Play(samples []float32, sampleRate int, at time.Duration) (Handle, error)
}

// Scheduler owns the playback horizon and the set of in-flight chunks.
// It is safe for concurrent use.
type Scheduler struct {
	clock Clock
	sink  Sink
	log   *slog.Logger

	mu       sync.Mutex
	horizon  time.Duration
	inflight map[Handle]struct{}
	closed   bool
}

// New creates a Scheduler that plays through sink on clock's timeline.
func New(clock Clock, sink Sink, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		clock:    clock,
		sink:     sink,
		log:      log,
		inflight: make(map[Handle]struct{}),
	}
}

// Schedule queues one decoded chunk for gapless playback and returns the
// timeline position at which it will start.
func (s *Scheduler) Schedule(samples []float32, sampleRate int) (time.Duration, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("playback: invalid sample rate %d", sampleRate)
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("playback: scheduler closed")
	}

	// Never schedule in the past: after a silent gap the horizon catches up
	// to the present instead of replaying the backlog's timing.
	start := s.horizon
	if now := s.clock.Now(); now > start {
		start = now
	}

	h, err := s.sink.Play(samples, sampleRate, start)
	if err != nil {
		return 0, fmt.Errorf("playback: sink: %w", err)
	}

	s.inflight[h] = struct{}{}
	s.horizon = start + duration

	go s.reap(h)

	return start, nil
}

// reap removes a chunk from the in-flight set once it finishes.
func (s *Scheduler) reap(h Handle) {
	<-h.Done()
	s.mu.Lock()
	delete(s.inflight, h)
	s.mu.Unlock()
}

// Interrupt stops every in-flight chunk and resets the horizon to the present.
// It is the playback half of barge-in handling and is safe to call at any
// time, including when nothing is playing.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := make([]Handle, 0, len(s.inflight))
	for h := range s.inflight {
		stopped = append(stopped, h)
	}
	s.inflight = make(map[Handle]struct{})
	s.horizon = s.clock.Now()
	s.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	if len(stopped) > 0 {
		s.log.Debug("playback interrupted", "stopped_chunks", len(stopped))
	}
}

// Active returns the number of chunks currently in flight.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Horizon returns the timeline position at which the next chunk would start
// if scheduled now.
func (s *Scheduler) Horizon() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.clock.Now(); now > s.horizon {
		return now
	}
	return s.horizon
}

// Close interrupts any remaining playback and rejects further scheduling.
// Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Interrupt()
	return nil
}
