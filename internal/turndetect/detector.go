// Package turndetect implements energy-based end-of-utterance detection for
// the caller's audio stream.
//
// A Detector classifies each captured frame as speech or silence by comparing
// its RMS energy against a threshold, and fires an end-of-turn signal after a
// hangover period of continuous silence that follows speech. The signal is
// edge-triggered: one silence episode produces at most one end-of-turn, no
// matter how long the silence lasts, until speech is observed again.
//
// The detector is synchronous by design: Observe returns immediately with a
// classification, making it suitable for the low-latency capture loop. Time is
// passed in explicitly so tests can drive the hangover clock directly.
//
// A Detector is not safe for concurrent use; it belongs to a single capture
// goroutine.
package turndetect

import (
	"time"

	"github.com/voxhall/voxhall/pkg/pcm"
)

const (
	// DefaultThreshold is the RMS energy above which a frame counts as speech.
	DefaultThreshold = 0.01

	// DefaultHangover is how long silence must persist after speech before the
	// caller's turn is considered finished.
	DefaultHangover = 1200 * time.Millisecond
)

// Signal is the classification of one observed frame.
type Signal int

const (
	// Silence indicates no speech in the frame and no pending turn boundary.
	Silence Signal = iota

	// SpeechStart indicates speech has just begun after silence.
	SpeechStart

	// Speech indicates ongoing speech.
	Speech

	// EndOfTurn indicates the hangover elapsed after speech: the caller has
	// finished their utterance. Fired at most once per silence episode.
	EndOfTurn
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case Speech:
		return "speech"
	case EndOfTurn:
		return "end_of_turn"
	}
	return "unknown"
}

// Config holds the detector parameters. Zero values select the defaults.
type Config struct {
	// Threshold is the RMS energy above which a frame is speech.
	Threshold float64

	// Hangover is the continuous silence duration that ends a turn.
	Hangover time.Duration
}

// Detector tracks speech/silence state across a stream of audio frames.
type Detector struct {
	threshold float64
	hangover  time.Duration

	speaking     bool      // speech observed since the last end-of-turn or Reset
	inSpeech     bool      // the previous frame was speech
	silenceSince time.Time // start of the current silence run
	fired        bool      // end-of-turn already emitted for this silence episode
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = DefaultHangover
	}
	return &Detector{threshold: cfg.Threshold, hangover: cfg.Hangover}
}

// Observe classifies one frame of normalized samples captured at the given
// instant. Frames must be observed in capture order.
func (d *Detector) Observe(frame []float32, now time.Time) Signal {
	if pcm.RMS(frame) >= d.threshold {
		wasInSpeech := d.inSpeech
		d.speaking = true
		d.inSpeech = true
		d.fired = false
		if !wasInSpeech {
			return SpeechStart
		}
		return Speech
	}

	if d.inSpeech {
		// Falling edge: start timing the silence run.
		d.inSpeech = false
		d.silenceSince = now
	}

	if d.speaking && !d.fired && !d.silenceSince.IsZero() && now.Sub(d.silenceSince) >= d.hangover {
		d.fired = true
		d.speaking = false
		return EndOfTurn
	}
	return Silence
}

// Speaking reports whether speech has been observed since the last end-of-turn
// or Reset.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears all detection state. Use it when the stream restarts so stale
// silence timing from the previous segment cannot trigger a spurious
// end-of-turn.
func (d *Detector) Reset() {
	d.speaking = false
	d.inSpeech = false
	d.silenceSince = time.Time{}
	d.fired = false
}
