package turndetect_test

import (
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/turndetect"
)

var (
	loud  = []float32{0.5, -0.5, 0.5, -0.5}
	quiet = []float32{0.001, -0.001, 0.001, -0.001}
)

func newDetector() *turndetect.Detector {
	return turndetect.New(turndetect.Config{
		Threshold: 0.01,
		Hangover:  1200 * time.Millisecond,
	})
}

func TestSpeechStartThenContinue(t *testing.T) {
	d := newDetector()
	now := time.Now()

	if got := d.Observe(loud, now); got != turndetect.SpeechStart {
		t.Errorf("first loud frame: got %v, want speech_start", got)
	}
	if got := d.Observe(loud, now.Add(100*time.Millisecond)); got != turndetect.Speech {
		t.Errorf("second loud frame: got %v, want speech", got)
	}
	if !d.Speaking() {
		t.Error("Speaking() should be true during speech")
	}
}

func TestSilenceBeforeAnySpeechNeverEndsTurn(t *testing.T) {
	d := newDetector()
	now := time.Now()

	for i := 0; i < 50; i++ {
		if got := d.Observe(quiet, now.Add(time.Duration(i)*100*time.Millisecond)); got != turndetect.Silence {
			t.Fatalf("frame %d: got %v, want silence", i, got)
		}
	}
}

func TestEndOfTurnAfterHangover(t *testing.T) {
	d := newDetector()
	now := time.Now()

	d.Observe(loud, now)

	// Silence just under the hangover: no boundary yet.
	if got := d.Observe(quiet, now.Add(100*time.Millisecond)); got != turndetect.Silence {
		t.Errorf("early silence: got %v", got)
	}
	if got := d.Observe(quiet, now.Add(1200*time.Millisecond)); got != turndetect.Silence {
		t.Errorf("silence at hangover-100ms: got %v", got)
	}

	// Hangover elapsed, measured from the falling edge at +100ms.
	if got := d.Observe(quiet, now.Add(1300*time.Millisecond)); got != turndetect.EndOfTurn {
		t.Errorf("silence past hangover: got %v, want end_of_turn", got)
	}
	if d.Speaking() {
		t.Error("Speaking() should be false after end of turn")
	}
}

func TestEndOfTurnIsEdgeTriggered(t *testing.T) {
	d := newDetector()
	now := time.Now()

	d.Observe(loud, now)
	d.Observe(quiet, now.Add(100*time.Millisecond))

	if got := d.Observe(quiet, now.Add(2*time.Second)); got != turndetect.EndOfTurn {
		t.Fatalf("expected end_of_turn, got %v", got)
	}

	// Continued silence must not fire again.
	for i := 3; i < 10; i++ {
		if got := d.Observe(quiet, now.Add(time.Duration(i)*time.Second)); got != turndetect.Silence {
			t.Fatalf("silence after boundary fired %v", got)
		}
	}
}

func TestSpeechResumesAfterEndOfTurn(t *testing.T) {
	d := newDetector()
	now := time.Now()

	d.Observe(loud, now)
	d.Observe(quiet, now.Add(100*time.Millisecond))
	d.Observe(quiet, now.Add(2*time.Second)) // fires end_of_turn

	if got := d.Observe(loud, now.Add(3*time.Second)); got != turndetect.SpeechStart {
		t.Errorf("resumed speech: got %v, want speech_start", got)
	}

	// A fresh silence episode fires a fresh boundary.
	d.Observe(quiet, now.Add(4*time.Second))
	if got := d.Observe(quiet, now.Add(6*time.Second)); got != turndetect.EndOfTurn {
		t.Errorf("second episode: got %v, want end_of_turn", got)
	}
}

func TestBriefSilenceDoesNotEndTurn(t *testing.T) {
	d := newDetector()
	now := time.Now()

	d.Observe(loud, now)
	d.Observe(quiet, now.Add(100*time.Millisecond))
	// Speech resumes before the hangover elapses.
	if got := d.Observe(loud, now.Add(800*time.Millisecond)); got != turndetect.SpeechStart {
		t.Errorf("resumed speech: got %v", got)
	}
	// The old silence timing is discarded: silence must run the full hangover
	// again from its new falling edge.
	d.Observe(quiet, now.Add(900*time.Millisecond))
	if got := d.Observe(quiet, now.Add(2000*time.Millisecond)); got != turndetect.Silence {
		t.Errorf("silence at 1100ms into new episode: got %v", got)
	}
	if got := d.Observe(quiet, now.Add(2200*time.Millisecond)); got != turndetect.EndOfTurn {
		t.Errorf("silence at 1300ms into new episode: got %v, want end_of_turn", got)
	}
}

func TestReset(t *testing.T) {
	d := newDetector()
	now := time.Now()

	d.Observe(loud, now)
	d.Observe(quiet, now.Add(100*time.Millisecond))
	d.Reset()

	if d.Speaking() {
		t.Error("Speaking() should be false after Reset")
	}

	// Old silence timing must not fire a boundary after Reset.
	if got := d.Observe(quiet, now.Add(5*time.Second)); got != turndetect.Silence {
		t.Errorf("post-reset silence: got %v, want silence", got)
	}
}

func TestDefaultsApplied(t *testing.T) {
	d := turndetect.New(turndetect.Config{})
	now := time.Now()

	// RMS 0.5 clears the default 0.01 threshold.
	if got := d.Observe(loud, now); got != turndetect.SpeechStart {
		t.Errorf("default threshold: got %v", got)
	}
	d.Observe(quiet, now.Add(100*time.Millisecond))
	// Default hangover is 1200ms.
	if got := d.Observe(quiet, now.Add(1250*time.Millisecond)); got != turndetect.Silence {
		t.Errorf("before default hangover: got %v", got)
	}
	if got := d.Observe(quiet, now.Add(1350*time.Millisecond)); got != turndetect.EndOfTurn {
		t.Errorf("after default hangover: got %v", got)
	}
}
