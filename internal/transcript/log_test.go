package transcript_test

import (
	"sync"
	"testing"

	"github.com/voxhall/voxhall/internal/transcript"
)

func TestUpdatePartial_ReplacesNotAppends(t *testing.T) {
	log := transcript.NewLog(nil)

	log.UpdatePartial(transcript.SpeakerCaller, "hel")
	log.UpdatePartial(transcript.SpeakerCaller, "hello the")
	log.UpdatePartial(transcript.SpeakerCaller, "hello there")

	msgs := log.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages; want 1 growing partial", len(msgs))
	}
	if msgs[0].Text != "hello there" {
		t.Errorf("text = %q; want the latest full partial", msgs[0].Text)
	}
	if msgs[0].Final {
		t.Error("partial should not be final")
	}
}

func TestUpdatePartial_EmptyTextIgnored(t *testing.T) {
	log := transcript.NewLog(nil)
	log.UpdatePartial(transcript.SpeakerAgent, "")
	if log.Len() != 0 {
		t.Errorf("empty update created a message")
	}
}

func TestOnePartialPerSpeaker(t *testing.T) {
	log := transcript.NewLog(nil)

	log.UpdatePartial(transcript.SpeakerCaller, "can I book")
	log.UpdatePartial(transcript.SpeakerAgent, "Of course")
	log.UpdatePartial(transcript.SpeakerCaller, "can I book a room")
	log.UpdatePartial(transcript.SpeakerAgent, "Of course, when")

	msgs := log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages; want 2 (one partial per speaker)", len(msgs))
	}
	if msgs[0].Speaker != transcript.SpeakerCaller || msgs[0].Text != "can I book a room" {
		t.Errorf("caller message = %+v", msgs[0])
	}
	if msgs[1].Speaker != transcript.SpeakerAgent || msgs[1].Text != "Of course, when" {
		t.Errorf("agent message = %+v", msgs[1])
	}
}

func TestSeqPreservedAcrossUpdates(t *testing.T) {
	log := transcript.NewLog(nil)

	log.UpdatePartial(transcript.SpeakerCaller, "a")
	log.UpdatePartial(transcript.SpeakerAgent, "b")
	log.UpdatePartial(transcript.SpeakerCaller, "aa")

	msgs := log.Messages()
	if msgs[0].Seq != 0 || msgs[1].Seq != 1 {
		t.Errorf("seqs = %d,%d; updates must not reassign sequence numbers",
			msgs[0].Seq, msgs[1].Seq)
	}
}

func TestFinalizeAll_AtomicAndStartsFreshMessages(t *testing.T) {
	log := transcript.NewLog(nil)

	log.UpdatePartial(transcript.SpeakerCaller, "question one")
	log.UpdatePartial(transcript.SpeakerAgent, "answer one")
	log.FinalizeAll()

	for _, msg := range log.Messages() {
		if !msg.Final {
			t.Errorf("message %d not finalized: %+v", msg.Seq, msg)
		}
	}

	// The next update opens a new message instead of reviving the old one.
	log.UpdatePartial(transcript.SpeakerCaller, "question two")
	msgs := log.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages; want 3", len(msgs))
	}
	if msgs[2].Final || msgs[2].Text != "question two" {
		t.Errorf("new partial = %+v", msgs[2])
	}
	if msgs[0].Text != "question one" {
		t.Errorf("finalized message was altered: %+v", msgs[0])
	}
}

func TestFinalize_SingleSpeaker(t *testing.T) {
	log := transcript.NewLog(nil)

	log.UpdatePartial(transcript.SpeakerCaller, "done talking")
	log.UpdatePartial(transcript.SpeakerAgent, "still talk")
	log.Finalize(transcript.SpeakerCaller)

	if msg, ok := log.Partial(transcript.SpeakerCaller); ok {
		t.Errorf("caller still has an open partial: %+v", msg)
	}
	if _, ok := log.Partial(transcript.SpeakerAgent); !ok {
		t.Error("agent partial should remain open")
	}
}

func TestFinalize_NoOpenPartialIsNoop(t *testing.T) {
	log := transcript.NewLog(nil)
	log.Finalize(transcript.SpeakerCaller)
	log.FinalizeAll()
	if log.Len() != 0 {
		t.Error("finalizing an empty log created messages")
	}
}

func TestOnUpdateCallback(t *testing.T) {
	var mu sync.Mutex
	var updates []transcript.Message
	log := transcript.NewLog(func(m transcript.Message) {
		mu.Lock()
		updates = append(updates, m)
		mu.Unlock()
	})

	log.UpdatePartial(transcript.SpeakerAgent, "Hi")
	log.UpdatePartial(transcript.SpeakerAgent, "Hi there")
	log.FinalizeAll()

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 3 {
		t.Fatalf("got %d callbacks; want 3", len(updates))
	}
	if updates[1].Text != "Hi there" || updates[1].Final {
		t.Errorf("second callback = %+v", updates[1])
	}
	if !updates[2].Final {
		t.Errorf("finalize callback = %+v", updates[2])
	}
}
