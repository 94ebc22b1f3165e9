// Package transcript maintains the running conversation transcript.
//
// Each speaker has at most one non-final message at a time: incremental
// transcription updates replace that message's text in place rather than
// appending new entries, so the UI renders a single growing bubble per
// utterance. When a turn completes, every open partial is finalized in one
// atomic step; the next update for that speaker starts a fresh message.
//
// Empty updates are ignored so the transcript never contains blank bubbles.
package transcript

import (
	"sync"
	"time"
)

// Speaker identifies who produced a message.
type Speaker string

const (
	// SpeakerCaller is the human on the microphone.
	SpeakerCaller Speaker = "caller"

	// SpeakerAgent is the remote voice agent.
	SpeakerAgent Speaker = "agent"
)

// Message is one transcript entry. Seq increases monotonically in creation
// order and never changes once assigned, so a partial keeps its position in
// the conversation while its text grows.
type Message struct {
	Seq       int64
	Speaker   Speaker
	Text      string
	Final     bool
	UpdatedAt time.Time
}

// UpdateFunc observes transcript changes. It is invoked with a snapshot of
// the changed message while no internal lock is held.
type UpdateFunc func(Message)

// Log is the transcript store. It is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	messages []Message
	open     map[Speaker]int // index into messages of the speaker's partial
	nextSeq  int64
	onUpdate UpdateFunc
	now      func() time.Time
}

// NewLog creates an empty transcript log. onUpdate may be nil.
func NewLog(onUpdate UpdateFunc) *Log {
	return &Log{
		open:     make(map[Speaker]int),
		onUpdate: onUpdate,
		now:      time.Now,
	}
}

// UpdatePartial replaces the speaker's open partial with text, creating the
// message if none is open. text carries the full utterance so far, not an
// increment. Empty text is ignored.
func (l *Log) UpdatePartial(speaker Speaker, text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	var msg Message
	if idx, ok := l.open[speaker]; ok {
		l.messages[idx].Text = text
		l.messages[idx].UpdatedAt = l.now()
		msg = l.messages[idx]
	} else {
		msg = Message{
			Seq:       l.nextSeq,
			Speaker:   speaker,
			Text:      text,
			UpdatedAt: l.now(),
		}
		l.nextSeq++
		l.open[speaker] = len(l.messages)
		l.messages = append(l.messages, msg)
	}
	cb := l.onUpdate
	l.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// Finalize closes the speaker's open partial, if any. Subsequent updates for
// the speaker start a new message.
func (l *Log) Finalize(speaker Speaker) {
	l.mu.Lock()
	finalized, ok := l.finalizeLocked(speaker)
	cb := l.onUpdate
	l.mu.Unlock()

	if ok && cb != nil {
		cb(finalized)
	}
}

// FinalizeAll closes every open partial in one atomic step. A reader can
// never observe one speaker's partial finalized while another's is still
// open from the same turn boundary.
func (l *Log) FinalizeAll() {
	l.mu.Lock()
	var finalized []Message
	for speaker := range l.open {
		if msg, ok := l.finalizeLocked(speaker); ok {
			finalized = append(finalized, msg)
		}
	}
	cb := l.onUpdate
	l.mu.Unlock()

	if cb != nil {
		for _, msg := range finalized {
			cb(msg)
		}
	}
}

func (l *Log) finalizeLocked(speaker Speaker) (Message, bool) {
	idx, ok := l.open[speaker]
	if !ok {
		return Message{}, false
	}
	delete(l.open, speaker)
	l.messages[idx].Final = true
	l.messages[idx].UpdatedAt = l.now()
	return l.messages[idx], true
}

// Partial returns the speaker's open partial, if one exists.
func (l *Log) Partial(speaker Speaker) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.open[speaker]
	if !ok {
		return Message{}, false
	}
	return l.messages[idx], true
}

// Messages returns a snapshot of the transcript in conversation order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

// Len returns the number of messages, final and partial.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
