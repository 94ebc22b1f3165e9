// Package agent defines the Provider interface for realtime conversational
// agent backends.
//
// An agent provider wraps a duplex voice AI service that accepts streamed
// caller audio and returns synthesised speech, incremental transcripts, and
// structured tool invocations over a single stateful session. Examples include
// the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: outbound traffic flows through
// SendAudio and SendToolResult; everything inbound is surfaced as a single
// ordered stream of [Event] values. Funnelling all inbound traffic through one
// event channel lets the session layer dispatch every state change through a
// single arbitration point, which keeps lifecycle transitions testable without
// a live connection.
//
// All implementations must be safe for concurrent use.
package agent

import "context"

// Modality selects the agent's response medium.
type Modality string

const (
	// ModalityAudio requests synthesised speech responses.
	ModalityAudio Modality = "audio"

	// ModalityText requests plain-text responses.
	ModalityText Modality = "text"
)

// ToolDefinition declares a function the remote agent may invoke during the
// conversation. Parameters is a JSON-schema-shaped argument description in the
// provider's native format.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Config is the initial configuration for a new agent session.
type Config struct {
	// OutputModality selects audio or text responses.
	OutputModality Modality

	// Voice is the provider-specific voice identifier for synthesised speech.
	Voice string

	// SystemPrompt defines the agent's persona and behavioural constraints,
	// including any caller metadata collected before the session started.
	SystemPrompt string

	// InputTranscription enables incremental transcripts of the caller's speech.
	InputTranscription bool

	// OutputTranscription enables incremental transcripts of the agent's speech.
	OutputTranscription bool

	// Tools is the set of tool definitions offered to the agent for the
	// lifetime of the session.
	Tools []ToolDefinition
}

// EventType enumerates the inbound events a session can deliver.
type EventType int

const (
	// EventOpen signals that the session handshake completed and the handle is
	// ready to accept audio.
	EventOpen EventType = iota

	// EventAudioChunk carries a synthesised speech chunk (raw PCM16LE bytes).
	EventAudioChunk

	// EventInputTranscriptDelta carries the full updated partial transcript of
	// the caller's current utterance. Each delta replaces the previous partial
	// for the same turn; it is not an increment.
	EventInputTranscriptDelta

	// EventOutputTranscriptDelta carries the full updated partial transcript
	// of the agent's current response. Replace semantics as above.
	EventOutputTranscriptDelta

	// EventTurnComplete signals that the agent finished its response turn and
	// all partial transcripts for the turn are final.
	EventTurnComplete

	// EventInterrupted signals that the agent detected the caller speaking
	// mid-response (barge-in); buffered playback must be flushed immediately.
	EventInterrupted

	// EventToolInvocation carries a structured function call that must be
	// answered via [SessionHandle.SendToolResult].
	EventToolInvocation

	// EventError carries a fatal transport or protocol error. The session is
	// unusable afterwards.
	EventError

	// EventClosed signals that the remote side closed the session. It is the
	// last event delivered before the event channel closes.
	EventClosed
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventAudioChunk:
		return "audio_chunk"
	case EventInputTranscriptDelta:
		return "input_transcript_delta"
	case EventOutputTranscriptDelta:
		return "output_transcript_delta"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventToolInvocation:
		return "tool_invocation"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// ToolInvocation is a structured function call issued by the remote agent.
// It is paired 1:1 with a result delivered via [SessionHandle.SendToolResult]
// carrying the same CallID.
type ToolInvocation struct {
	Name   string
	Args   map[string]any
	CallID string
}

// Event is a single inbound session event. Exactly the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	// Audio holds raw PCM16LE bytes for EventAudioChunk, together with its
	// format. SampleRate and Channels describe how the bytes must be decoded.
	Audio      []byte
	SampleRate int
	Channels   int

	// Text holds the full partial transcript for transcript delta events.
	Text string

	// Tool holds the invocation for EventToolInvocation.
	Tool *ToolInvocation

	// Err holds the failure for EventError.
	Err error
}

// SessionHandle represents an open duplex agent session. It is an interface so
// that test code can supply scripted implementations without a live provider
// connection.
//
// The session is the hot path of the voice pipeline — every method must return
// quickly. Inbound traffic is channel-based so the caller's audio path is
// never blocked by network reads. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded caller-audio chunk to the agent. Chunks
	// must be sent in capture order. Returns an error if the session is
	// closed or the transport rejects the write.
	SendAudio(chunk []byte, sampleRate int) error

	// SendToolResult answers a tool invocation. callID must match the
	// invocation's CallID; result is the structured payload returned to the
	// agent. The result must be delivered before any session-closing side
	// effect of the invoked action takes place.
	SendToolResult(callID, name string, result map[string]any) error

	// Events returns the ordered inbound event stream. The channel is closed
	// after the final EventClosed (or EventError) is delivered. Consumers must
	// drain it promptly to prevent backpressure from stalling the provider's
	// receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Valid after the Events channel closes.
	Err() error

	// Close terminates the session and releases the connection. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime agent backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept audio as soon as EventOpen is
	// delivered. The caller owns the handle and must call Close.
	Connect(ctx context.Context, cfg Config) (SessionHandle, error)
}
