// Package openai implements the agent.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Caller audio is transmitted as base64-encoded PCM16 chunks; server traffic
// (synthesised audio, transcription updates, turn boundaries, tool calls) is
// surfaced as agent events in arrival order.
//
// The Realtime API streams transcripts as incremental fragments. Agent events
// carry the full updated partial instead, so this package accumulates the
// fragments per turn and re-emits the running text on every delta.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxhall/voxhall/pkg/agent"
)

// Compile-time assertions that Provider and session satisfy the agent interfaces.
var _ agent.Provider = (*Provider)(nil)
var _ agent.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// OutputSampleRate is the fixed rate of synthesised pcm16 audio from the
	// Realtime API.
	OutputSampleRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements agent.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The session.update message is sent immediately; EventOpen is
// delivered when the server acknowledges session creation.
func (p *Provider) Connect(ctx context.Context, cfg agent.Config) (agent.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan agent.Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string           `json:"modalities,omitempty"`
	Voice             string             `json:"voice,omitempty"`
	Instructions      string             `json:"instructions,omitempty"`
	Tools             []oaiTool          `json:"tools,omitempty"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	InputTranscription *transcriptionCfg `json:"input_audio_transcription,omitempty"`
}

type transcriptionCfg struct {
	Model string `json:"model"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan agent.Event

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	// inText and outText accumulate transcript fragments for the current turn
	// so each emitted delta carries the full partial.
	inText  string
	outText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, tools, transcription and
// audio formats via a session.update event.
func (s *session) sendSessionUpdate(cfg agent.Config) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	switch cfg.OutputModality {
	case agent.ModalityText:
		params.Modalities = []string{"text"}
	default:
		params.Modalities = []string{"audio", "text"}
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.SystemPrompt != "" {
		params.Instructions = cfg.SystemPrompt
	}
	if cfg.InputTranscription {
		params.InputTranscription = &transcriptionCfg{Model: "whisper-1"}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = make([]oaiTool, len(cfg.Tools))
		for i, t := range cfg.Tools {
			params.Tools[i] = oaiTool{
				Type:        "function",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// emit delivers an event in arrival order. It gives up when the session
// context is cancelled so that a slow consumer cannot wedge Close.
func (s *session) emit(evt agent.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel: it emits the terminal event and closes the
// channel when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			s.emit(agent.Event{Type: agent.EventError, Err: err})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue // skip malformed frames
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		s.emit(agent.Event{Type: agent.EventOpen})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.emit(agent.Event{
			Type:       agent.EventAudioChunk,
			Audio:      audioData,
			SampleRate: OutputSampleRate,
			Channels:   1,
		})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.inText += evt.Delta
		text := s.inText
		s.mu.Unlock()
		s.emit(agent.Event{Type: agent.EventInputTranscriptDelta, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.mu.Lock()
		s.inText = ""
		s.mu.Unlock()
		s.emit(agent.Event{Type: agent.EventInputTranscriptDelta, Text: evt.Transcript})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.outText += evt.Delta
		text := s.outText
		s.mu.Unlock()
		s.emit(agent.Event{Type: agent.EventOutputTranscriptDelta, Text: text})

	case "response.done":
		s.mu.Lock()
		s.inText = ""
		s.outText = ""
		s.mu.Unlock()
		s.emit(agent.Event{Type: agent.EventTurnComplete})

	case "input_audio_buffer.speech_started":
		// The server detected the caller speaking while a response may still be
		// streaming; buffered playback must be flushed.
		s.emit(agent.Event{Type: agent.EventInterrupted})

	case "response.function_call_arguments.done":
		args := map[string]any{}
		if evt.Arguments != "" {
			_ = json.Unmarshal([]byte(evt.Arguments), &args)
		}
		s.emit(agent.Event{
			Type: agent.EventToolInvocation,
			Tool: &agent.ToolInvocation{
				Name:   evt.Name,
				Args:   args,
				CallID: evt.CallID,
			},
		})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(agent.Event{Type: agent.EventError, Err: fmt.Errorf("openai: %s", msg)})
	}
}

// keepaliveLoop sends WebSocket pings to keep the Realtime connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		select {
		case s.events <- agent.Event{Type: agent.EventClosed}:
		default:
		}
		close(s.events)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers one raw PCM16LE mono chunk to the model. The Realtime API
// fixes the input rate in the session configuration, so sampleRate is accepted
// for interface compatibility but not transmitted per chunk.
func (s *session) SendAudio(chunk []byte, sampleRate int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// SendToolResult answers a tool invocation with a function_call_output item
// and requests the follow-up model response.
func (s *session) SendToolResult(callID, name string, result map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("openai: marshal tool result: %w", err)
	}
	msg := createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(payload),
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the ordered inbound event stream.
func (s *session) Events() <-chan agent.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
