// Package mock provides a scripted in-memory agent.Provider for tests.
//
// A mock session records everything sent to it and lets the test emit inbound
// events on demand, so session and pipeline logic can be exercised without a
// network connection.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxhall/voxhall/pkg/agent"
)

// Compile-time assertions that Provider and Session satisfy the agent interfaces.
var _ agent.Provider = (*Provider)(nil)
var _ agent.SessionHandle = (*Session)(nil)

// Provider is a scripted agent.Provider. Each Connect returns a fresh Session
// and records the configuration it was given.
type Provider struct {
	mu       sync.Mutex
	sessions []*Session
	configs  []agent.Config

	// ConnectErr, when non-nil, is returned by Connect instead of a session.
	ConnectErr error

	// OpenOnConnect controls whether Connect immediately queues an EventOpen
	// on the new session. Defaults to true via New.
	OpenOnConnect bool
}

// New creates a mock Provider that emits EventOpen on every Connect.
func New() *Provider {
	return &Provider{OpenOnConnect: true}
}

// Connect returns a new scripted session.
func (p *Provider) Connect(ctx context.Context, cfg agent.Config) (agent.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := newSession()
	p.sessions = append(p.sessions, sess)
	p.configs = append(p.configs, cfg)
	if p.OpenOnConnect {
		sess.Emit(agent.Event{Type: agent.EventOpen})
	}
	return sess, nil
}

// Sessions returns all sessions created so far, in connect order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Configs returns the configurations passed to Connect, in connect order.
func (p *Provider) Configs() []agent.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]agent.Config(nil), p.configs...)
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// AudioSend records one SendAudio call.
type AudioSend struct {
	Chunk      []byte
	SampleRate int
}

// ToolResult records one SendToolResult call.
type ToolResult struct {
	CallID string
	Name   string
	Result map[string]any
}

// Session is a scripted agent.SessionHandle.
type Session struct {
	mu          sync.Mutex
	events      chan agent.Event
	audioSends  []AudioSend
	toolResults []ToolResult
	errVal      error
	closed      bool
	closeOnce   sync.Once

	// SendAudioErr, when non-nil, is returned by every SendAudio call.
	SendAudioErr error
}

func newSession() *Session {
	return &Session{events: make(chan agent.Event, 256)}
}

// Emit queues an inbound event for the consumer. Emitting on a closed session
// is a no-op so scripted goroutines can race Close safely.
func (s *Session) Emit(evt agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- evt
}

// Fail records err, emits EventError and closes the event stream, simulating
// a fatal transport failure.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.errVal = err
	s.closed = true
	s.sendTerminal(agent.Event{Type: agent.EventError, Err: err})
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
}

// sendTerminal queues the terminal event without blocking. When the consumer
// has stopped draining, the closed channel itself signals termination.
func (s *Session) sendTerminal(evt agent.Event) {
	select {
	case s.events <- evt:
	default:
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audioSends = append(s.audioSends, AudioSend{
		Chunk:      append([]byte(nil), chunk...),
		SampleRate: sampleRate,
	})
	return nil
}

// SendToolResult records the result.
func (s *Session) SendToolResult(callID, name string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	s.toolResults = append(s.toolResults, ToolResult{CallID: callID, Name: name, Result: result})
	return nil
}

// AudioSends returns the recorded SendAudio calls in order.
func (s *Session) AudioSends() []AudioSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AudioSend(nil), s.audioSends...)
}

// ToolResults returns the recorded SendToolResult calls in order.
func (s *Session) ToolResults() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolResult(nil), s.toolResults...)
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan agent.Event { return s.events }

// Err returns the recorded fatal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Closed reports whether Close or Fail has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session closed and closes the event stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sendTerminal(agent.Event{Type: agent.EventClosed})
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}
