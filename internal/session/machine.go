// Package session orchestrates one voice conversation: it owns the duplex
// agent connection, the capture pipeline, the playback scheduler, the
// transcript log and the tool dispatcher, and drives them through a single
// lifecycle state machine.
//
// All inbound traffic — agent events, end-of-turn signals from the turn
// detector, manual commands — is funnelled into one event loop goroutine, so
// every state change happens at a single arbitration point and never races
// with another. Components report to the machine; only the machine mutates
// lifecycle state.
//
// A Machine is one-shot: after it reaches Closed or Error a new Machine must
// be created for the next conversation. At most one conversation is active
// per Machine by construction.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxhall/voxhall/internal/caller"
	"github.com/voxhall/voxhall/internal/capture"
	"github.com/voxhall/voxhall/internal/dispatch"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/playback"
	"github.com/voxhall/voxhall/internal/transcript"
	"github.com/voxhall/voxhall/internal/turndetect"
	"github.com/voxhall/voxhall/pkg/agent"
	"github.com/voxhall/voxhall/pkg/pcm"
)

// ErrResponseTimeout is recorded when the agent never answers a completed
// caller turn within the configured window.
var ErrResponseTimeout = errors.New("session: no agent response before timeout")

// DefaultResponseTimeout bounds how long a completed caller turn may wait for
// the agent's reply.
const DefaultResponseTimeout = 30 * time.Second

// ── State ─────────────────────────────────────────────────────────────────────

// State is the session lifecycle state.
type State int

const (
	// StateIdle is the initial state; nothing is connected.
	StateIdle State = iota

	// StateConnecting covers the duplex handshake.
	StateConnecting

	// StateListening means the microphone is open and caller audio streams out.
	StateListening

	// StateProcessing means the caller finished a turn and the machine awaits
	// the agent's reply; the capture device is released.
	StateProcessing

	// StateResponding means agent audio is being scheduled or has finished and
	// the machine awaits a manual (or configured automatic) re-listen.
	StateResponding

	// StateClosing covers manual teardown.
	StateClosing

	// StateClosed is terminal after a clean shutdown.
	StateClosed

	// StateError is terminal after a fatal failure; resources are released.
	StateError
)

// String returns the state name for logging and status display.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ── Configuration ─────────────────────────────────────────────────────────────

// Config carries the per-conversation settings.
type Config struct {
	// Voice is the provider voice identifier.
	Voice string

	// SystemPrompt is the agent persona. Caller metadata is appended to it.
	SystemPrompt string

	// Caller is the metadata collected before the conversation.
	Caller caller.Info

	// InputTranscription and OutputTranscription enable the incremental
	// transcript streams.
	InputTranscription  bool
	OutputTranscription bool

	// ResponseTimeout bounds the Processing state. Zero selects
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// AutoRelisten reopens the microphone as soon as the agent's turn
	// completes. When false the machine stays in Responding until Relisten
	// is called.
	AutoRelisten bool
}

// Params wires a Machine to its collaborators.
type Params struct {
	// Provider opens the agent session.
	Provider agent.Provider

	// NewSource opens a fresh capture device. Called once per listening
	// segment; the previous source is fully stopped before the next is
	// created.
	NewSource func() (capture.Source, error)

	// Playback schedules inbound audio.
	Playback *playback.Scheduler

	// Dispatcher answers tool invocations. Its definitions are advertised to
	// the agent at connect time.
	Dispatcher *dispatch.Dispatcher

	// Transcript receives transcription updates.
	Transcript *transcript.Log

	// Detector overrides the default turn detector. Optional.
	Detector *turndetect.Detector

	// Metrics records instrumentation. Optional.
	Metrics *observe.Metrics

	// Log is the structured logger. Optional.
	Log *slog.Logger

	Config Config
}

// ── Machine ───────────────────────────────────────────────────────────────────

type command int

const (
	cmdEndOfTurn command = iota
	cmdRelisten
)

// Machine is the session state machine. Public methods are safe for
// concurrent use.
type Machine struct {
	id         uuid.UUID
	provider   agent.Provider
	newSource  func() (capture.Source, error)
	playback   *playback.Scheduler
	dispatcher *dispatch.Dispatcher
	transcript *transcript.Log
	detector   *turndetect.Detector
	metrics    *observe.Metrics
	log        *slog.Logger
	cfg        Config

	cmds      chan command
	loopDone  chan struct{}
	closeReq  chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	errVal    error
	handle    agent.SessionHandle
	pipeline  *capture.Pipeline
	turnEnded time.Time // set on end-of-turn, cleared by first agent activity
}

// New creates a Machine in the Idle state.
func New(p Params) (*Machine, error) {
	if p.Provider == nil || p.NewSource == nil || p.Playback == nil ||
		p.Dispatcher == nil || p.Transcript == nil {
		return nil, fmt.Errorf("session: missing required collaborator")
	}
	if p.Detector == nil {
		p.Detector = turndetect.New(turndetect.Config{})
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Config.ResponseTimeout <= 0 {
		p.Config.ResponseTimeout = DefaultResponseTimeout
	}

	id := uuid.New()
	return &Machine{
		id:         id,
		provider:   p.Provider,
		newSource:  p.NewSource,
		playback:   p.Playback,
		dispatcher: p.Dispatcher,
		transcript: p.Transcript,
		detector:   p.Detector,
		metrics:    p.Metrics,
		log:        p.Log.With("session_id", id.String()),
		cfg:        p.Config,
		cmds:       make(chan command, 8),
		loopDone:   make(chan struct{}),
		closeReq:   make(chan struct{}),
		state:      StateIdle,
	}, nil
}

// ID returns the session identity.
func (m *Machine) ID() uuid.UUID { return m.id }

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that terminated the session, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errVal
}

// Transcript returns a snapshot of the conversation so far.
func (m *Machine) Transcript() []transcript.Message {
	return m.transcript.Messages()
}

// setState transitions the lifecycle state and records the edge.
func (m *Machine) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.log.Info("session state", "from", from.String(), "to", to.String())
	if m.metrics != nil {
		m.metrics.RecordTransition(context.Background(), from.String(), to.String())
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start connects to the agent, opens the capture device and launches the
// event loop. On failure every partially acquired resource is released and
// the machine returns to Idle so the caller may retry.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("session: start from %s", state)
	}
	m.mu.Unlock()
	m.setState(StateConnecting)

	acfg := agent.Config{
		OutputModality:      agent.ModalityAudio,
		Voice:               m.cfg.Voice,
		SystemPrompt:        caller.BuildPrompt(m.cfg.SystemPrompt, m.cfg.Caller),
		InputTranscription:  m.cfg.InputTranscription,
		OutputTranscription: m.cfg.OutputTranscription,
		Tools:               m.dispatcher.Definitions(),
	}

	handle, err := m.provider.Connect(ctx, acfg)
	if err != nil {
		if m.stopRequested() {
			m.setState(StateClosed)
			return fmt.Errorf("session: stopped during connect")
		}
		m.recordErr(fmt.Errorf("session: connect: %w", err))
		m.setState(StateError)
		m.setState(StateIdle)
		return fmt.Errorf("session: connect: %w", err)
	}

	// Stop may have arrived while the handshake was in flight; the connection
	// must not outlive the stop.
	if m.stopRequested() {
		_ = handle.Close()
		m.setState(StateClosed)
		return fmt.Errorf("session: stopped during connect")
	}

	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()

	if err := m.startCapture(); err != nil {
		_ = handle.Close()
		m.mu.Lock()
		m.handle = nil
		m.mu.Unlock()
		m.recordErr(err)
		m.setState(StateError)
		m.setState(StateIdle)
		return err
	}

	if m.stopRequested() {
		m.stopCapture()
		m.mu.Lock()
		m.handle = nil
		m.mu.Unlock()
		_ = handle.Close()
		m.setState(StateClosed)
		return fmt.Errorf("session: stopped during connect")
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.setState(StateListening)
	go m.run()
	return nil
}

// stopRequested reports whether Stop or RequestClose has been called.
func (m *Machine) stopRequested() bool {
	select {
	case <-m.closeReq:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event loop has exited. It only ever
// closes after a successful Start.
func (m *Machine) Done() <-chan struct{} { return m.loopDone }

// Stop tears the session down. Safe from any state; a second call is a no-op.
func (m *Machine) Stop() error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateConnecting:
		// An in-flight Start observes the close request and releases whatever
		// the handshake acquired before it parks in Closed.
		m.state = StateClosed
		m.mu.Unlock()
		m.requestStop()
		return nil
	case StateClosed, StateError:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.requestStop()
	<-m.loopDone
	return nil
}

// requestStop signals the close request exactly once. The event loop always
// selects on it, so the signal cannot be lost to command-queue backpressure.
func (m *Machine) requestStop() {
	m.closeOnce.Do(func() { close(m.closeReq) })
}

// Relisten reopens the microphone after the agent's reply has finished.
func (m *Machine) Relisten() error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != StateResponding {
		return fmt.Errorf("session: relisten from %s", state)
	}
	select {
	case m.cmds <- cmdRelisten:
		return nil
	default:
		return fmt.Errorf("session: command queue full")
	}
}

// RequestClose asks the event loop to perform a clean Closing transition. It
// is the teardown hook handed to session-ending tools and never blocks, so
// it is safe to call from inside the loop itself.
func (m *Machine) RequestClose() {
	m.requestStop()
}

func (m *Machine) recordErr(err error) {
	m.mu.Lock()
	if m.errVal == nil {
		m.errVal = err
	}
	m.mu.Unlock()
}

// ── Capture ───────────────────────────────────────────────────────────────────

// startCapture opens a fresh source and pipeline for one listening segment.
func (m *Machine) startCapture() error {
	source, err := m.newSource()
	if err != nil {
		return fmt.Errorf("session: open capture device: %w", err)
	}

	m.detector.Reset()
	observer := func(frame []float32, now time.Time) {
		if m.detector.Observe(frame, now) != turndetect.EndOfTurn {
			return
		}
		select {
		case m.cmds <- cmdEndOfTurn:
		default:
			m.log.Warn("command queue full, end-of-turn delayed")
		}
	}

	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	pipeline := capture.New(source, handle, m.log, capture.WithObserver(observer))
	if err := pipeline.Start(); err != nil {
		return fmt.Errorf("session: start capture: %w", err)
	}

	m.mu.Lock()
	m.pipeline = pipeline
	m.mu.Unlock()
	return nil
}

// stopCapture releases the device. Idempotent.
func (m *Machine) stopCapture() {
	m.mu.Lock()
	pipeline := m.pipeline
	m.pipeline = nil
	m.mu.Unlock()
	if pipeline == nil {
		return
	}
	if err := pipeline.Stop(); err != nil {
		m.log.Warn("capture stop failed", "error", err)
	}
	if m.metrics != nil {
		m.metrics.FramesCaptured.Add(context.Background(), pipeline.FramesCaptured())
	}
}

// ── Event loop ────────────────────────────────────────────────────────────────

// run is the single arbitration point for every state change after Start.
func (m *Machine) run() {
	defer close(m.loopDone)

	respTimer := time.NewTimer(time.Hour)
	if !respTimer.Stop() {
		<-respTimer.C
	}
	timerActive := false
	armTimer := func() {
		if timerActive && !respTimer.Stop() {
			<-respTimer.C
		}
		respTimer.Reset(m.cfg.ResponseTimeout)
		timerActive = true
	}
	disarmTimer := func() {
		if timerActive && !respTimer.Stop() {
			<-respTimer.C
		}
		timerActive = false
	}
	defer disarmTimer()

	m.mu.Lock()
	events := m.handle.Events()
	m.mu.Unlock()

	for {
		select {
		case <-m.closeReq:
			m.setState(StateClosing)
			m.teardown(StateClosed, nil)
			return

		case evt, ok := <-events:
			if !ok {
				// Remote closed without a terminal event.
				m.teardown(StateClosed, nil)
				return
			}
			done, final, err := m.handleEvent(evt, armTimer, disarmTimer)
			if done {
				m.teardown(final, err)
				return
			}

		case cmd := <-m.cmds:
			switch cmd {
			case cmdEndOfTurn:
				if m.State() != StateListening {
					continue
				}
				m.stopCapture()
				m.mu.Lock()
				m.turnEnded = time.Now()
				m.mu.Unlock()
				armTimer()
				m.setState(StateProcessing)

			case cmdRelisten:
				if m.State() != StateResponding {
					continue
				}
				if err := m.startCapture(); err != nil {
					m.teardown(StateError, err)
					return
				}
				m.setState(StateListening)
			}

		case <-respTimer.C:
			timerActive = false
			if m.State() == StateProcessing {
				m.teardown(StateError, ErrResponseTimeout)
				return
			}
		}
	}
}

// handleEvent processes one agent event. It returns done=true when the loop
// must exit, with the terminal state and error to record.
func (m *Machine) handleEvent(evt agent.Event, armTimer, disarmTimer func()) (done bool, final State, err error) {
	switch evt.Type {
	case agent.EventOpen:
		m.log.Debug("agent session open")

	case agent.EventAudioChunk:
		m.onAgentActivity(disarmTimer)
		samples, derr := pcm.DecodeBytes(evt.Audio, evt.Channels)
		if derr != nil {
			m.log.Warn("dropping malformed audio chunk", "error", derr)
			if m.metrics != nil {
				m.metrics.DecodeErrors.Add(context.Background(), 1)
			}
			return false, 0, nil
		}
		if _, serr := m.playback.Schedule(samples, evt.SampleRate); serr != nil {
			m.log.Warn("playback schedule failed", "error", serr)
			return false, 0, nil
		}
		if m.metrics != nil {
			seconds := float64(len(samples)) / float64(evt.SampleRate)
			m.metrics.AudioScheduled.Add(context.Background(), seconds)
		}

	case agent.EventInputTranscriptDelta:
		m.onAgentActivity(disarmTimer)
		m.transcript.UpdatePartial(transcript.SpeakerCaller, evt.Text)

	case agent.EventOutputTranscriptDelta:
		m.onAgentActivity(disarmTimer)
		m.transcript.UpdatePartial(transcript.SpeakerAgent, evt.Text)

	case agent.EventTurnComplete:
		// The turn is answered even if it carried no audio or transcript
		// (e.g. a tool-only reply); the response timer must not fire for it.
		m.onAgentActivity(disarmTimer)
		m.transcript.FinalizeAll()
		if m.cfg.AutoRelisten {
			state := m.State()
			if state == StateResponding || state == StateProcessing {
				if cerr := m.startCapture(); cerr != nil {
					return true, StateError, cerr
				}
				m.setState(StateListening)
			}
		}

	case agent.EventInterrupted:
		// Flush only; finalized transcripts and lifecycle state are retained.
		m.playback.Interrupt()
		if m.metrics != nil {
			m.metrics.Interruptions.Add(context.Background(), 1)
		}

	case agent.EventToolInvocation:
		if evt.Tool == nil {
			return false, 0, nil
		}
		m.mu.Lock()
		handle := m.handle
		m.mu.Unlock()
		status := "ok"
		if derr := m.dispatcher.Dispatch(context.Background(), handle, *evt.Tool); derr != nil {
			status = "error"
			m.log.Error("tool dispatch failed", "tool", evt.Tool.Name, "error", derr)
		}
		if m.metrics != nil {
			m.metrics.RecordToolCall(context.Background(), evt.Tool.Name, status)
		}

	case agent.EventError:
		return true, StateError, evt.Err

	case agent.EventClosed:
		return true, StateClosed, nil
	}
	return false, 0, nil
}

// onAgentActivity marks the transition into Responding on the first inbound
// audio or transcript of a reply, and records the turn latency.
func (m *Machine) onAgentActivity(disarmTimer func()) {
	disarmTimer()

	m.mu.Lock()
	turnEnded := m.turnEnded
	m.turnEnded = time.Time{}
	m.mu.Unlock()

	if !turnEnded.IsZero() && m.metrics != nil {
		m.metrics.TurnLatency.Record(context.Background(), time.Since(turnEnded).Seconds())
	}

	if m.State() == StateProcessing {
		m.setState(StateResponding)
	}
}

// teardown releases every resource and parks the machine in its terminal
// state. Capture and connection go down together; afterwards no device
// handle is open and no send is pending.
func (m *Machine) teardown(final State, err error) {
	m.stopCapture()
	m.playback.Interrupt()

	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.mu.Unlock()
	if handle != nil {
		if cerr := handle.Close(); cerr != nil {
			m.log.Warn("agent session close failed", "error", cerr)
		}
	}

	if err != nil {
		m.recordErr(err)
		m.log.Error("session terminated", "error", err)
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	m.setState(final)
}
