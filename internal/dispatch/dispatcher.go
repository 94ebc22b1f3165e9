// Package dispatch routes agent tool invocations to registered handlers.
//
// The registry is closed at construction: the set of handlers is exactly the
// set of tool definitions advertised to the agent, and it cannot drift during
// a session. Every invocation is answered exactly once. Unknown tool names
// get a structured error result instead of silence, so the agent can recover
// conversationally rather than hang waiting for a reply.
//
// A handler may carry a side effect that tears down the session (ending the
// call, transferring to a human). The result is always delivered to the agent
// before such a side effect runs, so the agent can speak a closing line.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxhall/voxhall/pkg/agent"
)

// Responder receives tool results. Satisfied by agent.SessionHandle.
type Responder interface {
	SendToolResult(callID, name string, result map[string]any) error
}

// Outcome is what a handler produces for one invocation.
type Outcome struct {
	// Payload is the structured result returned to the agent.
	Payload map[string]any

	// After, if non-nil, runs after Payload has been delivered. Session
	// teardown triggered by the tool belongs here.
	After func()
}

// Handler implements one tool.
type Handler interface {
	// Definition describes the tool as advertised to the agent.
	Definition() agent.ToolDefinition

	// Invoke executes the tool. A returned error is converted into a
	// structured error payload for the agent; it does not end the session.
	Invoke(ctx context.Context, args map[string]any) (Outcome, error)
}

// Func adapts a function plus definition into a Handler.
type Func struct {
	Def agent.ToolDefinition
	Fn  func(ctx context.Context, args map[string]any) (Outcome, error)
}

// Definition returns the tool definition.
func (f Func) Definition() agent.ToolDefinition { return f.Def }

// Invoke calls the wrapped function.
func (f Func) Invoke(ctx context.Context, args map[string]any) (Outcome, error) {
	return f.Fn(ctx, args)
}

// Dispatcher owns the closed handler registry.
type Dispatcher struct {
	handlers map[string]Handler
	order    []string
	log      *slog.Logger
}

// New creates a Dispatcher over the given handlers. Duplicate tool names are
// rejected.
func New(log *slog.Logger, handlers ...Handler) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler, len(handlers)),
		log:      log,
	}
	for _, h := range handlers {
		name := h.Definition().Name
		if name == "" {
			return nil, fmt.Errorf("dispatch: handler with empty tool name")
		}
		if _, dup := d.handlers[name]; dup {
			return nil, fmt.Errorf("dispatch: duplicate tool %q", name)
		}
		d.handlers[name] = h
		d.order = append(d.order, name)
	}
	return d, nil
}

// Definitions returns the advertised tool definitions in registration order.
func (d *Dispatcher) Definitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.handlers[name].Definition())
	}
	return defs
}

// Dispatch executes one invocation and answers it through responder. The
// returned error reports a failed result delivery only; handler failures are
// folded into the result payload.
func (d *Dispatcher) Dispatch(ctx context.Context, responder Responder, inv agent.ToolInvocation) error {
	h, ok := d.handlers[inv.Name]
	if !ok {
		d.log.Warn("unknown tool invoked", "tool", inv.Name, "call_id", inv.CallID)
		return responder.SendToolResult(inv.CallID, inv.Name, map[string]any{
			"error": fmt.Sprintf("tool %q not found", inv.Name),
		})
	}

	out, err := h.Invoke(ctx, inv.Args)
	if err != nil {
		d.log.Warn("tool failed", "tool", inv.Name, "call_id", inv.CallID, "error", err)
		return responder.SendToolResult(inv.CallID, inv.Name, map[string]any{
			"error": err.Error(),
		})
	}

	payload := out.Payload
	if payload == nil {
		payload = map[string]any{"status": "ok"}
	}
	if err := responder.SendToolResult(inv.CallID, inv.Name, payload); err != nil {
		return fmt.Errorf("dispatch: deliver result for %q: %w", inv.Name, err)
	}

	// The agent has the result; only now may the tool tear anything down.
	if out.After != nil {
		out.After()
	}
	return nil
}
