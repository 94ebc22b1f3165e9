package dispatch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/voxhall/voxhall/internal/directory"
	"github.com/voxhall/voxhall/internal/dispatch"
	"github.com/voxhall/voxhall/pkg/agent"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type sentResult struct {
	callID string
	name   string
	result map[string]any
}

type fakeResponder struct {
	mu      sync.Mutex
	sent    []sentResult
	sendErr error

	// onSend runs inside SendToolResult, used to assert ordering against
	// side effects.
	onSend func()
}

func (f *fakeResponder) SendToolResult(callID, name string, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentResult{callID: callID, name: name, result: result})
	return nil
}

func (f *fakeResponder) results() []sentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentResult(nil), f.sent...)
}

func echoHandler(name string) dispatch.Handler {
	return dispatch.Func{
		Def: agent.ToolDefinition{Name: name, Description: "echoes args"},
		Fn: func(_ context.Context, args map[string]any) (dispatch.Outcome, error) {
			return dispatch.Outcome{Payload: map[string]any{"echo": args["v"]}}, nil
		},
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := dispatch.New(nil, echoHandler("a"), echoHandler("a"))
	if err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
}

func TestDefinitions_RegistrationOrder(t *testing.T) {
	d, err := dispatch.New(nil, echoHandler("b"), echoHandler("a"), echoHandler("c"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defs := d.Definitions()
	want := []string{"b", "a", "c"}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("definition %d = %q; want %q", i, def.Name, want[i])
		}
	}
}

// ── Dispatch ──────────────────────────────────────────────────────────────────

func TestDispatch_DeliversHandlerPayload(t *testing.T) {
	d, _ := dispatch.New(nil, echoHandler("echo"))
	r := &fakeResponder{}

	inv := agent.ToolInvocation{Name: "echo", CallID: "c1", Args: map[string]any{"v": "hi"}}
	if err := d.Dispatch(context.Background(), r, inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	results := r.results()
	if len(results) != 1 {
		t.Fatalf("sent %d results; want 1", len(results))
	}
	if results[0].callID != "c1" || results[0].name != "echo" {
		t.Errorf("result envelope = %+v", results[0])
	}
	if results[0].result["echo"] != "hi" {
		t.Errorf("result payload = %v", results[0].result)
	}
}

func TestDispatch_UnknownToolGetsErrorResult(t *testing.T) {
	d, _ := dispatch.New(nil, echoHandler("echo"))
	r := &fakeResponder{}

	inv := agent.ToolInvocation{Name: "no_such_tool", CallID: "c2"}
	if err := d.Dispatch(context.Background(), r, inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	results := r.results()
	if len(results) != 1 {
		t.Fatalf("unknown tool must still be answered; sent %d", len(results))
	}
	if _, ok := results[0].result["error"]; !ok {
		t.Errorf("expected error payload, got %v", results[0].result)
	}
}

func TestDispatch_HandlerErrorBecomesErrorPayload(t *testing.T) {
	failing := dispatch.Func{
		Def: agent.ToolDefinition{Name: "boom"},
		Fn: func(_ context.Context, _ map[string]any) (dispatch.Outcome, error) {
			return dispatch.Outcome{}, fmt.Errorf("backend unavailable")
		},
	}
	d, _ := dispatch.New(nil, failing)
	r := &fakeResponder{}

	if err := d.Dispatch(context.Background(), r, agent.ToolInvocation{Name: "boom", CallID: "c3"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := r.results()[0].result["error"]; got != "backend unavailable" {
		t.Errorf("error payload = %v", got)
	}
}

func TestDispatch_ResultDeliveredBeforeSideEffect(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	closing := dispatch.Func{
		Def: agent.ToolDefinition{Name: "hangup"},
		Fn: func(_ context.Context, _ map[string]any) (dispatch.Outcome, error) {
			return dispatch.Outcome{
				Payload: map[string]any{"status": "bye"},
				After:   func() { record("side-effect") },
			}, nil
		},
	}
	d, _ := dispatch.New(nil, closing)
	r := &fakeResponder{onSend: func() { record("result-sent") }}

	if err := d.Dispatch(context.Background(), r, agent.ToolInvocation{Name: "hangup", CallID: "c4"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "result-sent" || order[1] != "side-effect" {
		t.Fatalf("order = %v; result must precede the side effect", order)
	}
}

func TestDispatch_SideEffectSkippedIfDeliveryFails(t *testing.T) {
	fired := false
	closing := dispatch.Func{
		Def: agent.ToolDefinition{Name: "hangup"},
		Fn: func(_ context.Context, _ map[string]any) (dispatch.Outcome, error) {
			return dispatch.Outcome{
				Payload: map[string]any{"status": "bye"},
				After:   func() { fired = true },
			}, nil
		},
	}
	d, _ := dispatch.New(nil, closing)
	r := &fakeResponder{sendErr: fmt.Errorf("connection lost")}

	if err := d.Dispatch(context.Background(), r, agent.ToolInvocation{Name: "hangup", CallID: "c5"}); err == nil {
		t.Fatal("expected delivery error")
	}
	if fired {
		t.Error("side effect ran despite failed result delivery")
	}
}

func TestDispatch_NilPayloadDefaultsToOK(t *testing.T) {
	bare := dispatch.Func{
		Def: agent.ToolDefinition{Name: "noop"},
		Fn: func(_ context.Context, _ map[string]any) (dispatch.Outcome, error) {
			return dispatch.Outcome{}, nil
		},
	}
	d, _ := dispatch.New(nil, bare)
	r := &fakeResponder{}

	if err := d.Dispatch(context.Background(), r, agent.ToolInvocation{Name: "noop", CallID: "c6"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := r.results()[0].result["status"]; got != "ok" {
		t.Errorf("default payload = %v", r.results()[0].result)
	}
}

// ── Built-in tools ────────────────────────────────────────────────────────────

func TestTransferHandler_ResolvesAndTransfers(t *testing.T) {
	dir, err := directory.New([]directory.Entry{
		{ID: "js42", DisplayName: "John Smith", Department: "Sales"},
	})
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}

	var transferred directory.Entry
	h := dispatch.NewTransferHandler(dir, func(e directory.Entry) { transferred = e })
	d, _ := dispatch.New(nil, h)
	r := &fakeResponder{}

	inv := agent.ToolInvocation{
		Name:   "transfer_to_staff",
		CallID: "c7",
		Args:   map[string]any{"staff": "jon smith"},
	}
	if err := d.Dispatch(context.Background(), r, inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	res := r.results()[0].result
	if res["status"] != "transferring" || res["staff_name"] != "John Smith" {
		t.Errorf("payload = %v", res)
	}
	if transferred.ID != "js42" {
		t.Errorf("transfer callback got %+v", transferred)
	}
}

func TestTransferHandler_UnknownStaff(t *testing.T) {
	dir, _ := directory.New([]directory.Entry{
		{ID: "js42", DisplayName: "John Smith"},
	})
	h := dispatch.NewTransferHandler(dir, nil)
	d, _ := dispatch.New(nil, h)
	r := &fakeResponder{}

	inv := agent.ToolInvocation{
		Name:   "transfer_to_staff",
		CallID: "c8",
		Args:   map[string]any{"staff": "Archibald Featherstonehaugh"},
	}
	if err := d.Dispatch(context.Background(), r, inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := r.results()[0].result["error"]; !ok {
		t.Errorf("expected error payload, got %v", r.results()[0].result)
	}
}

func TestEndCallHandler_FiresAfterResult(t *testing.T) {
	ended := false
	h := dispatch.NewEndCallHandler(func() { ended = true })
	d, _ := dispatch.New(nil, h)
	r := &fakeResponder{}

	if err := d.Dispatch(context.Background(), r, agent.ToolInvocation{Name: "end_call", CallID: "c9"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if r.results()[0].result["status"] != "ending" {
		t.Errorf("payload = %v", r.results()[0].result)
	}
	if !ended {
		t.Error("end_call side effect did not run")
	}
}
