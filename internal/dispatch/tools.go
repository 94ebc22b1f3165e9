package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxhall/voxhall/internal/directory"
	"github.com/voxhall/voxhall/pkg/agent"
)

// NewTransferHandler builds the transfer_to_staff tool. The staff reference is
// resolved against dir; on success the result names the resolved person and
// transfer runs after the result is delivered, so the agent can announce the
// handoff before the session ends.
func NewTransferHandler(dir *directory.Directory, transfer func(directory.Entry)) Handler {
	return Func{
		Def: agent.ToolDefinition{
			Name:        "transfer_to_staff",
			Description: "Transfers the caller to a staff member by name or ID.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"staff": map[string]any{
						"type":        "string",
						"description": "Name or ID of the staff member to transfer to.",
					},
				},
				"required": []string{"staff"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (Outcome, error) {
			query, _ := args["staff"].(string)
			if query == "" {
				return Outcome{}, fmt.Errorf("missing staff argument")
			}

			entry, err := dir.Resolve(query)
			if errors.Is(err, directory.ErrNotFound) {
				return Outcome{}, fmt.Errorf("no staff member matching %q", query)
			}
			if err != nil {
				return Outcome{}, err
			}

			out := Outcome{
				Payload: map[string]any{
					"status":     "transferring",
					"staff_id":   entry.ID,
					"staff_name": entry.DisplayName,
					"department": entry.Department,
				},
			}
			if transfer != nil {
				e := entry
				out.After = func() { transfer(e) }
			}
			return out, nil
		},
	}
}

// NewEndCallHandler builds the end_call tool. endCall runs after the result is
// delivered so the agent's goodbye is not cut off by the teardown.
func NewEndCallHandler(endCall func()) Handler {
	return Func{
		Def: agent.ToolDefinition{
			Name:        "end_call",
			Description: "Ends the conversation when the caller is finished.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Fn: func(_ context.Context, _ map[string]any) (Outcome, error) {
			return Outcome{
				Payload: map[string]any{"status": "ending"},
				After:   endCall,
			}, nil
		},
	}
}
