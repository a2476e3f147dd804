package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
)

// ControlAction turns utterances into structured device commands. A second
// lite-model call returns one JSON command (or a list of them) drawn from a
// closed device and action vocabulary. The result always short-circuits.
type ControlAction struct {
	llm *llm.Client
}

var _ Action = (*ControlAction)(nil)

// NewControlAction builds the control handler.
func NewControlAction(client *llm.Client) *ControlAction {
	return &ControlAction{llm: client}
}

// Name implements Action.
func (a *ControlAction) Name() string { return IntentControl }

// SystemPrompt implements Action.
func (a *ControlAction) SystemPrompt() string { return controlPrompt }

// ControlCommand is one extracted device instruction.
type ControlCommand struct {
	Device   string `json:"device"`
	Action   string `json:"action"`
	Value    any    `json:"value"`
	RawInput string `json:"raw_input"`
}

const controlUnrecognized = "Command not recognized. Please try again."

// Process implements Action.
func (a *ControlAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	prompt := fmt.Sprintf("Current time: %s\nUser query: %s", formattedDate(req.Now), req.Text)

	reply, err := a.llm.Query(ctx, llm.SlotLite, prompt, controlPrompt, false)
	if err != nil {
		return ActionResult{}, fmt.Errorf("intent: control command extraction: %w", err)
	}

	commands, err := parseControlCommands(reply)
	if err != nil {
		return invalidControlResult(controlUnrecognized), nil
	}
	if len(commands) == 1 && commands[0].Device == "invalid" {
		message := controlUnrecognized
		if v, ok := commands[0].Value.(string); ok && v != "" {
			message = v
		}
		return invalidControlResult(message), nil
	}

	return ActionResult{
		UserPrompt: "Command dispatched",
		MetaData: wire.BuildCommand(wire.CommandControl, "list",
			map[string]any{"commands": commands}),
	}, nil
}

func invalidControlResult(message string) ActionResult {
	return ActionResult{
		UserPrompt: message,
		MetaData:   wire.BuildCommand(wire.CommandControl, "invalid", nil),
	}
}

// parseControlCommands accepts a single JSON object or a JSON array of them.
func parseControlCommands(reply string) ([]ControlCommand, error) {
	reply = strings.TrimSpace(reply)

	var one ControlCommand
	if err := json.Unmarshal([]byte(reply), &one); err == nil {
		return []ControlCommand{one}, nil
	}

	var many []ControlCommand
	if err := json.Unmarshal([]byte(reply), &many); err != nil {
		return nil, fmt.Errorf("intent: control reply is not a command: %w", err)
	}
	return many, nil
}
