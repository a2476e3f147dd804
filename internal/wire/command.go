package wire

import "time"

// CommandProtocol is the structured-command schema version.
const CommandProtocol = "v1"

// CommandType classifies a structured command.
type CommandType string

const (
	CommandAlarm   CommandType = "alarm"
	CommandMusic   CommandType = "music"
	CommandControl CommandType = "control"
)

// IsValid reports whether t is a recognised command type.
func (t CommandType) IsValid() bool {
	switch t {
	case CommandAlarm, CommandMusic, CommandControl:
		return true
	}
	return false
}

// CommandPayload is the type-specific body of a [Command].
type CommandPayload struct {
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

// Command is the structured control metadata attached to assistant messages
// so downstream clients can act without parsing natural language.
type Command struct {
	Protocol  string         `json:"protocol"`
	Timestamp int64          `json:"timestamp"`
	Type      CommandType    `json:"type"`
	Payload   CommandPayload `json:"payload"`
}

// BuildCommand creates a Command stamped with the current time.
func BuildCommand(t CommandType, cmd string, params map[string]any) *Command {
	if params == nil {
		params = map[string]any{}
	}
	return &Command{
		Protocol:  CommandProtocol,
		Timestamp: time.Now().Unix(),
		Type:      t,
		Payload:   CommandPayload{Cmd: cmd, Params: params},
	}
}
