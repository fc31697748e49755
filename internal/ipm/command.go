package ipm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Command names understood by the engine.
const (
	CommandCreateOnPageDialog = "create_on_page_dialog"
	CommandDeleteCommands     = "delete_commands"
	CommandCreateTab          = "create_tab"
)

// LibraryVersion is reported to the IPM server with every ping.
const LibraryVersion = 1

// DefaultVersions are the command versions this build can execute.
var DefaultVersions = map[string]int{
	CommandCreateOnPageDialog: 3,
	CommandDeleteCommands:     1,
	CommandCreateTab:          1,
}

// Command is a raw IPM command. Beyond the meta fields every key is
// command-specific and is interpreted by the registered actor.
type Command map[string]any

// ParseCommand converts raw input into a Command and checks that the meta
// fields version, ipm_id and command_name are present.
func ParseCommand(raw any) (Command, error) {
	var cmd Command
	switch v := raw.(type) {
	case Command:
		cmd = v
	case map[string]any:
		cmd = Command(v)
	case json.RawMessage:
		if err := json.Unmarshal(v, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
	case []byte:
		if err := json.Unmarshal(v, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedCommand, raw)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedCommand)
	}
	for _, field := range []string{"version", "ipm_id", "command_name"} {
		if _, ok := cmd[field]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedCommand, field)
		}
	}
	if cmd.ID() == "" {
		return nil, fmt.Errorf("%w: ipm_id must be a non-empty string", ErrMalformedCommand)
	}
	return cmd, nil
}

// ID returns the ipm_id.
func (c Command) ID() string {
	s, _ := c["ipm_id"].(string)
	return s
}

// Name returns the command_name.
func (c Command) Name() string {
	s, _ := c["command_name"].(string)
	return s
}

// Version returns the declared version when it is an integral number.
func (c Command) Version() (int, bool) {
	return asInt(c["version"])
}

// String returns field as a string.
func (c Command) String(field string) (string, bool) {
	s, ok := c[field].(string)
	return s, ok
}

// Number returns field as a float64.
func (c Command) Number(field string) (float64, bool) {
	return asFloat(c[field])
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// formatValue renders a parameter the way it appears in validation messages.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	default:
		return fmt.Sprint(x)
	}
}
