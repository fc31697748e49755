package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// DecodeMessage reads one content-script message from r.
// Unknown fields and unknown message types are rejected.
func DecodeMessage(r io.Reader) (*Message, error) {
	var msg Message

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := Validate(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the fields required by the message type.
func Validate(msg *Message) error {
	switch msg.Type {
	case "":
		return fmt.Errorf("message missing required field: type")
	case TypeGet, TypeClose, TypeContinue, TypeHide:
		return nil
	case TypeShow:
		if msg.Platform == "" {
			return fmt.Errorf("%s requires platform", msg.Type)
		}
	case TypeResize:
		if msg.Height == nil || *msg.Height < 0 {
			return fmt.Errorf("%s requires a non-negative height", msg.Type)
		}
	case TypePing:
		if msg.DisplayDuration == nil || *msg.DisplayDuration < 0 {
			return fmt.Errorf("%s requires a non-negative displayDuration", msg.Type)
		}
	default:
		return fmt.Errorf("unknown message type: %q", msg.Type)
	}
	return nil
}

// EncodeMessage writes msg to w as JSON.
func EncodeMessage(w io.Writer, msg Message) error {
	if err := Validate(&msg); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}
