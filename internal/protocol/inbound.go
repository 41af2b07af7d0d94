package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ControlType is the "type" discriminator of an inbound text frame.
type ControlType string

const (
	ControlAudioComplete   ControlType = "audio_complete"
	ControlForceTransition ControlType = "force_phase_transition"
	ControlEndSession      ControlType = "end_session"
	ControlUserTranscript  ControlType = "user_transcript"
	ControlPing            ControlType = "ping"
)

// Control is an inbound text frame. Text is only used by
// [ControlUserTranscript].
type Control struct {
	Type ControlType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// DecodeControl parses an inbound text frame. Unknown discriminators yield
// an error wrapping [ErrUnknownType]; a user_transcript without text is
// rejected.
func DecodeControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("protocol: decode control: %w", err)
	}
	switch c.Type {
	case ControlAudioComplete, ControlForceTransition, ControlEndSession, ControlPing:
		c.Text = ""
	case ControlUserTranscript:
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			return Control{}, fmt.Errorf("protocol: decode control: %s without text", c.Type)
		}
	default:
		return Control{}, fmt.Errorf("%w %q", ErrUnknownType, c.Type)
	}
	return c, nil
}
