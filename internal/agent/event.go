package agent

import "github.com/MrWong99/lexi/pkg/audio"

// Event is one inbound stimulus for [Agent.ProcessTurn]. The set is closed.
type Event interface {
	eventName() string
}

// AudioSubmitted carries one complete utterance.
type AudioSubmitted struct {
	Audio    []byte
	Encoding audio.Encoding
	Format   audio.Format
}

// TextSubmitted carries an answer that was already transcribed or typed,
// e.g. a REST text answer or the debug user_transcript frame.
type TextSubmitted struct {
	Text string
}

// Tick is an idle heartbeat. It only runs the phase check.
type Tick struct{}

// ForceTransition advances one phase regardless of timers and quotas.
type ForceTransition struct{}

// EndSession finalizes the session on request.
type EndSession struct{}

func (AudioSubmitted) eventName() string  { return "audio" }
func (TextSubmitted) eventName() string   { return "text" }
func (Tick) eventName() string            { return "tick" }
func (ForceTransition) eventName() string { return "force_transition" }
func (EndSession) eventName() string      { return "end_session" }

// EventName returns a short label for logs and metrics.
func EventName(e Event) string { return e.eventName() }
