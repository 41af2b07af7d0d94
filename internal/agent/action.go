package agent

import (
	"fmt"

	"github.com/MrWong99/lexi/internal/assessment"
)

// ActionKind enumerates the decisions the agent takes in a turn.
type ActionKind string

const (
	ActionAskFollowup      ActionKind = "ask_followup"
	ActionNewPrompt        ActionKind = "new_prompt"
	ActionSwitchPhase      ActionKind = "switch_phase"
	ActionAdjustDifficulty ActionKind = "adjust_difficulty"
	ActionConclude         ActionKind = "conclude"
)

// Action is one decision. Phase is set for switch_phase, Delta for
// adjust_difficulty.
type Action struct {
	Kind   ActionKind       `json:"kind"`
	Phase  assessment.Phase `json:"phase,omitempty"`
	Delta  int              `json:"delta,omitempty"`
	Reason string           `json:"reason"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSwitchPhase:
		return fmt.Sprintf("%s(%s): %s", a.Kind, a.Phase, a.Reason)
	case ActionAdjustDifficulty:
		return fmt.Sprintf("%s(%+d): %s", a.Kind, a.Delta, a.Reason)
	}
	return fmt.Sprintf("%s: %s", a.Kind, a.Reason)
}
