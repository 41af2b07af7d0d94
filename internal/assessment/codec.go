package assessment

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes s as JSON. Exercises keep their slice order.
func Marshal(s SessionState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("assessment: marshal state %q: %w", s.AssessmentID, err)
	}
	return data, nil
}

// Unmarshal decodes a state produced by [Marshal] and validates it. A record
// that fails validation is reported as an invariant violation rather than
// repaired.
func Unmarshal(data []byte) (SessionState, error) {
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return SessionState{}, fmt.Errorf("assessment: unmarshal state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return SessionState{}, fmt.Errorf("assessment: decoded state %q: %w", s.AssessmentID, err)
	}
	return s, nil
}
