package assessment

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure that crosses a package boundary in the
// assessment pipeline wraps exactly one of these so callers can branch with
// errors.Is without inspecting messages.
var (
	// ErrTransport is a connection-level failure. It is fatal to the
	// connection but never to the persisted session record.
	ErrTransport = errors.New("transport failure")

	// ErrTranscription is a failed or timed-out speech-to-text call.
	// Recoverable: the current turn is aborted and the candidate re-prompted.
	ErrTranscription = errors.New("transcription failed")

	// ErrScoring is a failed or timed-out scoring call. Recoverable.
	ErrScoring = errors.New("scoring failed")

	// ErrSynthesis is a failed text-to-speech call. Always non-fatal: the
	// turn degrades to text-only output.
	ErrSynthesis = errors.New("speech synthesis failed")

	// ErrStateStore is a failed load or save. Fatal to the turn; a default
	// state must never be substituted.
	ErrStateStore = errors.New("state store failure")

	// ErrInvariantViolation signals a programmer error such as a phase
	// skip, an out-of-range difficulty or a double append.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrSessionComplete is returned when a finalized session receives a
	// mutating event.
	ErrSessionComplete = errors.New("session already complete")
)

// Error attaches an operation name to one of the error kinds above while
// keeping the underlying cause reachable through errors.Is / errors.As.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Wrap returns an *Error for kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// IsRecoverable reports whether err only aborts the current turn
// (transcription, scoring, synthesis) and leaves the session usable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTranscription) ||
		errors.Is(err, ErrScoring) ||
		errors.Is(err, ErrSynthesis)
}

func violationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}
