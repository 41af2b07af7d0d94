// Package tts defines the Provider interface for text-to-speech backends.
//
// The interviewer's lines are short and always known in full before they
// are spoken, so synthesis is a single call returning a complete encoded
// clip that the client plays back. Implementations must be safe for
// concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when a request has nothing to say.
var ErrEmptyText = errors.New("tts: empty text")

// Request is one line to synthesize.
type Request struct {
	// Text is the line to speak.
	Text string

	// Language is an ISO-639-1 hint for multilingual voices. Empty lets the
	// provider infer it from the text.
	Language string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string
}

// Speech is a synthesized clip.
type Speech struct {
	// Audio is the encoded clip (e.g. MP3 or WAV bytes).
	Audio []byte

	// MIMEType describes Audio, e.g. "audio/mpeg".
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text to audio. It must honour ctx.
	Synthesize(ctx context.Context, req Request) (Speech, error)
}
