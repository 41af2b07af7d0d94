// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine classifies incoming audio chunks as speech or silence and
// surfaces it as a stateful, per-stream session. Each session keeps its own
// state so that concurrent candidate streams are processed independently.
//
// VAD is synchronous: ProcessChunk returns immediately with a detection
// result, so it can sit directly in the ingest loop. Utterance boundaries
// (how much silence ends an answer) are decided by the caller.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import "github.com/MrWong99/lexi/pkg/audio"

// Config holds the parameters for a VAD session.
type Config struct {
	// Encoding is the encoding of the chunks passed to ProcessChunk. Opus
	// streams are decoded before VAD, so engines see PCM16 or a compressed
	// container.
	Encoding audio.Encoding

	// Format describes PCM chunks. Ignored for containers.
	Format audio.Format

	// SpeechThreshold is the PCM RMS level (0–32768) at or above which a chunk
	// is speech. Typical: 500.
	SpeechThreshold float64

	// ActiveBytes is the chunk size at or above which a compressed chunk is
	// speech. Browsers emit near-empty container chunks during silence.
	// Typical: 1000 for 500 ms WebM chunks.
	ActiveBytes int
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates the first silent chunk after speech.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// IsSpeech reports whether t marks an active chunk.
func (t EventType) IsSpeech() bool { return t == SpeechStart || t == SpeechContinue }

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	}
	return "unknown"
}

// Event is the detection result for a single chunk.
type Event struct {
	Type EventType

	// Level is the measured activity: RMS for PCM, byte length for
	// containers.
	Level float64
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessChunk classifies one chunk. It must not block.
	ProcessChunk(chunk []byte) (Event, error)

	// Reset clears the speech/silence state, e.g. after an utterance has been
	// cut so the next chunk can start a new one.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
