// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one complete candidate utterance into text. Utterance
// boundaries are decided upstream by the ingest pipeline, so the contract is
// a single request/response call rather than a stream. Implementations must
// be safe for concurrent use: sessions transcribe in parallel.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/lexi/pkg/audio"
)

// ErrEmptyAudio is returned when a request carries no audio bytes.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one utterance to transcribe.
type Request struct {
	// Audio holds the utterance. For [audio.EncodingWebM] it is the
	// concatenated container stream; for PCM encodings it is raw mono PCM16
	// in Format.
	Audio []byte

	// Encoding says how Audio is packed. Opus streams have already been
	// decoded to PCM16 by the time they reach a provider.
	Encoding audio.Encoding

	// Format describes PCM audio. Ignored for container encodings.
	Format audio.Format

	// Language is an ISO-639-1 code (e.g. "es"). Empty lets the provider
	// auto-detect.
	Language string
}

// Upload returns the bytes, file name and content type to send to a
// batch transcription API. PCM is wrapped in a WAV container.
func (r Request) Upload() (data []byte, fileName, mimeType string) {
	if r.Encoding.IsPCM() {
		return audio.EncodeWAV(r.Audio, r.Format), r.Encoding.FileName(), r.Encoding.MIMEType()
	}
	return r.Audio, r.Encoding.FileName(), r.Encoding.MIMEType()
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised speech. Empty when nothing intelligible was
	// heard; that is not an error.
	Text string

	// Confidence is the overall confidence (0.0–1.0). Zero when the provider
	// does not report one.
	Confidence float64

	// Words contains per-word detail when the provider reports it.
	Words []WordDetail

	// Duration is the audio length the provider processed, if known.
	Duration time.Duration
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one utterance to text. It must honour ctx
	// cancellation and deadlines.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
