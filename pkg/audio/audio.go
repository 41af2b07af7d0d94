// Package audio holds the small amount of signal plumbing the assessment
// server needs: naming the encoding a client streams in, 16-bit PCM helpers,
// a RIFF/WAV wrapper for batch transcription uploads and an Opus packet
// decoder.
package audio

import (
	"fmt"
	"strings"
)

// Encoding names the container or sample format of inbound audio frames.
type Encoding string

const (
	// EncodingWebM is a browser MediaRecorder stream (WebM/Opus). Frames are
	// opaque container fragments and are forwarded to the transcriber as-is.
	EncodingWebM Encoding = "webm"

	// EncodingPCM16 is raw 16-bit signed little-endian mono PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingOpus is a sequence of raw Opus packets, one per frame. They are
	// decoded to PCM16 on arrival.
	EncodingOpus Encoding = "opus"
)

// ParseEncoding maps a configuration string to an [Encoding].
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case EncodingWebM, EncodingPCM16, EncodingOpus:
		return e, nil
	case "":
		return EncodingWebM, nil
	default:
		return "", fmt.Errorf("audio: unknown encoding %q", s)
	}
}

// IsPCM reports whether buffers in this encoding are PCM16 once they leave
// the ingest pipeline.
func (e Encoding) IsPCM() bool { return e == EncodingPCM16 || e == EncodingOpus }

// MIMEType returns the content type of an utterance buffer in this encoding.
// PCM buffers are wrapped in WAV before upload.
func (e Encoding) MIMEType() string {
	if e.IsPCM() {
		return "audio/wav"
	}
	return "audio/webm"
}

// FileName returns a file name suitable for multipart uploads.
func (e Encoding) FileName() string {
	if e.IsPCM() {
		return "audio.wav"
	}
	return "audio.webm"
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
