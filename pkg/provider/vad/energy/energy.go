// Package energy implements a vad.Engine based on signal energy. PCM chunks
// are classified by their RMS level; compressed container chunks, whose
// samples are not accessible without a demuxer, by their byte size.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad"
)

const (
	defaultSpeechThreshold = 500
	defaultActiveBytes     = 1000
)

// ErrClosed is returned by ProcessChunk after Close.
var ErrClosed = errors.New("energy vad: session closed")

// Engine implements vad.Engine.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy [Engine].
func New() Engine { return Engine{} }

// NewSession validates cfg, fills defaults and returns a session.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.Encoding == audio.EncodingOpus {
		return nil, fmt.Errorf("energy vad: decode %s to pcm16 before detection", cfg.Encoding)
	}
	if cfg.Encoding.IsPCM() && cfg.Format.Channels > 2 {
		return nil, fmt.Errorf("energy vad: unsupported channel count %d", cfg.Format.Channels)
	}
	if cfg.SpeechThreshold < 0 || cfg.ActiveBytes < 0 {
		return nil, errors.New("energy vad: thresholds must not be negative")
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.ActiveBytes == 0 {
		cfg.ActiveBytes = defaultActiveBytes
	}
	return &session{cfg: cfg}, nil
}

type session struct {
	mu       sync.Mutex
	cfg      vad.Config
	speaking bool
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

func (s *session) ProcessChunk(chunk []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}

	var level float64
	var active bool
	if s.cfg.Encoding.IsPCM() {
		level = audio.RMS(chunk)
		active = level >= s.cfg.SpeechThreshold
	} else {
		level = float64(len(chunk))
		active = len(chunk) >= s.cfg.ActiveBytes
	}

	ev := vad.Event{Level: level}
	switch {
	case active && !s.speaking:
		ev.Type = vad.SpeechStart
	case active:
		ev.Type = vad.SpeechContinue
	case s.speaking:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	s.speaking = active
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
