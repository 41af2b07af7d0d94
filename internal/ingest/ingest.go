// Package ingest turns a stream of client audio chunks into utterances.
//
// A [Pipeline] is owned by one connection. Chunks are pushed without
// blocking and classified by a VAD session on the pipeline's own goroutine.
// An utterance ends after a configurable stretch of silence that follows
// speech, or when the client marks the boundary explicitly. Finished
// utterances are delivered in order on [Pipeline.Utterances].
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad"
)

// Boundary names what ended an utterance.
type Boundary string

const (
	BoundarySilence  Boundary = "silence"
	BoundaryExplicit Boundary = "explicit"
)

// Utterance is one candidate answer.
type Utterance struct {
	// Audio is the buffered answer: raw mono PCM16 for PCM and Opus
	// streams, concatenated container fragments otherwise.
	Audio []byte

	// Encoding describes Audio. Opus streams arrive here as PCM16.
	Encoding audio.Encoding

	// Format describes PCM audio.
	Format audio.Format

	// Chunks is the number of client chunks that went into Audio.
	Chunks int

	Boundary Boundary
}

// Empty reports whether the utterance carries no speech at all.
func (u Utterance) Empty() bool { return u.Chunks == 0 || len(u.Audio) == 0 }

// Config configures a [Pipeline].
type Config struct {
	// Encoding is the client stream encoding.
	Encoding audio.Encoding

	// Format describes PCM and Opus streams. For Opus it is the decoder
	// output and must use an Opus sample rate.
	Format audio.Format

	// VAD creates the chunk classifier.
	VAD vad.Engine

	// SilenceDuration is the silence after speech that ends an utterance.
	// Default 2s.
	SilenceDuration time.Duration

	// SpeechThreshold and ActiveBytes are passed to the VAD session.
	SpeechThreshold float64
	ActiveBytes     int

	// QueueSize bounds the chunks waiting for classification. Default 256.
	QueueSize int

	// TickInterval is how often the silence boundary is checked when no
	// chunks arrive. Default 250ms.
	TickInterval time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// Ticks, when set, replaces the internal ticker.
	Ticks <-chan time.Time
}

// ErrClosed is returned by operations on a closed pipeline.
var ErrClosed = errors.New("ingest: pipeline closed")

type op struct {
	chunk    []byte
	complete bool
}

// Pipeline segments one audio stream into utterances. Push, Complete and
// Close are safe for concurrent use.
type Pipeline struct {
	cfg    Config
	vad    vad.SessionHandle
	opus   *audio.OpusDecoder
	format audio.Format
	enc    audio.Encoding

	inbox chan op
	out   chan Utterance
	done  chan struct{}
	exit  chan struct{}
	once  sync.Once
	stop  func()
	ticks <-chan time.Time

	// Owned by the run goroutine.
	buf        []byte
	chunks     int
	speaking   bool
	lastActive time.Time
	header     []byte
}

// New starts a pipeline. The caller must Close it.
func New(cfg Config) (*Pipeline, error) {
	if cfg.VAD == nil {
		return nil, errors.New("ingest: VAD engine must not be nil")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = audio.EncodingWebM
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pipeline{
		cfg:    cfg,
		enc:    cfg.Encoding,
		format: cfg.Format,
		inbox:  make(chan op, cfg.QueueSize),
		out:    make(chan Utterance, 4),
		done:   make(chan struct{}),
		exit:   make(chan struct{}),
	}
	if cfg.Encoding == audio.EncodingOpus {
		dec, err := audio.NewOpusDecoder(cfg.Format.SampleRate, max(cfg.Format.Channels, 1))
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		p.opus = dec
		p.enc = audio.EncodingPCM16
		p.format = audio.Format{SampleRate: cfg.Format.SampleRate, Channels: 1}
	}

	sess, err := cfg.VAD.NewSession(vad.Config{
		Encoding:        p.enc,
		Format:          p.format,
		SpeechThreshold: cfg.SpeechThreshold,
		ActiveBytes:     cfg.ActiveBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: start VAD session: %w", err)
	}
	p.vad = sess

	p.ticks = cfg.Ticks
	p.stop = func() {}
	if p.ticks == nil {
		t := time.NewTicker(cfg.TickInterval)
		p.ticks = t.C
		p.stop = t.Stop
	}

	go p.run()
	return p, nil
}

// Push queues one chunk. It never blocks: when the queue is full the chunk
// is dropped and false is returned.
func (p *Pipeline) Push(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.inbox <- op{chunk: chunk}:
		return true
	default:
		slog.Warn("ingest: queue full, dropping chunk", "bytes", len(chunk))
		return false
	}
}

// Complete ends the current utterance now, even when it is empty.
func (p *Pipeline) Complete() error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case <-p.done:
		return ErrClosed
	case p.inbox <- op{complete: true}:
		return nil
	}
}

// Utterances returns the channel finished utterances are delivered on. It
// is closed after Close.
func (p *Pipeline) Utterances() <-chan Utterance { return p.out }

// Close stops the pipeline and discards any partial utterance. Calling
// Close more than once is safe.
func (p *Pipeline) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		<-p.exit
		p.stop()
		err = p.vad.Close()
	})
	return err
}

func (p *Pipeline) run() {
	defer close(p.exit)
	defer close(p.out)
	for {
		select {
		case <-p.done:
			return
		case o := <-p.inbox:
			if o.complete {
				p.emit(BoundaryExplicit)
				continue
			}
			p.ingest(o.chunk)
		case <-p.ticks:
			p.checkSilence()
		}
	}
}

func (p *Pipeline) ingest(chunk []byte) {
	if p.opus != nil {
		pcm, err := p.opus.Decode(chunk)
		if err != nil {
			slog.Warn("ingest: dropping undecodable opus packet", "err", err)
			return
		}
		chunk = pcm
	}

	ev, err := p.vad.ProcessChunk(chunk)
	if err != nil {
		slog.Warn("ingest: VAD error", "err", err)
		return
	}
	now := p.cfg.Now()

	// Container streams carry their header in the first fragment only. It
	// opens the buffer of every utterance.
	first := !p.enc.IsPCM() && p.header == nil
	if first {
		p.header = slices.Clone(chunk)
		p.buf = slices.Clone(chunk)
	}

	switch {
	case ev.Type.IsSpeech():
		p.speaking = true
		p.lastActive = now
		p.add(chunk, first)
	case p.speaking:
		// Trailing silence stays part of the answer.
		p.add(chunk, first)
		p.checkSilenceAt(now)
	}
}

func (p *Pipeline) add(chunk []byte, buffered bool) {
	if !buffered {
		p.buf = append(p.buf, chunk...)
	}
	p.chunks++
}

func (p *Pipeline) checkSilence() { p.checkSilenceAt(p.cfg.Now()) }

func (p *Pipeline) checkSilenceAt(now time.Time) {
	if p.speaking && now.Sub(p.lastActive) >= p.cfg.SilenceDuration {
		p.emit(BoundarySilence)
	}
}

func (p *Pipeline) emit(b Boundary) {
	u := Utterance{
		Encoding: p.enc,
		Format:   p.format,
		Chunks:   p.chunks,
		Boundary: b,
	}
	if p.chunks > 0 {
		u.Audio = p.buf
	}
	p.buf = slices.Clone(p.header)
	p.chunks = 0
	p.speaking = false
	p.vad.Reset()

	select {
	case p.out <- u:
	case <-p.done:
	}
}
