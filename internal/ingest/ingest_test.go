package ingest_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/ingest"
	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad"
	vadmock "github.com/MrWong99/lexi/pkg/provider/vad/mock"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// script returns a clock that yields the given offsets from t0 in call
// order and repeats the last one.
func script(offsets ...time.Duration) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		d := offsets[min(i, len(offsets)-1)]
		i++
		return t0.Add(d)
	}
}

func events(types ...vad.EventType) []vad.Event {
	out := make([]vad.Event, len(types))
	for i, t := range types {
		out[i] = vad.Event{Type: t}
	}
	return out
}

func newPipeline(t *testing.T, cfg ingest.Config) (*ingest.Pipeline, chan time.Time) {
	t.Helper()
	ticks := make(chan time.Time)
	if cfg.Ticks == nil {
		cfg.Ticks = ticks
	}
	p, err := ingest.New(cfg)
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, ticks
}

func receive(t *testing.T, p *ingest.Pipeline) ingest.Utterance {
	t.Helper()
	select {
	case u, ok := <-p.Utterances():
		if !ok {
			t.Fatal("utterance channel closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance")
	}
	return ingest.Utterance{}
}

func waitChunks(t *testing.T, s *vadmock.Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ChunkCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("want %d chunks processed, got %d", n, s.ChunkCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeline_SilenceBoundary(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Events: events(vad.SpeechStart, vad.SpeechContinue, vad.SpeechEnd, vad.Silence)}
	p, _ := newPipeline(t, ingest.Config{
		Encoding: audio.EncodingPCM16,
		Format:   audio.Format{SampleRate: 16000, Channels: 1},
		VAD:      &vadmock.Engine{Session: sess},
		Now:      script(0, 500*time.Millisecond, time.Second, 2500*time.Millisecond),
	})

	for _, c := range []string{"a", "b", "c", "d"} {
		if !p.Push([]byte(c)) {
			t.Fatalf("Push(%q) dropped", c)
		}
	}
	u := receive(t, p)
	if string(u.Audio) != "abcd" {
		t.Errorf("want trailing silence kept (abcd), got %q", u.Audio)
	}
	if u.Boundary != ingest.BoundarySilence || u.Chunks != 4 || u.Empty() {
		t.Errorf("unexpected utterance %+v", u)
	}
	if u.Encoding != audio.EncodingPCM16 {
		t.Errorf("want pcm16, got %s", u.Encoding)
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("want VAD reset after the boundary, got %d", sess.ResetCallCount)
	}
}

func TestPipeline_ShortSilenceDoesNotCut(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Events: events(vad.SpeechStart, vad.SpeechEnd, vad.SpeechStart)}
	p, _ := newPipeline(t, ingest.Config{
		Encoding: audio.EncodingPCM16,
		VAD:      &vadmock.Engine{Session: sess},
		Now:      script(0, 1900*time.Millisecond, 3*time.Second),
	})
	p.Push([]byte("a"))
	p.Push([]byte("b"))
	p.Push([]byte("c"))
	if err := p.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	u := receive(t, p)
	if string(u.Audio) != "abc" || u.Boundary != ingest.BoundaryExplicit {
		t.Fatalf("want one explicit utterance abc, got %q %s", u.Audio, u.Boundary)
	}
}

func TestPipeline_TickerBoundary(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Events: events(vad.SpeechStart)}
	p, ticks := newPipeline(t, ingest.Config{
		Encoding: audio.EncodingPCM16,
		VAD:      &vadmock.Engine{Session: sess},
		Now:      script(0, time.Second, 2*time.Second),
	})
	p.Push([]byte("hola"))
	waitChunks(t, sess, 1)

	ticks <- t0
	select {
	case u := <-p.Utterances():
		t.Fatalf("boundary fired early: %+v", u)
	default:
	}
	ticks <- t0
	u := receive(t, p)
	if string(u.Audio) != "hola" || u.Boundary != ingest.BoundarySilence {
		t.Fatalf("unexpected utterance %+v", u)
	}
}

func TestPipeline_ExplicitEmpty(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}
	p, _ := newPipeline(t, ingest.Config{Encoding: audio.EncodingPCM16, VAD: &vadmock.Engine{Session: sess}})
	p.Push([]byte("silence"))
	if err := p.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	u := receive(t, p)
	if !u.Empty() || u.Boundary != ingest.BoundaryExplicit {
		t.Fatalf("want empty explicit utterance, got %+v", u)
	}
}

func TestPipeline_LeadingSilenceDropped(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Events: events(vad.Silence, vad.Silence, vad.SpeechStart)}
	p, _ := newPipeline(t, ingest.Config{Encoding: audio.EncodingPCM16, VAD: &vadmock.Engine{Session: sess}})
	p.Push([]byte("x"))
	p.Push([]byte("y"))
	p.Push([]byte("speech"))
	_ = p.Complete()
	if u := receive(t, p); string(u.Audio) != "speech" || u.Chunks != 1 {
		t.Fatalf("want only speech, got %q (%d chunks)", u.Audio, u.Chunks)
	}
}

func TestPipeline_ContainerHeaderReplayed(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Events: events(vad.Silence, vad.SpeechStart, vad.SpeechStart)}
	p, _ := newPipeline(t, ingest.Config{Encoding: audio.EncodingWebM, VAD: &vadmock.Engine{Session: sess}})

	p.Push([]byte("HDR"))
	p.Push([]byte("one"))
	_ = p.Complete()
	if u := receive(t, p); string(u.Audio) != "HDRone" || u.Encoding != audio.EncodingWebM {
		t.Fatalf("first answer: want HDRone, got %q (%s)", u.Audio, u.Encoding)
	}

	p.Push([]byte("two"))
	_ = p.Complete()
	if u := receive(t, p); string(u.Audio) != "HDRtwo" {
		t.Fatalf("second answer: want HDRtwo, got %q", u.Audio)
	}
}

func TestPipeline_SpeechInHeaderChunk(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechContinue}}
	p, _ := newPipeline(t, ingest.Config{Encoding: audio.EncodingWebM, VAD: &vadmock.Engine{Session: sess}})
	p.Push([]byte("HDR+voice"))
	p.Push([]byte("more"))
	_ = p.Complete()
	if u := receive(t, p); string(u.Audio) != "HDR+voicemore" || u.Chunks != 2 {
		t.Fatalf("want header chunk once, got %q (%d chunks)", u.Audio, u.Chunks)
	}
}

func TestPipeline_Opus(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	enc, err := audio.NewOpusEncoder(f.SampleRate, f.Channels)
	if err != nil {
		t.Fatalf("NewOpusEncoder: %v", err)
	}
	frame := make([]byte, f.SampleRate*audio.OpusFrameMs/1000*2)
	packet, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	eng := &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechStart}}}
	p, _ := newPipeline(t, ingest.Config{Encoding: audio.EncodingOpus, Format: f, VAD: eng})
	p.Push(packet)
	_ = p.Complete()

	u := receive(t, p)
	if u.Encoding != audio.EncodingPCM16 || u.Format != f {
		t.Errorf("want decoded pcm16 %v, got %s %v", f, u.Encoding, u.Format)
	}
	if len(u.Audio) != len(frame) {
		t.Errorf("want %d PCM bytes, got %d", len(frame), len(u.Audio))
	}
	if got := eng.NewSessionCalls[0].Cfg.Encoding; got != audio.EncodingPCM16 {
		t.Errorf("want VAD configured for pcm16, got %s", got)
	}
}

func TestPipeline_Close(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{}
	p, err := ingest.New(ingest.Config{VAD: &vadmock.Engine{Session: sess}, Ticks: make(chan time.Time)})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.Push([]byte("late")) {
		t.Error("want Push to fail after Close")
	}
	if err := p.Complete(); !errors.Is(err, ingest.ErrClosed) {
		t.Errorf("want ErrClosed, got %v", err)
	}
	if _, ok := <-p.Utterances(); ok {
		t.Error("want utterance channel closed")
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("want VAD session closed once, got %d", sess.CloseCallCount)
	}
}

// blockingSession stalls ProcessChunk until release is closed.
type blockingSession struct {
	vadmock.Session
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSession) ProcessChunk(chunk []byte) (vad.Event, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Session.ProcessChunk(chunk)
}

func TestPipeline_PushNeverBlocks(t *testing.T) {
	t.Parallel()

	sess := &blockingSession{entered: make(chan struct{}), release: make(chan struct{})}
	p, _ := newPipeline(t, ingest.Config{
		Encoding:  audio.EncodingPCM16,
		VAD:       &vadmock.Engine{Session: sess},
		QueueSize: 2,
	})
	defer close(sess.release)

	p.Push([]byte("0"))
	<-sess.entered
	accepted := 0
	for range 10 {
		if p.Push([]byte("x")) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("want 2 chunks queued behind the busy classifier, got %d", accepted)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ingest.New(ingest.Config{}); err == nil {
		t.Error("want error without VAD engine")
	}
	boom := errors.New("boom")
	if _, err := ingest.New(ingest.Config{VAD: &vadmock.Engine{NewSessionErr: boom}}); !errors.Is(err, boom) {
		t.Errorf("want wrapped NewSession error, got %v", err)
	}
	if _, err := ingest.New(ingest.Config{Encoding: audio.EncodingOpus, Format: audio.Format{SampleRate: 44100, Channels: 1}, VAD: &vadmock.Engine{}}); err == nil {
		t.Error("want error for a non-Opus sample rate")
	}
}
