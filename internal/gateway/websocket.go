package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/ingest"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/protocol"
	"github.com/MrWong99/lexi/internal/store"
)

// maxFrameBytes bounds one inbound websocket frame.
const maxFrameBytes = 1 << 20

// ServeWS handles GET /ws/session/{assessmentId}?language=Spanish.
//
// A new assessment id starts a session in the given language; a known id
// resumes it, re-sending the question that awaits an answer. Binary frames
// are client audio, text frames are control messages.
func (t *Tracker) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	language := strings.TrimSpace(r.URL.Query().Get("language"))
	log := observe.Logger(r.Context()).With("assessment_id", id)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: t.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxFrameBytes)

	t.cfg.Metrics.ActiveConnections.Add(r.Context(), 1)
	defer t.cfg.Metrics.ActiveConnections.Add(context.Background(), -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ws, log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })

	s, ok := t.open(gctx, c, id, language, log)
	if !ok {
		disconnected(log, g.Wait())
		return
	}
	s.attach(c)
	defer s.detach(c)
	log.Info("client connected", "language", language)

	pipe, err := ingest.New(ingest.Config{
		Encoding:        t.cfg.Ingest.Encoding,
		Format:          t.cfg.Ingest.Format,
		VAD:             t.cfg.Ingest.VAD,
		SilenceDuration: t.cfg.Ingest.SilenceDuration,
		SpeechThreshold: t.cfg.Ingest.SpeechThreshold,
		ActiveBytes:     t.cfg.Ingest.ActiveBytes,
	})
	if err != nil {
		log.Error("audio pipeline setup failed", "err", err)
		c.send(protocol.Error{Message: agent.MsgAudioFailed})
		c.finish(websocket.StatusInternalError, "audio pipeline unavailable")
		disconnected(log, g.Wait())
		return
	}
	defer pipe.Close()

	g.Go(func() error { return t.forward(gctx, s, pipe) })
	g.Go(func() error {
		defer cancel()
		return t.readLoop(gctx, c, s, pipe, log)
	})
	disconnected(log, g.Wait())
}

// disconnected logs how a connection ended. The session survives either
// way and the client may reconnect.
func disconnected(log *slog.Logger, err error) {
	switch {
	case err == nil:
		log.Info("client disconnected")
	case errors.Is(err, assessment.ErrTransport):
		log.Info("client connection lost", "err", err)
	default:
		log.Warn("connection ended with error", "err", err)
	}
}

// open resolves the session behind a new connection, starting it when the
// id is unknown. On failure the connection has already been told why.
func (t *Tracker) open(ctx context.Context, c *conn, id, language string, log *slog.Logger) (*session, bool) {
	s, err := t.acquire(ctx, id)
	started := false
	if errors.Is(err, store.ErrNotFound) {
		if language == "" {
			c.send(protocol.Error{Message: "A language is required to start an assessment."})
			c.finish(websocket.StatusPolicyViolation, "missing language")
			return nil, false
		}
		out, serr := t.Start(ctx, id, language)
		if serr != nil && !errors.Is(serr, store.ErrExists) {
			log.Warn("session start failed", "err", serr)
			text := "The assessment could not be started."
			if errors.Is(serr, agent.ErrUnknownLanguage) {
				text = "Unsupported language: " + language
			}
			c.send(protocol.Error{Message: text})
			c.finish(websocket.StatusPolicyViolation, "start failed")
			return nil, false
		}
		// A concurrent start for the same id is resumed instead.
		started = serr == nil
		c.send(out.Messages...)
		s, err = t.acquire(ctx, id)
	}
	if err != nil {
		log.Error("session load failed", "err", err)
		c.send(protocol.Error{Message: "The assessment could not be loaded."})
		c.finish(websocket.StatusInternalError, "load failed")
		return nil, false
	}

	st := s.snapshot()
	if st.IsComplete() {
		c.send(protocol.Error{Message: "This assessment is already complete."})
		c.finish(websocket.StatusNormalClosure, "assessment complete")
		return nil, false
	}
	if !started {
		c.send(resumeMessages(st)...)
	}
	return s, true
}

// resumeMessages repeats the pending question of a resumed session.
func resumeMessages(st assessment.SessionState) []protocol.Message {
	switch {
	case st.PendingPassage != "":
		return []protocol.Message{protocol.ReadingPassage{
			Passage:     st.PendingPassage,
			Language:    st.TargetLanguage,
			Difficulty:  st.Difficulty,
			Instruction: agent.ReadingInstruction,
		}}
	case st.PendingPrompt != "":
		return []protocol.Message{protocol.Transcript{Speaker: protocol.SpeakerAI, Text: st.PendingPrompt}}
	}
	return nil
}

// readLoop dispatches inbound frames until the client goes away. A close
// handshake or cancellation ends it cleanly; anything else is an
// [assessment.ErrTransport].
func (t *Tracker) readLoop(ctx context.Context, c *conn, s *session, pipe *ingest.Pipeline, log *slog.Logger) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				return nil
			}
			return assessment.Wrap(assessment.ErrTransport, "read", err)
		}
		if typ == websocket.MessageBinary {
			if !pipe.Push(data) {
				log.Warn("audio chunk dropped")
			}
			continue
		}

		ctl, err := protocol.DecodeControl(data)
		if err != nil {
			log.Debug("bad control frame", "err", err)
			c.send(protocol.Error{Message: "Unrecognised message."})
			continue
		}
		switch ctl.Type {
		case protocol.ControlAudioComplete:
			if err := pipe.Complete(); err != nil {
				return nil
			}
		case protocol.ControlForceTransition:
			if !s.post(ctx, agent.ForceTransition{}) {
				return nil
			}
		case protocol.ControlUserTranscript:
			if !s.post(ctx, agent.TextSubmitted{Text: ctl.Text}) {
				return nil
			}
		case protocol.ControlEndSession:
			if !s.end(assessment.TriggerEnded, nil) {
				return nil
			}
		case protocol.ControlPing:
		}
		select {
		case <-c.closed():
			return nil
		default:
		}
	}
}

// forward turns utterances into audio turns.
func (t *Tracker) forward(ctx context.Context, s *session, pipe *ingest.Pipeline) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-pipe.Utterances():
			if !ok {
				return nil
			}
			t.cfg.Metrics.RecordUtterance(ctx, string(u.Boundary), u.Empty())
			ev := agent.AudioSubmitted{Audio: u.Audio, Encoding: u.Encoding, Format: u.Format}
			if !s.post(ctx, ev) {
				return nil
			}
		}
	}
}
