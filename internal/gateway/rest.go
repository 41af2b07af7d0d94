package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/protocol"
	"github.com/MrWong99/lexi/internal/store"
	"github.com/MrWong99/lexi/pkg/audio"
)

const (
	maxUploadBytes = 25 << 20
	maxFormMemory  = 8 << 20
)

// turnResponse is the body of start, turn and end responses.
type turnResponse struct {
	Messages []protocol.Message `json:"messages"`
	State    stateView          `json:"state"`
}

// stateView is the client-facing part of a session. Decision insights,
// running aggregates and the store version stay on the server.
type stateView struct {
	AssessmentID   string                `json:"assessment_id"`
	TargetLanguage string                `json:"target_language"`
	Phase          assessment.Phase      `json:"phase"`
	Difficulty     int                   `json:"difficulty"`
	Exercises      []assessment.Exercise `json:"exercises_completed"`
	SpeakingDone   int                   `json:"speaking_done"`
	ReadingDone    int                   `json:"reading_done"`
	PendingPrompt  string                `json:"pending_prompt,omitempty"`
	PendingPassage string                `json:"pending_passage,omitempty"`
	Result         *assessment.Result    `json:"result,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	LastUpdated    time.Time             `json:"last_updated"`
}

func viewOf(s assessment.SessionState) stateView {
	return stateView{
		AssessmentID:   s.AssessmentID,
		TargetLanguage: s.TargetLanguage,
		Phase:          s.Phase,
		Difficulty:     s.Difficulty,
		Exercises:      s.Exercises,
		SpeakingDone:   s.SpeakingDone,
		ReadingDone:    s.ReadingDone,
		PendingPrompt:  s.PendingPrompt,
		PendingPassage: s.PendingPassage,
		Result:         s.Result,
		StartedAt:      s.StartedAt,
		LastUpdated:    s.LastUpdated,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes mounts the websocket endpoint and the REST fallback on r.
func (t *Tracker) Routes(r chi.Router) {
	r.Get("/ws/session/{assessmentId}", t.ServeWS)
	r.Route("/session", func(r chi.Router) {
		r.Post("/start/{assessmentId}", t.handleStart)
		r.Post("/turn/{assessmentId}", t.handleTurn)
		r.Get("/results/{assessmentId}", t.handleResults)
		r.Get("/state/{assessmentId}", t.handleState)
		r.Delete("/state/{assessmentId}", t.handleEnd)
	})
}

func (t *Tracker) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	language, err := startLanguage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if language == "" {
		writeError(w, http.StatusBadRequest, "target_language is required")
		return
	}
	out, err := t.Start(r.Context(), id, language)
	if err != nil {
		t.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Messages: nonNil(out.Messages), State: viewOf(out.State)})
}

// startLanguage reads target_language from a JSON or form body.
func startLanguage(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			TargetLanguage string `json:"target_language"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return strings.TrimSpace(body.TargetLanguage), nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form body")
	}
	return strings.TrimSpace(r.FormValue("target_language")), nil
}

func (t *Tracker) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	ev, err := turnEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := t.Turn(r.Context(), id, ev)
	if err != nil {
		t.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Messages: nonNil(out.Messages), State: viewOf(out.State)})
}

// turnEvent builds the event of a REST turn: an uploaded audio file, or a
// typed text/translation_text answer.
func turnEvent(r *http.Request) (agent.Event, error) {
	file, header, err := r.FormFile("audio")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("could not read audio upload")
		}
		return uploadEvent(data, header.Header.Get("Content-Type"), r.FormValue("encoding"))
	}
	for _, field := range []string{"text", "translation_text"} {
		if text := strings.TrimSpace(r.FormValue(field)); text != "" {
			return agent.TextSubmitted{Text: text}, nil
		}
	}
	return nil, errors.New("an audio file or a text answer is required")
}

// uploadEvent interprets an uploaded clip. WAV uploads are unwrapped to
// PCM; anything else is passed on as a container for the STT backend.
func uploadEvent(data []byte, contentType, encoding string) (agent.Event, error) {
	if encoding != "" {
		enc, err := audio.ParseEncoding(encoding)
		if err != nil {
			return nil, err
		}
		if enc != audio.EncodingWebM {
			pcm, f, err := audio.DecodeWAV(data)
			if err != nil {
				return nil, errors.New("PCM uploads must be WAV files")
			}
			return agent.AudioSubmitted{Audio: pcm, Encoding: audio.EncodingPCM16, Format: f}, nil
		}
		return agent.AudioSubmitted{Audio: data, Encoding: audio.EncodingWebM}, nil
	}
	if pcm, f, err := audio.DecodeWAV(data); err == nil {
		return agent.AudioSubmitted{Audio: pcm, Encoding: audio.EncodingPCM16, Format: f}, nil
	}
	if mt, _, _ := mime.ParseMediaType(contentType); strings.Contains(mt, "wav") {
		return nil, errors.New("malformed WAV upload")
	}
	return agent.AudioSubmitted{Audio: data, Encoding: audio.EncodingWebM}, nil
}

func (t *Tracker) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	st, err := t.State(r.Context(), id)
	if err != nil {
		t.fail(w, r, id, err)
		return
	}
	if !st.IsComplete() || st.Result == nil {
		writeError(w, http.StatusConflict, "assessment not complete")
		return
	}
	writeJSON(w, http.StatusOK, st.Result)
}

func (t *Tracker) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	st, err := t.State(r.Context(), id)
	if err != nil {
		t.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (t *Tracker) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentId")
	out, err := t.End(r.Context(), id)
	if err != nil {
		t.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Messages: nonNil(out.Messages), State: viewOf(out.State)})
}

// fail maps err to a status code.
func (t *Tracker) fail(w http.ResponseWriter, r *http.Request, id string, err error) {
	status, text := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, text = http.StatusNotFound, "assessment not found"
	case errors.Is(err, store.ErrExists):
		status, text = http.StatusConflict, "assessment already exists"
	case errors.Is(err, assessment.ErrSessionComplete):
		status, text = http.StatusConflict, "assessment already complete"
	case errors.Is(err, ErrInterrupted):
		status, text = http.StatusConflict, "turn abandoned because the assessment ended"
	case errors.Is(err, agent.ErrUnknownLanguage):
		status, text = http.StatusBadRequest, "unsupported language"
	case errors.Is(err, ErrShuttingDown):
		status, text = http.StatusServiceUnavailable, "server shutting down"
	case errors.Is(err, r.Context().Err()):
		status, text = http.StatusRequestTimeout, "request cancelled"
	}
	level := slog.LevelWarn
	if status == http.StatusInternalServerError {
		level = slog.LevelError
	}
	observe.Logger(r.Context()).Log(r.Context(), level, "request failed",
		"assessment_id", id, "status", status, "err", err)
	writeError(w, status, text)
}

func nonNil(msgs []protocol.Message) []protocol.Message {
	if msgs == nil {
		return []protocol.Message{}
	}
	return msgs
}

func writeError(w http.ResponseWriter, status int, text string) {
	writeJSON(w, status, errorResponse{Error: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
