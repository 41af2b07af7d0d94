package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	sttopenai "github.com/MrWong99/lexi/pkg/provider/stt/openai"
)

type upload struct {
	path     string
	fileName string
	language string
	model    string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, <-chan upload) {
	t.Helper()
	got := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := upload{path: r.URL.Path}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
				u.fileName = fh[0].Filename
			}
			u.language = r.FormValue("language")
			u.model = r.FormValue("model")
		}
		select {
		case got <- u:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv, got := newServer(t, http.StatusOK, `{"text":"  Hallo, ich heiße Max. "}`)
	p, err := sttopenai.New("sk-test", "", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    make([]byte, 3200),
		Encoding: audio.EncodingPCM16,
		Format:   audio.Format{SampleRate: 16000, Channels: 1},
		Language: "de",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Hallo, ich heiße Max." {
		t.Errorf("want trimmed text, got %q", tr.Text)
	}

	u := <-got
	if !strings.HasSuffix(u.path, "/audio/transcriptions") {
		t.Errorf("want transcriptions path, got %q", u.path)
	}
	if u.fileName != "audio.wav" || u.language != "de" || u.model != "whisper-1" {
		t.Errorf("unexpected upload %+v", u)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`)
	p, _ := sttopenai.New("sk-test", "whisper-1", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))

	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("want ErrEmptyAudio, got %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte("webm"), Encoding: audio.EncodingWebM}); err == nil {
		t.Error("want error for server failure")
	}
	if _, err := sttopenai.New("", ""); err == nil {
		t.Error("want error for empty apiKey")
	}
}
