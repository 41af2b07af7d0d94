package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lexi/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are an examiner.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Score this."},
			{Role: llm.RoleAssistant, Content: "hola"},
		},
		Temperature: 0.2,
		MaxTokens:   300,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	sys := params.Messages[0].OfSystem
	if sys == nil || !strings.HasSuffix(sys.Content.OfString.Value, llm.JSONInstruction) {
		t.Error("want JSON instruction appended to the system prompt")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("want user message second")
	}
	if a := params.Messages[2].OfAssistant; a == nil || a.Content.OfString.Value != "hola" {
		t.Error("want assistant message third")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", params.Model)
	}
	if params.Temperature.Value != 0.2 {
		t.Errorf("temperature = %v, want 0.2", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 300 {
		t.Errorf("max tokens = %d, want 300", params.MaxCompletionTokens.Value)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("want JSON response format")
	}
}

func TestBuildParams_JSONPromptKept(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-4o-mini")
	params, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "Reply in JSON.", JSON: true})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if got := params.Messages[0].OfSystem.Content.OfString.Value; got != "Reply in JSON." {
		t.Errorf("system prompt = %q, want it untouched", got)
	}

	plain, _ := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(plain.Messages) != 1 || plain.ResponseFormat.OfJSONObject != nil {
		t.Error("want a single message and no response format without JSON")
	}
	if _, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "tool"}}}); err == nil {
		t.Error("want error for unknown role")
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message map[string]any
		finish  string
		want    string
		wantErr error
	}{
		{"ok", map[string]any{"role": "assistant", "content": `{"score":7}`}, "stop", `{"score":7}`, nil},
		{"truncated", map[string]any{"role": "assistant", "content": `{"sco`}, "length", "", ErrTruncated},
		{"refused", map[string]any{"role": "assistant", "content": "", "refusal": "no"}, "stop", "", ErrRefused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := chatServer(t, tt.message, tt.finish)
			p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0), WithTimeout(5*time.Second))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			resp, err := p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Score this."}},
				JSON:     true,
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if resp.Usage.TotalTokens != 15 {
				t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("want error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("want error for empty model")
	}
	p, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost:1234/v1"), WithOrganization("org"), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(p.reqOpts); got != 4 {
		t.Errorf("request options = %d, want 4", got)
	}
}

// ── helpers ──

func chatServer(t *testing.T, message map[string]any, finish string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       message,
				"finish_reason": finish,
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}
