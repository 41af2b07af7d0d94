package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lexi/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Grade the answer.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Je suis allé."}},
		Temperature:  0.3,
		MaxTokens:    200,
		JSON:         true,
	})
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	sys := params.Messages[0]
	if sys.Role != anyllmlib.RoleSystem || !strings.HasSuffix(sys.ContentString(), llm.JSONInstruction) {
		t.Errorf("system message = %q, want JSON instruction appended", sys.ContentString())
	}
	if got := params.Messages[1]; got.Role != llm.RoleUser || got.ContentString() != "Je suis allé." {
		t.Errorf("user message = %+v", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v, want 200", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want no system message", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("want provider defaults for temperature and max tokens")
	}
}

func TestStripFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"score": 7}`, `{"score": 7}`},
		{"json fence", "```json\n{\"score\": 7}\n```", `{"score": 7}`},
		{"bare fence", "```\n{\"score\": 7}\n```", `{"score": 7}`},
		{"single line fence", "```{\"score\": 7}```", `{"score": 7}`},
		{"unterminated", "```json\n{\"score\": 7}", "```json\n{\"score\": 7}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripFence(tt.in); got != tt.want {
				t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("backends not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "openai"} {
		if !slices.Contains(got, want) {
			t.Errorf("backends %v missing %q", got, want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr string
	}{
		{"empty model", "openai", "", nil, "model"},
		{"unknown backend", "fakecloud", "m", []anyllmlib.Option{anyllmlib.WithAPIKey("x")}, "unsupported backend"},
		{"openai with key", "openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, ""},
		{"anthropic mixed case", " Anthropic ", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant")}, ""},
		{"ollama without key", "ollama", "llama3", nil, ""},
		{"llamacpp without key", "llamacpp", "llama3", nil, ""},
		{"openai missing key", "openai", "gpt-4o", nil, "openai"},
	}
	t.Setenv("OPENAI_API_KEY", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
			if want := strings.ToLower(strings.TrimSpace(tt.backend)); p.Name() != want {
				t.Errorf("Name() = %q, want %q", p.Name(), want)
			}
		})
	}
}
