package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/lexi/pkg/provider/llm"
)

const promptSystem = `You write speaking questions for a %s language proficiency interview.
Difficulty %d on a 1-10 scale: 1-3 simple present-tense questions with basic vocabulary,
4-6 past and future tenses on everyday topics, 7-10 abstract topics that call for opinions,
hypotheticals and the subjunctive.
Write the question in %s. Reply with the question only, one sentence, no quotes.`

const passageSystem = `You write short reading passages in %s for a translation exercise.
Difficulty %d on a 1-10 scale: 1-3 one or two simple sentences with common words,
4-6 mixed tenses on everyday topics, 7-10 idioms, cultural references or technical vocabulary.
Reply with the passage only, at most three sentences, no quotes and no translation.`

// LLMContent generates fresh prompts and passages with a language model.
// The agent falls back to [StaticContent] when it fails.
type LLMContent struct {
	LLM         llm.Provider
	Temperature float64
}

var _ Content = (*LLMContent)(nil)

// SpeakingPrompt implements Content.
func (c *LLMContent) SpeakingPrompt(ctx context.Context, req ContentRequest) (string, error) {
	return c.generate(ctx, fmt.Sprintf(promptSystem, req.Language.Name, req.Difficulty, req.Language.Name), req.Previous)
}

// ReadingPassage implements Content.
func (c *LLMContent) ReadingPassage(ctx context.Context, req ContentRequest) (string, error) {
	return c.generate(ctx, fmt.Sprintf(passageSystem, req.Language.Name, req.Difficulty), req.Previous)
}

func (c *LLMContent) generate(ctx context.Context, system string, previous []string) (string, error) {
	user := "Write one now."
	if len(previous) > 0 {
		user = "Do not repeat or paraphrase any of these:\n- " + strings.Join(previous, "\n- ") + "\n\n" + user
	}
	temp := c.Temperature
	if temp == 0 {
		temp = 0.9
	}
	resp, err := c.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature:  temp,
		MaxTokens:    200,
	})
	if err != nil {
		return "", fmt.Errorf("agent: generate content: %w", err)
	}
	text := strings.Trim(strings.TrimSpace(resp.Content), `"“”`)
	if text == "" {
		return "", fmt.Errorf("agent: generate content: empty completion")
	}
	for _, p := range previous {
		if strings.EqualFold(p, text) {
			return "", fmt.Errorf("agent: generate content: repeated %q", text)
		}
	}
	return text, nil
}
