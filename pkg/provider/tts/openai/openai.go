// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lexi/pkg/provider/tts"
)

const defaultVoice = "alloy"

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio API. Output is
// always MP3.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

// New creates a speech provider. model may be empty for tts-1 and voice
// empty for "alloy".
func New(apiKey, model, voice string, opts ...option.RequestOption) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: oai.SpeechModel(model), voice: voice}
	if p.model == "" {
		p.model = oai.SpeechModelTTS1
	}
	if p.voice == "" {
		p.voice = defaultVoice
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	p.client = oai.NewClient(all...)
	return p, nil
}

// Synthesize speaks req.Text. The speech model detects the language from the
// text, so req.Language is not sent.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	if req.Text == "" {
		return tts.Speech{}, tts.ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: read body: %w", err)
	}
	return tts.Speech{Audio: clip, MIMEType: "audio/mpeg"}, nil
}
