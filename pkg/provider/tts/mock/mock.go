// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexi/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider. When Speech.Audio is
// nil, Synthesize returns the request text as bytes so tests can see which
// line a clip belongs to.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by every successful call.
	Speech tts.Speech

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Speech or Err.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Req: req})
	if p.Err != nil {
		return tts.Speech{}, p.Err
	}
	if p.Speech.Audio == nil {
		return tts.Speech{Audio: []byte(req.Text), MIMEType: "audio/mock"}, nil
	}
	return p.Speech, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ tts.Provider = (*Provider)(nil)
