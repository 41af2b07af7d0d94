// Package mock provides a test double for the stt.Provider interface.
//
// Configure Result/Err for a fixed answer, or Results/Errs to script a
// sequence of answers consumed one per call. Set Block to hold calls until a
// test releases them, which is how callers verify that turns do not
// overlap.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hola"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: pcm})
//	_ = p.CallCount() // 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexi/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. Audio is copied.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned when Results is exhausted.
	Result stt.Transcript

	// Err, if non-nil, is returned when Errs is exhausted.
	Err error

	// Results and Errs script per-call answers. Entry i is used for call i.
	Results []stt.Transcript
	Errs    []error

	// Block, if non-nil, makes Transcribe wait until it is closed or the
	// context is done.
	Block <-chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured answer.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	n := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{Req: cp})
	block := p.Block
	result, err := p.Result, p.Err
	if n < len(p.Results) {
		result = p.Results[n]
	}
	if n < len(p.Errs) {
		err = p.Errs[n]
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call. ok is false if there was none.
func (p *Provider) LastCall() (call TranscribeCall, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
