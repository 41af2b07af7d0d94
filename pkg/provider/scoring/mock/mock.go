// Package mock provides a test double for the scoring.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexi/pkg/provider/scoring"
)

// ScoreCall records a single invocation of Score.
type ScoreCall struct {
	Req scoring.Request
}

// Provider is a mock implementation of scoring.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned when Results is exhausted.
	Result scoring.Evaluation

	// Results, when non-empty, are returned in order, one per call.
	Results []scoring.Evaluation

	// Err, if non-nil, is returned from Score.
	Err error

	// Block, if non-nil, makes Score wait until it is closed or the context
	// is cancelled.
	Block <-chan struct{}

	// Calls records every invocation of Score in order.
	Calls []ScoreCall
}

var _ scoring.Provider = (*Provider)(nil)

// Score implements scoring.Provider.
func (p *Provider) Score(ctx context.Context, req scoring.Request) (scoring.Evaluation, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, ScoreCall{Req: req})
	res := p.Result
	if idx < len(p.Results) {
		res = p.Results[idx]
	}
	err := p.Err
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return scoring.Evaluation{}, ctx.Err()
		}
	}
	if err != nil {
		return scoring.Evaluation{}, err
	}
	return res, nil
}

// CallCount returns the number of Score invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call. It panics if there were none.
func (p *Provider) LastCall() ScoreCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[len(p.Calls)-1]
}
