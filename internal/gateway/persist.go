package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
)

// persist saves st, retrying backend errors with exponential backoff. A
// version conflict means another writer moved the record on; the actor
// reloads the stored state and the turn is dropped. Invalid states are
// never retried.
func (s *session) persist(ctx context.Context, st assessment.SessionState) (assessment.SessionState, error) {
	backoff := s.t.cfg.SaveBackoff
	for attempt := 0; ; attempt++ {
		saved, err := s.t.cfg.Store.Save(ctx, st)
		if err == nil {
			return saved, nil
		}
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			s.reload(ctx)
			return assessment.SessionState{}, err
		case errors.Is(err, assessment.ErrInvariantViolation), errors.Is(err, store.ErrNotFound):
			return assessment.SessionState{}, err
		case attempt >= s.t.cfg.SaveRetries:
			return assessment.SessionState{}, err
		}
		s.log.Warn("save failed, retrying", "attempt", attempt+1, "backoff", backoff, "err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return assessment.SessionState{}, ctx.Err()
		}
		backoff *= 2
	}
}

func (s *session) reload(ctx context.Context) {
	fresh, err := s.t.cfg.Store.Load(ctx, s.id)
	if err != nil {
		s.log.Error("reload after version conflict failed", "err", err)
		return
	}
	s.mu.Lock()
	s.state = fresh
	s.mu.Unlock()
	s.log.Warn("state reloaded after version conflict", "version", fresh.Version)
}
