// Package storetest is a conformance suite every [store.Store]
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
)

// Sample returns a valid conversation-phase state with two exercises.
func Sample(id string) assessment.SessionState {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, err := assessment.New(id, "Spanish", 1, t0).Enter(assessment.PhaseConversation, t0)
	if err != nil {
		panic(err)
	}
	for i, score := range []float64{90, 55} {
		now := t0.Add(time.Duration(i+1) * time.Minute)
		s, err = s.Append(assessment.Exercise{
			ID:         fmt.Sprintf("ex_%08d", i),
			Kind:       assessment.KindSpeaking,
			Prompt:     "Describe your daily routine.",
			Transcript: "Me levanto a las siete",
			Scores:     assessment.Scores{Grammar: assessment.Score(score), Fluency: assessment.Score(score)},
			Feedback:   "ok",
			CreatedAt:  now,
		}, now)
		if err != nil {
			panic(err)
		}
	}
	return s.Note("sample")
}

// Run exercises s against the store contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and load round trip", func(t *testing.T) {
		st := newStore(t)
		in := Sample("rt-1")
		created, err := st.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.Version != 1 {
			t.Fatalf("want version 1, got %d", created.Version)
		}
		got, err := st.Load(ctx, "rt-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !reflect.DeepEqual(got, created) {
			t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", created, got)
		}
		if got.Exercises[0].ID != "ex_00000000" || got.Exercises[1].ID != "ex_00000001" {
			t.Errorf("exercise order not preserved: %v", got.Exercises)
		}
	})

	t.Run("create twice", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Create(ctx, Sample("dup")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := st.Create(ctx, Sample("dup")); !errors.Is(err, store.ErrExists) {
			t.Fatalf("want ErrExists, got %v", err)
		}
	})

	t.Run("load missing", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Load(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("save bumps version", func(t *testing.T) {
		st := newStore(t)
		s, err := st.Create(ctx, Sample("v"))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s = s.Note("next")
		saved, err := st.Save(ctx, s)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Version != 2 {
			t.Fatalf("want version 2, got %d", saved.Version)
		}
		got, _ := st.Load(ctx, "v")
		if got.Version != 2 || got.Insights[len(got.Insights)-1] != "next" {
			t.Errorf("unexpected reloaded state %+v", got)
		}
	})

	t.Run("stale save conflicts", func(t *testing.T) {
		st := newStore(t)
		s, _ := st.Create(ctx, Sample("stale"))
		if _, err := st.Save(ctx, s); err != nil {
			t.Fatalf("first Save: %v", err)
		}
		if _, err := st.Save(ctx, s); !errors.Is(err, store.ErrVersionConflict) {
			t.Fatalf("want ErrVersionConflict, got %v", err)
		}
	})

	t.Run("save missing", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Save(ctx, Sample("ghost")); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid state rejected", func(t *testing.T) {
		st := newStore(t)
		bad := Sample("bad")
		bad.SpeakingDone = 7
		if _, err := st.Create(ctx, bad); !errors.Is(err, assessment.ErrInvariantViolation) {
			t.Fatalf("want ErrInvariantViolation, got %v", err)
		}
	})

	t.Run("concurrent saves of one version", func(t *testing.T) {
		st := newStore(t)
		s, _ := st.Create(ctx, Sample("race"))
		var wg sync.WaitGroup
		results := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.Save(ctx, s)
				results <- err
			}()
		}
		wg.Wait()
		close(results)
		ok := 0
		for err := range results {
			switch {
			case err == nil:
				ok++
			case !errors.Is(err, store.ErrVersionConflict):
				t.Errorf("want nil or ErrVersionConflict, got %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("want exactly one winning save, got %d", ok)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
