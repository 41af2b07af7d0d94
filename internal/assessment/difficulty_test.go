package assessment_test

import (
	"testing"

	"github.com/MrWong99/lexi/internal/assessment"
)

func TestAdjust_Thresholds(t *testing.T) {
	t.Parallel()

	for d := assessment.MinDifficulty; d <= assessment.MaxDifficulty; d++ {
		if got, want := assessment.Adjust(d, 90), min(d+1, 10); got != want {
			t.Errorf("Adjust(%d, 90): want %d, got %d", d, want, got)
		}
		if got, want := assessment.Adjust(d, 50), max(d-1, 1); got != want {
			t.Errorf("Adjust(%d, 50): want %d, got %d", d, want, got)
		}
		if got := assessment.Adjust(d, 70); got != d {
			t.Errorf("Adjust(%d, 70): want %d, got %d", d, d, got)
		}
	}
}

func TestAdjust_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current int
		score   float64
		want    int
	}{
		{"exactly promote", 5, 85, 6},
		{"just below promote", 5, 84.99, 5},
		{"exactly demote boundary stays", 5, 60, 5},
		{"just below demote", 5, 59.99, 4},
		{"ceiling", 10, 100, 10},
		{"floor", 1, 0, 1},
		{"out of range input is clamped", 42, 70, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := assessment.Adjust(tt.current, tt.score); got != tt.want {
				t.Errorf("want %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAdjust_Sequence(t *testing.T) {
	t.Parallel()

	d := 1
	var got []int
	for _, score := range []float64{90, 55, 70} {
		d = assessment.Adjust(d, score)
		got = append(got, d)
	}
	want := []int{2, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("difficulty sequence: want %v, got %v", want, got)
		}
	}
}
