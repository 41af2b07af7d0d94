package assessment

// Difficulty bounds and the score thresholds that move it.
const (
	MinDifficulty = 1
	MaxDifficulty = 10

	// PromoteScore is the lowest representative score that raises the
	// difficulty by one.
	PromoteScore = 85.0

	// DemoteScore is the score below which the difficulty drops by one.
	DemoteScore = 60.0
)

// Adjust maps the current difficulty and the representative score of one
// scored exercise to the next difficulty. It is pure: the caller is
// responsible for invoking it exactly once per exercise, which
// [SessionState.Append] does.
func Adjust(current int, score float64) int {
	next := current
	switch {
	case score >= PromoteScore:
		next = current + 1
	case score < DemoteScore:
		next = current - 1
	}
	return clampDifficulty(next)
}

// ClampDifficulty bounds d to [MinDifficulty, MaxDifficulty].
func ClampDifficulty(d int) int { return clampDifficulty(d) }

func clampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}
