package qualification_test

import (
	"testing"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/qualification"
)

var base = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

// run builds a completed free attempt; age orders attempts, smaller is newer.
func run(score, seconds, age int) *attempt.Attempt {
	done := base.Add(-time.Duration(age) * time.Hour)
	return &attempt.Attempt{
		ID:               "att",
		IsFree:           true,
		Status:           attempt.StatusCompleted,
		StartedAt:        done.Add(-time.Duration(seconds) * time.Second),
		CompletedAt:      &done,
		ScoreRaw:         score,
		ScoreMax:         15,
		TimeTotalSeconds: seconds,
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		attempts []*attempt.Attempt
		want     qualification.Decision
	}{
		{
			name:     "perfect with zero time",
			attempts: []*attempt.Attempt{run(15, 0, 0)},
			want:     qualification.Decision{Qualified: true, Via: player.PathPerfect},
		},
		{
			name:     "perfect with very long time",
			attempts: []*attempt.Attempt{run(15, 10000, 0)},
			want:     qualification.Decision{Qualified: true, Via: player.PathPerfect},
		},
		{
			name:     "two strong attempts",
			attempts: []*attempt.Attempt{run(13, 200, 0), run(12, 300, 1)},
			want:     qualification.Decision{Qualified: true, Via: player.PathStrong},
		},
		{
			name:     "weak attempt between two strong ones",
			attempts: []*attempt.Attempt{run(13, 200, 0), run(5, 100, 1), run(12, 300, 2)},
			want:     qualification.Decision{Qualified: true, Via: player.PathStrong},
		},
		{
			name:     "strong attempt too slow is not eligible",
			attempts: []*attempt.Attempt{run(13, 200, 0), run(12, 361, 1)},
			want:     qualification.Decision{},
		},
		{
			name:     "strong boundary at 360 seconds",
			attempts: []*attempt.Attempt{run(12, 360, 0), run(12, 360, 1)},
			want:     qualification.Decision{Qualified: true, Via: player.PathStrong},
		},
		{
			name:     "single strong attempt",
			attempts: []*attempt.Attempt{run(14, 100, 0)},
			want:     qualification.Decision{},
		},
		{
			name:     "best two decide, not last two",
			attempts: []*attempt.Attempt{run(11, 100, 0), run(4, 100, 1), run(14, 150, 5), run(13, 150, 6)},
			want:     qualification.Decision{Qualified: true, Via: player.PathStrong},
		},
		{
			name:     "steady three",
			attempts: []*attempt.Attempt{run(8, 100, 0), run(8, 100, 1), run(8, 100, 2)},
			want:     qualification.Decision{Qualified: true, Via: player.PathConsistency},
		},
		{
			name:     "steady three with one slow run",
			attempts: []*attempt.Attempt{run(8, 100, 0), run(8, 500, 1), run(8, 100, 2)},
			want:     qualification.Decision{},
		},
		{
			name:     "steady boundary at 420 seconds is excluded",
			attempts: []*attempt.Attempt{run(8, 419, 0), run(8, 420, 1), run(8, 100, 2)},
			want:     qualification.Decision{},
		},
		{
			name:     "steady average below threshold",
			attempts: []*attempt.Attempt{run(8, 100, 0), run(8, 100, 1), run(7, 100, 2)},
			want:     qualification.Decision{},
		},
		{
			name:     "steady uses only the three most recent",
			attempts: []*attempt.Attempt{run(9, 100, 0), run(8, 100, 1), run(7, 100, 2), run(0, 900, 3)},
			want:     qualification.Decision{Qualified: true, Via: player.PathConsistency},
		},
		{
			name:     "steady needs three attempts",
			attempts: []*attempt.Attempt{run(10, 100, 0), run(10, 100, 1)},
			want:     qualification.Decision{},
		},
		{
			name:     "perfect wins over strong",
			attempts: []*attempt.Attempt{run(13, 200, 0), run(12, 300, 1), run(15, 900, 2)},
			want:     qualification.Decision{Qualified: true, Via: player.PathPerfect},
		},
		{
			name:     "no attempts",
			attempts: nil,
			want:     qualification.Decision{},
		},
	}

	eval := qualification.NewEvaluator(qualification.DefaultRules())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval.Evaluate(tt.attempts); got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_IgnoresPaidAndUnfinishedAttempts(t *testing.T) {
	paid := run(15, 100, 0)
	paid.IsFree = false
	started := run(15, 100, 1)
	started.Status = attempt.StatusStarted

	eval := qualification.NewEvaluator(qualification.DefaultRules())
	if got := eval.Evaluate([]*attempt.Attempt{paid, started, nil}); got.Qualified {
		t.Errorf("Evaluate() = %+v, want not qualified", got)
	}
}

func TestEvaluator_HistoryWindow(t *testing.T) {
	attempts := make([]*attempt.Attempt, 0, 11)
	for i := 0; i < 10; i++ {
		attempts = append(attempts, run(1, 100, i))
	}
	// Eleventh oldest perfect run falls outside the window.
	attempts = append(attempts, run(15, 100, 20))

	eval := qualification.NewEvaluator(qualification.DefaultRules())
	if got := eval.Evaluate(attempts); got.Qualified {
		t.Errorf("Evaluate() = %+v, attempts beyond the history size must be ignored", got)
	}
}

func TestEvaluator_OrdersByCompletion(t *testing.T) {
	// Given oldest first, the three newest are still the steady window.
	attempts := []*attempt.Attempt{run(0, 900, 3), run(7, 100, 2), run(8, 100, 1), run(9, 100, 0)}
	eval := qualification.NewEvaluator(qualification.DefaultRules())
	if got := eval.Evaluate(attempts); got.Via != player.PathConsistency {
		t.Errorf("Evaluate() = %+v, want path A", got)
	}
}
