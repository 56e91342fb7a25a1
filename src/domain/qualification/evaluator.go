// Package qualification decides whether a player's recent free rituals earn
// an access window, and through which path.
package qualification

import (
	"sort"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
)

// Rules holds the thresholds of the three qualification paths. Percentages
// are integers so that 12/15 against 80% compares exactly.
type Rules struct {
	// HistorySize caps how many recent attempts are inspected.
	HistorySize int

	// StrongMaxSeconds bounds the attempts eligible for path B (inclusive).
	StrongMaxSeconds int
	StrongPercent    int
	StrongCount      int

	// SteadyMaxSeconds bounds every attempt of path A (exclusive).
	SteadyMaxSeconds int
	SteadyPercent    int
	SteadyCount      int
}

// DefaultRules mirrors the 15-question baseline: B needs two runs of 12+
// within 6 minutes, A needs the last three under 7 minutes averaging 8+.
func DefaultRules() Rules {
	return Rules{
		HistorySize:      10,
		StrongMaxSeconds: 360,
		StrongPercent:    80,
		StrongCount:      2,
		SteadyMaxSeconds: 420,
		SteadyPercent:    53,
		SteadyCount:      3,
	}
}

// Decision is the evaluator outcome.
type Decision struct {
	Qualified bool
	Via       player.QualificationPath
}

// Evaluator applies Rules to a player's completed free attempts.
type Evaluator struct {
	Rules Rules
}

func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{Rules: rules}
}

// Evaluate checks path C, then B, then A; the first match wins. Attempts that
// are not completed or not free are ignored.
func (e *Evaluator) Evaluate(attempts []*attempt.Attempt) Decision {
	recent := e.recent(attempts)
	switch {
	case perfect(recent):
		return Decision{Qualified: true, Via: player.PathPerfect}
	case e.strong(recent):
		return Decision{Qualified: true, Via: player.PathStrong}
	case e.steady(recent):
		return Decision{Qualified: true, Via: player.PathConsistency}
	}
	return Decision{}
}

// recent filters eligible attempts, orders them newest first and truncates
// to the history size.
func (e *Evaluator) recent(attempts []*attempt.Attempt) []*attempt.Attempt {
	out := make([]*attempt.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a == nil || !a.IsFree || !a.IsCompleted() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return completedAt(out[i]).After(completedAt(out[j]))
	})
	if e.Rules.HistorySize > 0 && len(out) > e.Rules.HistorySize {
		out = out[:e.Rules.HistorySize]
	}
	return out
}

func perfect(attempts []*attempt.Attempt) bool {
	for _, a := range attempts {
		if a.ScoreMax > 0 && a.ScoreRaw == a.ScoreMax {
			return true
		}
	}
	return false
}

// strong ranks the fast attempts by score, then time, and requires the best
// StrongCount to each reach StrongPercent.
func (e *Evaluator) strong(attempts []*attempt.Attempt) bool {
	fast := make([]*attempt.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.TimeTotalSeconds <= e.Rules.StrongMaxSeconds {
			fast = append(fast, a)
		}
	}
	if e.Rules.StrongCount <= 0 || len(fast) < e.Rules.StrongCount {
		return false
	}
	sort.SliceStable(fast, func(i, j int) bool {
		if fast[i].ScoreRaw != fast[j].ScoreRaw {
			return fast[i].ScoreRaw > fast[j].ScoreRaw
		}
		return fast[i].TimeTotalSeconds < fast[j].TimeTotalSeconds
	})
	for _, a := range fast[:e.Rules.StrongCount] {
		if a.ScoreRaw*100 < e.Rules.StrongPercent*a.ScoreMax {
			return false
		}
	}
	return true
}

// steady looks at exactly the SteadyCount most recent attempts.
func (e *Evaluator) steady(attempts []*attempt.Attempt) bool {
	n := e.Rules.SteadyCount
	if n <= 0 || len(attempts) < n {
		return false
	}
	var scoreSum, maxSum int
	for _, a := range attempts[:n] {
		if a.TimeTotalSeconds >= e.Rules.SteadyMaxSeconds {
			return false
		}
		scoreSum += a.ScoreRaw
		maxSum += a.ScoreMax
	}
	// avg(score) >= pct/100 * avg(max)  <=>  sum(score)*100 >= pct*sum(max)
	return scoreSum*100 >= e.Rules.SteadyPercent*maxSum
}

func completedAt(a *attempt.Attempt) time.Time {
	if a.CompletedAt != nil {
		return *a.CompletedAt
	}
	return a.StartedAt
}
