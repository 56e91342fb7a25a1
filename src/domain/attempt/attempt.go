package attempt

import (
	"errors"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Status represents the lifecycle state of a ritual attempt.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
)

// DefaultScoreMax is the question count of a standard ritual.
const DefaultScoreMax = 15

// AnswerStatus is the per-question outcome reported by the front-end.
type AnswerStatus string

const (
	AnswerCorrect AnswerStatus = "correct"
	AnswerWrong   AnswerStatus = "wrong"
	AnswerTimeout AnswerStatus = "timeout"
)

// Answer is one question's outcome within an attempt.
type Answer struct {
	QuestionID   string
	ChoiceLetter string
	Status       AnswerStatus
	Correct      bool
}

// Result carries the normalized completion payload.
type Result struct {
	ScoreRaw         int
	ScoreMax         int
	TimeTotalSeconds int
	Answers          []Answer
	FeedbackText     string
}

// Validate checks score and timing bounds.
func (r Result) Validate() error {
	if r.ScoreMax <= 0 {
		return ErrInvalidScore
	}
	if r.ScoreRaw < 0 || r.ScoreRaw > r.ScoreMax {
		return ErrInvalidScore
	}
	if r.TimeTotalSeconds < 0 {
		return ErrInvalidTime
	}
	return nil
}

// Attempt aggregate represents one ritual session.
type Attempt struct {
	ID               shared.AttemptID
	PlayerID         shared.PlayerID
	Label            string
	Mode             string
	Env              string
	Status           Status
	IsFree           bool
	StartedAt        time.Time
	CompletedAt      *time.Time
	ScoreRaw         int
	ScoreMax         int
	TimeTotalSeconds int
	Answers          []Answer
	FeedbackText     string
}

// NewAttempt creates a started attempt. IsFree is fixed here and never changes.
func NewAttempt(playerID shared.PlayerID, isFree bool, scoreMax int, mode string, startedAt time.Time) (*Attempt, error) {
	if err := playerID.Validate(); err != nil {
		return nil, err
	}
	if startedAt.IsZero() {
		return nil, errors.New("start time is required")
	}
	if scoreMax <= 0 {
		scoreMax = DefaultScoreMax
	}
	return &Attempt{
		PlayerID:  playerID,
		Label:     startedAt.UTC().Format("RIT-20060102-150405"),
		Mode:      mode,
		Status:    StatusStarted,
		IsFree:    isFree,
		StartedAt: startedAt,
		ScoreMax:  scoreMax,
	}, nil
}

// Complete records the result. A completed attempt is immutable.
func (a *Attempt) Complete(result Result, completedAt time.Time) error {
	if a.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	if result.ScoreMax <= 0 {
		result.ScoreMax = a.ScoreMax
	}
	if err := result.Validate(); err != nil {
		return err
	}
	if completedAt.Before(a.StartedAt) {
		return errors.New("completion time cannot be before start time")
	}
	a.Status = StatusCompleted
	a.CompletedAt = &completedAt
	a.ScoreRaw = result.ScoreRaw
	a.ScoreMax = result.ScoreMax
	a.TimeTotalSeconds = result.TimeTotalSeconds
	a.Answers = append([]Answer(nil), result.Answers...)
	a.FeedbackText = result.FeedbackText
	return nil
}

// IsCompleted reports whether the attempt has a result.
func (a *Attempt) IsCompleted() bool {
	return a.Status == StatusCompleted
}
