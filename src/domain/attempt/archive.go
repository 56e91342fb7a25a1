package attempt

import (
	"context"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Summary is the archived view of one completed ritual.
type Summary struct {
	ExternalID       shared.ExternalID
	Mode             string
	ScoreRaw         int
	ScoreMax         int
	CompletedAt      time.Time
	TimeTotalSeconds int
	Answers          []Answer
	FeedbackText     string
	Version          string
	DisplayName      string
	Username         string
	QualifiedVia     string
}

// NewSummary builds the archive summary of a completed attempt.
func NewSummary(a *Attempt, externalID shared.ExternalID, version string) Summary {
	s := Summary{
		ExternalID:       externalID,
		Mode:             a.Mode,
		ScoreRaw:         a.ScoreRaw,
		ScoreMax:         a.ScoreMax,
		TimeTotalSeconds: a.TimeTotalSeconds,
		Answers:          a.Answers,
		FeedbackText:     a.FeedbackText,
		Version:          version,
	}
	if a.CompletedAt != nil {
		s.CompletedAt = *a.CompletedAt
	}
	return s
}

// Verdict returns the pass/fail label for the summary.
func (s Summary) Verdict() string {
	return Verdict(s.ScoreRaw, s.ScoreMax, s.Mode)
}

// Profile returns the player profile label for the summary.
func (s Summary) Profile() string {
	return Profile(s.ScoreRaw, s.ScoreMax, s.TimeTotalSeconds)
}

// Archiver writes ritual summaries to the long-term archive.
type Archiver interface {
	Archive(ctx context.Context, summary Summary) (string, error)
	// AppendFeedback sets the feedback of the player's latest archived
	// ritual, creating a minimal entry when none exists.
	AppendFeedback(ctx context.Context, externalID shared.ExternalID, text string) (string, error)
}
