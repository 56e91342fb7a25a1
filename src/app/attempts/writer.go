package attempts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Writer records attempt start and completion facts. The attempt row itself
// is authoritative; answer and feedback rows are best effort.
type Writer struct {
	Attempts        attempt.Repository
	Details         attempt.DetailWriter
	DefaultScoreMax int
	Logger          *zap.Logger
	Clock           func() time.Time
}

// NewWriter creates a new attempt lifecycle writer. details may be nil.
func NewWriter(attempts attempt.Repository, details attempt.DetailWriter, defaultScoreMax int, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultScoreMax <= 0 {
		defaultScoreMax = attempt.DefaultScoreMax
	}
	return &Writer{
		Attempts:        attempts,
		Details:         details,
		DefaultScoreMax: defaultScoreMax,
		Logger:          logger,
		Clock:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateCommand describes a new attempt.
type CreateCommand struct {
	PlayerID shared.PlayerID
	IsFree   bool
	ScoreMax int
	Mode     string
}

// Create persists a STARTED attempt.
func (w *Writer) Create(ctx context.Context, cmd CreateCommand) (*attempt.Attempt, error) {
	scoreMax := cmd.ScoreMax
	if scoreMax <= 0 {
		scoreMax = w.DefaultScoreMax
	}
	a, err := attempt.NewAttempt(cmd.PlayerID, cmd.IsFree, scoreMax, cmd.Mode, w.Clock())
	if err != nil {
		return nil, err
	}
	if err := w.Attempts.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Warnings reported when a detail write does not go through.
const (
	WarnAnswersPartial = "answers_partial"
	WarnFeedbackFailed = "feedback_failed"
)

// Report describes what Complete managed to write.
type Report struct {
	Attempt         *attempt.Attempt
	AnswersWritten  int
	FeedbackWritten bool
	Warnings        []string
}

// Complete stamps the result on a, saves it, then writes the detail rows.
// Only the attempt save can fail the call.
func (w *Writer) Complete(ctx context.Context, a *attempt.Attempt, externalID shared.ExternalID, result attempt.Result) (Report, error) {
	if err := a.Complete(result, w.Clock()); err != nil {
		return Report{}, err
	}
	if err := w.Attempts.SaveCompletion(ctx, a); err != nil {
		return Report{}, err
	}

	report := Report{Attempt: a}
	if w.Details == nil {
		return report, nil
	}

	if len(a.Answers) > 0 {
		n, err := w.Details.WriteAnswers(ctx, a.ID, a.Answers)
		report.AnswersWritten = n
		if err != nil {
			w.Logger.Warn("answer rows not fully written",
				zap.String("attempt_id", string(a.ID)),
				zap.Int("written", n),
				zap.Int("total", len(a.Answers)),
				zap.Error(err),
			)
			report.Warnings = append(report.Warnings, WarnAnswersPartial)
		}
	}

	if a.FeedbackText != "" {
		if err := w.WriteFeedback(ctx, a.ID, externalID, a.FeedbackText); err != nil {
			report.Warnings = append(report.Warnings, WarnFeedbackFailed)
		} else {
			report.FeedbackWritten = true
		}
	}
	return report, nil
}

// WriteFeedback stores one feedback row and logs failures.
func (w *Writer) WriteFeedback(ctx context.Context, attemptID shared.AttemptID, externalID shared.ExternalID, text string) error {
	if w.Details == nil {
		return nil
	}
	if err := w.Details.WriteFeedback(ctx, attemptID, externalID, text); err != nil {
		w.Logger.Warn("feedback row not written",
			zap.String("attempt_id", string(attemptID)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
