package airtable

import (
	"context"
	"errors"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// MaxAnswerRows caps the answer rows written per attempt.
const MaxAnswerRows = 60

// DetailWriter implements attempt.DetailWriter on the answers and feedback
// tables. Both tables link back to the attempt through the "exam" column.
type DetailWriter struct {
	Client        *Client
	AnswersTable  string
	FeedbackTable string
	Clock         func() time.Time
}

func NewDetailWriter(client *Client, answersTable, feedbackTable string) *DetailWriter {
	return &DetailWriter{
		Client:        client,
		AnswersTable:  answersTable,
		FeedbackTable: feedbackTable,
		Clock:         func() time.Time { return time.Now().UTC() },
	}
}

// WriteAnswers writes one row per answer and returns how many succeeded along
// with the joined errors of the failed rows.
func (w *DetailWriter) WriteAnswers(ctx context.Context, attemptID shared.AttemptID, answers []attempt.Answer) (int, error) {
	if len(answers) > MaxAnswerRows {
		answers = answers[:MaxAnswerRows]
	}
	written := 0
	var errs []error
	for _, a := range answers {
		fields := map[string]any{
			"exam":       []string{string(attemptID)},
			"is_correct": a.Correct,
		}
		if a.QuestionID != "" {
			fields["question_id"] = a.QuestionID
		}
		if a.ChoiceLetter != "" {
			fields["choice_letter"] = a.ChoiceLetter
		}
		if a.Status != "" {
			fields["status"] = string(a.Status)
		}
		if _, err := w.Client.CreateTolerant(ctx, w.AnswersTable, fields, []string{"exam", "question_id"}); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

func (w *DetailWriter) WriteFeedback(ctx context.Context, attemptID shared.AttemptID, externalID shared.ExternalID, text string) error {
	fields := map[string]any{
		"exam":          []string{string(attemptID)},
		"feedback_text": text,
		"created_at":    w.Clock().Format(time.RFC3339Nano),
	}
	if externalID != "" {
		fields["player_telegram_user_id"] = string(externalID)
	}
	_, err := w.Client.CreateTolerant(ctx, w.FeedbackTable, fields, []string{"exam", "feedback_text"})
	return err
}
