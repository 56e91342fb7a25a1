package attempts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvet-oracle/ritual/src/app/attempts"
	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
	"github.com/velvet-oracle/ritual/src/infra/memory"
)

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type mockDetails struct {
	writeAnswersFunc  func(ctx context.Context, id shared.AttemptID, answers []attempt.Answer) (int, error)
	writeFeedbackFunc func(ctx context.Context, id shared.AttemptID, ext shared.ExternalID, text string) error
}

func (m *mockDetails) WriteAnswers(ctx context.Context, id shared.AttemptID, answers []attempt.Answer) (int, error) {
	if m.writeAnswersFunc != nil {
		return m.writeAnswersFunc(ctx, id, answers)
	}
	return len(answers), nil
}

func (m *mockDetails) WriteFeedback(ctx context.Context, id shared.AttemptID, ext shared.ExternalID, text string) error {
	if m.writeFeedbackFunc != nil {
		return m.writeFeedbackFunc(ctx, id, ext, text)
	}
	return nil
}

type mockAttempts struct {
	attempt.Repository
	saveCompletionFunc func(ctx context.Context, a *attempt.Attempt) error
}

func (m *mockAttempts) SaveCompletion(ctx context.Context, a *attempt.Attempt) error {
	return m.saveCompletionFunc(ctx, a)
}

func newWriter(repo attempt.Repository, details attempt.DetailWriter) *attempts.Writer {
	w := attempts.NewWriter(repo, details, 0, nil)
	w.Clock = func() time.Time { return start }
	return w
}

func TestCreateUsesDefaultScoreMax(t *testing.T) {
	repo := memory.NewAttemptRepository()
	w := newWriter(repo, nil)

	a, err := w.Create(context.Background(), attempts.CreateCommand{PlayerID: "recP", IsFree: true, Mode: "Prod"})

	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, attempt.DefaultScoreMax, a.ScoreMax)
	assert.Equal(t, attempt.StatusStarted, a.Status)
	stored, err := repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFree)
}

func TestCompleteWritesDetails(t *testing.T) {
	repo := memory.NewAttemptRepository()
	details := memory.NewDetailWriter()
	w := newWriter(repo, details)
	a, err := w.Create(context.Background(), attempts.CreateCommand{PlayerID: "recP", IsFree: true})
	require.NoError(t, err)

	report, err := w.Complete(context.Background(), a, "42", attempt.Result{
		ScoreRaw:         10,
		TimeTotalSeconds: 200,
		Answers:          []attempt.Answer{{QuestionID: "q1", Correct: true}, {QuestionID: "q2"}},
		FeedbackText:     "merci",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, report.AnswersWritten)
	assert.True(t, report.FeedbackWritten)
	assert.Empty(t, report.Warnings)
	stored, err := repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusCompleted, stored.Status)
	assert.Equal(t, 15, stored.ScoreMax)
	assert.Len(t, details.Answers(a.ID), 2)
	assert.Len(t, details.Feedback(), 1)
}

func TestCompleteDetailFailuresAreWarnings(t *testing.T) {
	repo := memory.NewAttemptRepository()
	details := &mockDetails{
		writeAnswersFunc: func(ctx context.Context, id shared.AttemptID, answers []attempt.Answer) (int, error) {
			return 1, errors.New("row rejected")
		},
		writeFeedbackFunc: func(ctx context.Context, id shared.AttemptID, ext shared.ExternalID, text string) error {
			return shared.ErrStoreUnavailable
		},
	}
	w := newWriter(repo, details)
	a, err := w.Create(context.Background(), attempts.CreateCommand{PlayerID: "recP"})
	require.NoError(t, err)

	report, err := w.Complete(context.Background(), a, "42", attempt.Result{
		ScoreRaw:     3,
		ScoreMax:     15,
		Answers:      []attempt.Answer{{QuestionID: "q1"}, {QuestionID: "q2"}},
		FeedbackText: "bof",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, report.AnswersWritten)
	assert.False(t, report.FeedbackWritten)
	assert.ElementsMatch(t, []string{attempts.WarnAnswersPartial, attempts.WarnFeedbackFailed}, report.Warnings)
}

func TestCompleteSurfacesAttemptSaveFailure(t *testing.T) {
	repo := &mockAttempts{saveCompletionFunc: func(ctx context.Context, a *attempt.Attempt) error {
		return shared.ErrStoreUnavailable
	}}
	detailsCalled := false
	details := &mockDetails{writeAnswersFunc: func(ctx context.Context, id shared.AttemptID, answers []attempt.Answer) (int, error) {
		detailsCalled = true
		return 0, nil
	}}
	w := newWriter(repo, details)
	a, err := attempt.NewAttempt("recP", true, 15, "", start)
	require.NoError(t, err)
	a.ID = "recA"

	_, err = w.Complete(context.Background(), a, "42", attempt.Result{ScoreRaw: 1, Answers: []attempt.Answer{{QuestionID: "q"}}})

	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.False(t, detailsCalled)
}

func TestCompleteRejectsCompletedAttempt(t *testing.T) {
	w := newWriter(memory.NewAttemptRepository(), nil)
	a, err := w.Create(context.Background(), attempts.CreateCommand{PlayerID: "recP"})
	require.NoError(t, err)
	_, err = w.Complete(context.Background(), a, "42", attempt.Result{ScoreRaw: 1})
	require.NoError(t, err)

	_, err = w.Complete(context.Background(), a, "42", attempt.Result{ScoreRaw: 2})
	assert.ErrorIs(t, err, attempt.ErrAlreadyCompleted)
}

func TestCompleteRejectsInvalidScore(t *testing.T) {
	w := newWriter(memory.NewAttemptRepository(), nil)
	a, err := w.Create(context.Background(), attempts.CreateCommand{PlayerID: "recP"})
	require.NoError(t, err)

	_, err = w.Complete(context.Background(), a, "42", attempt.Result{ScoreRaw: 16, ScoreMax: 15})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}
