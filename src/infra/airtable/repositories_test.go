package airtable_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/shared"
	"github.com/velvet-oracle/ritual/src/infra/airtable"
)

func TestPlayerRepositoryCreateOmitsBlankColumns(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(echoRecord("recP1"))
	repo := airtable.NewPlayerRepository(client, "Players", 3)

	p, err := player.NewPlayer("42", player.DefaultPolicy(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), p))

	assert.Equal(t, shared.PlayerID("recP1"), p.ID)
	fields := fake.seen()[0].Fields
	assert.Equal(t, "42", fields["telegram_user_id"])
	assert.EqualValues(t, 3, fields["free_attempts_remaining"])
	assert.NotContains(t, fields, "active_attempt_id")
	assert.NotContains(t, fields, "email")
}

func TestPlayerRepositoryDecodesDefaults(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(jsonReply(http.StatusOK, map[string]any{"records": []map[string]any{{
		"id":          "recP2",
		"createdTime": "2025-02-03T04:05:06.000Z",
		"fields": map[string]any{
			"telegram_user_id":          "77",
			"username":                  "@Ada",
			"active_attempt_id":         []any{"recA9"},
			"active_attempt_started_at": "2025-02-03T05:00:00.000Z",
			"access_until":              "2025-03-01",
		},
	}}}))
	repo := airtable.NewPlayerRepository(client, "Players", 3)

	p, err := repo.FindByExternalID(context.Background(), "77")

	require.NoError(t, err)
	assert.Equal(t, shared.ExternalID("77"), p.ExternalID)
	assert.Equal(t, 3, p.FreeAttemptsRemaining)
	assert.Equal(t, player.AccessNone, p.AccessStatus)
	assert.Equal(t, shared.AttemptID("recA9"), p.ActiveAttempt)
	require.NotNil(t, p.ActiveAttemptSince)
	require.NotNil(t, p.AccessUntil)
	assert.Equal(t, 2025, p.CreatedAt.Year())
	assert.Equal(t, "{telegram_user_id}='77'", fake.seen()[0].Query["filterByFormula"][0])
}

func TestPlayerRepositoryFindMissing(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(jsonReply(http.StatusOK, map[string]any{"records": []any{}}))
	repo := airtable.NewPlayerRepository(client, "Players", 3)

	_, err := repo.FindUnboundByUsername(context.Background(), "ada")

	assert.ErrorIs(t, err, player.ErrPlayerNotFound)
	formula := fake.seen()[0].Query["filterByFormula"][0]
	assert.Contains(t, formula, "'ada'")
	assert.Contains(t, formula, "NOT({telegram_user_id})")
	assert.Contains(t, formula, "NOT({merged_into})")
}

func TestPlayerRepositorySaveClearsLock(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(echoRecord("recP3"))
	repo := airtable.NewPlayerRepository(client, "Players", 3)

	p := &player.Player{ID: "recP3", ExternalID: "5", AccessStatus: player.AccessNone}
	require.NoError(t, repo.Save(context.Background(), p))

	req := fake.seen()[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Contains(t, req.Fields, "active_attempt_id")
	assert.Nil(t, req.Fields["active_attempt_id"])
}

func TestPlayerRepositorySaveRetiredRecord(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(echoRecord("recTok"))
	repo := airtable.NewPlayerRepository(client, "Players", 3)

	p := &player.Player{ID: "recTok", SignupToken: "tok", Username: "ada", AccessStatus: player.AccessNone}
	p.Retire("recCanon", time.Now().UTC())
	require.NoError(t, repo.Save(context.Background(), p))

	req := fake.seen()[0]
	assert.Equal(t, "recCanon", req.Fields["merged_into"])
	assert.Nil(t, req.Fields["signup_token"])
	assert.Nil(t, req.Fields["username"])
}

func TestAttemptRepositoryLifecycle(t *testing.T) {
	client, fake := newTestClient(t)
	repo := airtable.NewAttemptRepository(client, "Attempts", "BETA")
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	a, err := attempt.NewAttempt("recP", true, 15, "Prod", start)
	require.NoError(t, err)
	fake.queue(unknownField("mode"), echoRecord("recA1"))
	require.NoError(t, repo.Create(context.Background(), a))
	assert.Equal(t, shared.AttemptID("recA1"), a.ID)
	assert.Equal(t, "BETA", a.Env)

	done := start.Add(5 * time.Minute)
	require.NoError(t, a.Complete(attempt.Result{
		ScoreRaw:         12,
		ScoreMax:         15,
		TimeTotalSeconds: 300,
		Answers:          []attempt.Answer{{QuestionID: "q1", ChoiceLetter: "B", Status: attempt.AnswerCorrect, Correct: true}},
	}, done))
	fake.queue(echoRecord("recA1"))
	require.NoError(t, repo.SaveCompletion(context.Background(), a))

	reqs := fake.seen()
	require.Len(t, reqs, 3)
	assert.NotContains(t, reqs[1].Fields, "mode")
	assert.Equal(t, []any{"recP"}, reqs[1].Fields["player"])
	assert.EqualValues(t, 12, reqs[2].Fields["score_raw"])
	assert.Contains(t, reqs[2].Fields["answers_json"], `"question_id":"q1"`)
}

func TestAttemptRepositoryListCompletedFree(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(jsonReply(http.StatusOK, map[string]any{"records": []map[string]any{
		{"id": "a2", "fields": map[string]any{"player_record_id": "recP", "completed_at": "2025-01-02T00:00:00Z", "is_free": true, "score_raw": 11, "time_total_seconds": 300}},
		{"id": "a1", "fields": map[string]any{"player": []any{"recP"}, "completed_at": "2025-01-01T00:00:00Z", "is_free": true, "score_raw": 9}},
	}}))
	repo := airtable.NewAttemptRepository(client, "Attempts", "")

	attempts, err := repo.ListCompletedFree(context.Background(), "recP", 10)

	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, attempt.StatusCompleted, attempts[0].Status)
	assert.Equal(t, 15, attempts[1].ScoreMax)
	assert.Equal(t, shared.PlayerID("recP"), attempts[1].PlayerID)
	q := fake.seen()[0].Query
	assert.Equal(t, "10", q["maxRecords"][0])
	assert.True(t, strings.HasPrefix(q["filterByFormula"][0], "AND({player_record_id}='recP'"))
}

func TestAttemptRepositoryGetMissing(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(jsonReply(http.StatusNotFound, map[string]any{"error": "NOT_FOUND"}))
	repo := airtable.NewAttemptRepository(client, "Attempts", "")

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, attempt.ErrAttemptNotFound)
}

func TestDetailWriterCountsFailures(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(
		echoRecord("ans1"),
		jsonReply(http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "INVALID_REQUEST", "message": "nope"}}),
		echoRecord("ans3"),
	)
	w := airtable.NewDetailWriter(client, "Answers", "Feedback")

	written, err := w.WriteAnswers(context.Background(), "recA", []attempt.Answer{
		{QuestionID: "q1"}, {QuestionID: "q2"}, {QuestionID: "q3"},
	})

	assert.Equal(t, 2, written)
	assert.Error(t, err)
	assert.Equal(t, []any{"recA"}, fake.seen()[0].Fields["exam"])
}

func TestDetailWriterCapsAnswerRows(t *testing.T) {
	client, fake := newTestClient(t)
	answers := make([]attempt.Answer, airtable.MaxAnswerRows+5)
	for i := range answers {
		answers[i] = attempt.Answer{QuestionID: "q"}
		fake.queue(echoRecord("ans"))
	}
	w := airtable.NewDetailWriter(client, "Answers", "Feedback")

	written, err := w.WriteAnswers(context.Background(), "recA", answers)

	require.NoError(t, err)
	assert.Equal(t, airtable.MaxAnswerRows, written)
	assert.Len(t, fake.seen(), airtable.MaxAnswerRows)
}

func TestDetailWriterFeedbackFallsBackToMinimalRow(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(unknownField("player_telegram_user_id"), unknownField("created_at"), echoRecord("fb1"))
	w := airtable.NewDetailWriter(client, "Answers", "Feedback")

	require.NoError(t, w.WriteFeedback(context.Background(), "recA", "42", "great"))

	last := fake.seen()[2].Fields
	assert.Equal(t, "great", last["feedback_text"])
	assert.NotContains(t, last, "created_at")
	assert.NotContains(t, last, "player_telegram_user_id")
}

func TestQuestionRepositoryTopsUpBelowThreshold(t *testing.T) {
	client, fake := newTestClient(t)
	fake.queue(
		jsonReply(http.StatusOK, map[string]any{"records": []map[string]any{
			{"id": "r1", "fields": map[string]any{"ID_question": "Q1", "Question": "Why?", "Options (JSON)": `["a","b"]`, "Correct_index": 1, "Niveau": "2"}},
		}}),
		jsonReply(http.StatusOK, map[string]any{"records": []map[string]any{
			{"id": "r2", "fields": map[string]any{"ID_question": "Q2", "Question": "How?"}},
		}}),
	)
	repo := airtable.NewQuestionRepository(client, "Questions")
	repo.Threshold = func() int { return 500 }

	qs, err := repo.Random(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, []string{"a", "b"}, qs[0].Options)
	require.NotNil(t, qs[0].CorrectIndex)
	assert.Equal(t, 1, *qs[0].CorrectIndex)
	assert.Nil(t, qs[1].CorrectIndex)
	assert.Empty(t, qs[1].Options)
	reqs := fake.seen()
	assert.Equal(t, "{Rand}>=500", reqs[0].Query["filterByFormula"][0])
	assert.Equal(t, "{Rand}<500", reqs[1].Query["filterByFormula"][0])
	assert.Equal(t, "1", reqs[1].Query["maxRecords"][0])
}
