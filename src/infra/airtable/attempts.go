package airtable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Attempt table columns.
const (
	fieldAttemptPlayer   = "player"
	fieldAttemptPlayerID = "player_record_id"
	fieldStartedAt       = "started_at"
	fieldCompletedAt     = "completed_at"
	fieldMode            = "mode"
	fieldEnv             = "env"
	fieldStatus          = "status"
	fieldIsFree          = "is_free"
	fieldScoreRaw        = "score_raw"
	fieldScoreMax        = "score_max"
	fieldTimeTotal       = "time_total_seconds"
	fieldLabel           = "attempt_label"
	fieldFeedbackText    = "feedback_text"
	fieldAnswersJSON     = "answers_json"
)

// AttemptRepository implements attempt.Repository on the attempts table.
type AttemptRepository struct {
	Client *Client
	Table  string
	Env    string
}

func NewAttemptRepository(client *Client, table, env string) *AttemptRepository {
	return &AttemptRepository{Client: client, Table: table, Env: env}
}

func (r *AttemptRepository) Create(ctx context.Context, a *attempt.Attempt) error {
	fields := map[string]any{
		fieldAttemptPlayer:   []string{string(a.PlayerID)},
		fieldAttemptPlayerID: string(a.PlayerID),
		fieldStartedAt:       formatTime(&a.StartedAt),
		fieldStatus:          string(a.Status),
		fieldIsFree:          a.IsFree,
		fieldScoreMax:        a.ScoreMax,
		fieldLabel:           a.Label,
	}
	if a.Mode != "" {
		fields[fieldMode] = a.Mode
	}
	if r.Env != "" {
		fields[fieldEnv] = r.Env
		a.Env = r.Env
	}
	rec, err := r.Client.CreateTolerant(ctx, r.Table, fields, []string{fieldAttemptPlayer, fieldStartedAt})
	if err != nil {
		return err
	}
	a.ID = shared.AttemptID(rec.ID)
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, id shared.AttemptID) (*attempt.Attempt, error) {
	rec, err := r.Client.Get(ctx, r.Table, string(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, attempt.ErrAttemptNotFound
		}
		return nil, err
	}
	return decodeAttempt(rec), nil
}

func (r *AttemptRepository) SaveCompletion(ctx context.Context, a *attempt.Attempt) error {
	fields := map[string]any{
		fieldCompletedAt: formatTime(a.CompletedAt),
		fieldStatus:      string(a.Status),
		fieldScoreRaw:    a.ScoreRaw,
		fieldScoreMax:    a.ScoreMax,
		fieldTimeTotal:   a.TimeTotalSeconds,
	}
	if a.FeedbackText != "" {
		fields[fieldFeedbackText] = a.FeedbackText
	}
	if len(a.Answers) > 0 {
		if raw, err := json.Marshal(encodeAnswers(a.Answers)); err == nil {
			fields[fieldAnswersJSON] = string(raw)
		}
	}
	_, err := r.Client.UpdateTolerant(ctx, r.Table, string(a.ID), fields, []string{fieldCompletedAt, fieldScoreRaw})
	return err
}

func (r *AttemptRepository) ListCompletedFree(ctx context.Context, playerID shared.PlayerID, limit int) ([]*attempt.Attempt, error) {
	formula := fmt.Sprintf("AND(%s, {%s}, {%s})", Eq(fieldAttemptPlayerID, string(playerID)), fieldCompletedAt, fieldIsFree)
	return r.list(ctx, formula, limit)
}

func (r *AttemptRepository) LatestCompleted(ctx context.Context, playerID shared.PlayerID) (*attempt.Attempt, error) {
	formula := fmt.Sprintf("AND(%s, {%s})", Eq(fieldAttemptPlayerID, string(playerID)), fieldCompletedAt)
	attempts, err := r.list(ctx, formula, 1)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, attempt.ErrAttemptNotFound
	}
	return attempts[0], nil
}

func (r *AttemptRepository) list(ctx context.Context, formula string, limit int) ([]*attempt.Attempt, error) {
	records, err := r.Client.List(ctx, r.Table, Query{
		Formula:    formula,
		Sort:       []Sort{{Field: fieldCompletedAt, Direction: "desc"}},
		MaxRecords: limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*attempt.Attempt, 0, len(records))
	for _, rec := range records {
		out = append(out, decodeAttempt(rec))
	}
	return out, nil
}

func decodeAttempt(rec Record) *attempt.Attempt {
	f := rec.Fields
	a := &attempt.Attempt{
		ID:               shared.AttemptID(rec.ID),
		PlayerID:         shared.PlayerID(stringField(f, fieldAttemptPlayerID)),
		Label:            stringField(f, fieldLabel),
		Mode:             stringField(f, fieldMode),
		Env:              stringField(f, fieldEnv),
		Status:           attempt.Status(stringField(f, fieldStatus)),
		IsFree:           boolField(f, fieldIsFree),
		CompletedAt:      timeField(f, fieldCompletedAt),
		ScoreRaw:         intField(f, fieldScoreRaw, 0),
		ScoreMax:         intField(f, fieldScoreMax, attempt.DefaultScoreMax),
		TimeTotalSeconds: intField(f, fieldTimeTotal, 0),
		FeedbackText:     stringField(f, fieldFeedbackText),
	}
	if a.PlayerID == "" {
		a.PlayerID = shared.PlayerID(stringField(f, fieldAttemptPlayer))
	}
	if t := timeField(f, fieldStartedAt); t != nil {
		a.StartedAt = *t
	}
	// A row whose status column was stripped still counts as completed once
	// completed_at is set.
	if a.CompletedAt != nil {
		a.Status = attempt.StatusCompleted
	} else if a.Status == "" {
		a.Status = attempt.StatusStarted
	}
	if raw := stringField(f, fieldAnswersJSON); raw != "" {
		var answers []answerJSON
		if err := json.Unmarshal([]byte(raw), &answers); err == nil {
			a.Answers = decodeAnswers(answers)
		}
	}
	return a
}

type answerJSON struct {
	QuestionID   string `json:"question_id"`
	ChoiceLetter string `json:"choice_letter,omitempty"`
	Status       string `json:"status,omitempty"`
	IsCorrect    bool   `json:"is_correct"`
}

func encodeAnswers(answers []attempt.Answer) []answerJSON {
	out := make([]answerJSON, 0, len(answers))
	for _, a := range answers {
		out = append(out, answerJSON{
			QuestionID:   a.QuestionID,
			ChoiceLetter: a.ChoiceLetter,
			Status:       string(a.Status),
			IsCorrect:    a.Correct,
		})
	}
	return out
}

func decodeAnswers(in []answerJSON) []attempt.Answer {
	out := make([]attempt.Answer, 0, len(in))
	for _, a := range in {
		out = append(out, attempt.Answer{
			QuestionID:   a.QuestionID,
			ChoiceLetter: a.ChoiceLetter,
			Status:       attempt.AnswerStatus(a.Status),
			Correct:      a.IsCorrect,
		})
	}
	return out
}
