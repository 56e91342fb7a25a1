package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/velvet-oracle/ritual/src/domain/question"
)

// QuestionRepository draws questions using the numeric "Rand" column: rows
// at or above a random threshold first, then below it when short.
type QuestionRepository struct {
	Client    *Client
	Table     string
	Threshold func() int
}

func NewQuestionRepository(client *Client, table string) *QuestionRepository {
	return &QuestionRepository{
		Client:    client,
		Table:     table,
		Threshold: func() int { return rand.IntN(1_000_000) },
	}
}

func (r *QuestionRepository) Random(ctx context.Context, count int) ([]question.Question, error) {
	threshold := r.Threshold()
	sort := []Sort{{Field: "Rand", Direction: "asc"}}

	records, err := r.Client.List(ctx, r.Table, Query{
		Formula:    fmt.Sprintf("{Rand}>=%d", threshold),
		Sort:       sort,
		MaxRecords: count,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", question.ErrBankUnavailable, err)
	}
	if len(records) < count {
		more, err := r.Client.List(ctx, r.Table, Query{
			Formula:    fmt.Sprintf("{Rand}<%d", threshold),
			Sort:       sort,
			MaxRecords: count - len(records),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", question.ErrBankUnavailable, err)
		}
		records = append(records, more...)
	}

	out := make([]question.Question, 0, len(records))
	for _, rec := range records {
		out = append(out, decodeQuestion(rec))
	}
	return out, nil
}

func decodeQuestion(rec Record) question.Question {
	f := rec.Fields
	q := question.Question{
		ID:          stringField(f, "ID_question"),
		Text:        stringField(f, "Question"),
		Explanation: stringField(f, "Explication"),
		Domain:      stringField(f, "Domaine"),
		Level:       stringField(f, "Niveau"),
		Options:     []string{},
	}
	switch raw := f["Options (JSON)"].(type) {
	case string:
		_ = json.Unmarshal([]byte(raw), &q.Options)
	case []any:
		for _, o := range raw {
			if s, ok := o.(string); ok {
				q.Options = append(q.Options, s)
			}
		}
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	if _, ok := f["Correct_index"]; ok {
		idx := intField(f, "Correct_index", 0)
		q.CorrectIndex = &idx
	}
	return q
}
