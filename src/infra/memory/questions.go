package memory

import (
	"context"
	"math/rand/v2"

	"github.com/velvet-oracle/ritual/src/domain/question"
)

// QuestionRepository implements question.Repository over a fixed bank.
type QuestionRepository struct {
	bank []question.Question
}

// NewQuestionRepository creates a repository serving the given questions.
func NewQuestionRepository(bank []question.Question) *QuestionRepository {
	return &QuestionRepository{
		bank: append([]question.Question(nil), bank...),
	}
}

// Random returns up to count distinct questions in random order.
func (r *QuestionRepository) Random(ctx context.Context, count int) ([]question.Question, error) {
	drawn := append([]question.Question(nil), r.bank...)

	rand.Shuffle(len(drawn), func(i, j int) { drawn[i], drawn[j] = drawn[j], drawn[i] })
	if count < len(drawn) {
		drawn = drawn[:count]
	}
	return drawn, nil
}
