package questions

import (
	"context"

	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/domain/question"
)

// Service draws random questions for a ritual.
type Service struct {
	Repo   question.Repository
	Logger *zap.Logger
}

// NewService creates a new question service.
func NewService(repo question.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Repo: repo, Logger: logger}
}

// ClampCount maps a requested draw size onto 1..MaxDrawSize; zero or less
// means the default size.
func ClampCount(n int) int {
	switch {
	case n <= 0:
		return question.DefaultDrawSize
	case n > question.MaxDrawSize:
		return question.MaxDrawSize
	}
	return n
}

// Random returns up to count distinct questions.
func (s *Service) Random(ctx context.Context, count int) ([]question.Question, error) {
	count = ClampCount(count)
	qs, err := s.Repo.Random(ctx, count)
	if err != nil {
		s.Logger.Error("question draw failed", zap.Int("count", count), zap.Error(err))
		return nil, err
	}
	if len(qs) < count {
		s.Logger.Warn("question bank smaller than requested draw",
			zap.Int("requested", count),
			zap.Int("drawn", len(qs)),
		)
	}
	return qs, nil
}
