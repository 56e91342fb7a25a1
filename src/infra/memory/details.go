package memory

import (
	"context"
	"sync"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Feedback is one stored feedback row.
type Feedback struct {
	AttemptID  shared.AttemptID
	ExternalID shared.ExternalID
	Text       string
}

// DetailWriter implements attempt.DetailWriter using in-memory storage.
type DetailWriter struct {
	mu       sync.RWMutex
	answers  map[shared.AttemptID][]attempt.Answer
	feedback []Feedback
}

// NewDetailWriter creates a new in-memory detail writer.
func NewDetailWriter() *DetailWriter {
	return &DetailWriter{
		answers: make(map[shared.AttemptID][]attempt.Answer),
	}
}

func (w *DetailWriter) WriteAnswers(ctx context.Context, attemptID shared.AttemptID, answers []attempt.Answer) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.answers[attemptID] = append(w.answers[attemptID], answers...)
	return len(answers), nil
}

func (w *DetailWriter) WriteFeedback(ctx context.Context, attemptID shared.AttemptID, externalID shared.ExternalID, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.feedback = append(w.feedback, Feedback{AttemptID: attemptID, ExternalID: externalID, Text: text})
	return nil
}

// Answers returns the answer rows written for an attempt.
func (w *DetailWriter) Answers(attemptID shared.AttemptID) []attempt.Answer {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return append([]attempt.Answer(nil), w.answers[attemptID]...)
}

// Feedback returns every feedback row written so far.
func (w *DetailWriter) Feedback() []Feedback {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return append([]Feedback(nil), w.feedback...)
}
