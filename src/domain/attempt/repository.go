package attempt

import (
	"context"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Repository manages attempt persistence.
type Repository interface {
	// Create persists a started attempt and assigns its ID.
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id shared.AttemptID) (*Attempt, error)
	// SaveCompletion writes the result fields of a completed attempt.
	SaveCompletion(ctx context.Context, a *Attempt) error
	// ListCompletedFree returns up to limit completed free attempts of the
	// player, newest first.
	ListCompletedFree(ctx context.Context, playerID shared.PlayerID, limit int) ([]*Attempt, error)
	// LatestCompleted returns the player's most recent completed attempt.
	LatestCompleted(ctx context.Context, playerID shared.PlayerID) (*Attempt, error)
}

// DetailWriter stores per-answer and feedback rows next to the attempt.
// Writes are best effort; callers log failures.
type DetailWriter interface {
	WriteAnswers(ctx context.Context, attemptID shared.AttemptID, answers []Answer) (int, error)
	WriteFeedback(ctx context.Context, attemptID shared.AttemptID, externalID shared.ExternalID, text string) error
}
