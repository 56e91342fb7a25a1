package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// AttemptRepository implements attempt.Repository using in-memory storage.
type AttemptRepository struct {
	mu       sync.RWMutex
	attempts map[shared.AttemptID]*attempt.Attempt
}

// NewAttemptRepository creates a new in-memory attempt repository.
func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{
		attempts: make(map[shared.AttemptID]*attempt.Attempt),
	}
}

// Create stores a started attempt and assigns its ID.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = shared.AttemptID("rec" + uuid.Must(uuid.NewV4()).String())
	}
	r.attempts[a.ID] = cloneAttempt(a)
	return nil
}

// Get retrieves an attempt by ID.
func (r *AttemptRepository) Get(ctx context.Context, id shared.AttemptID) (*attempt.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.attempts[id]
	if !exists {
		return nil, attempt.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

// SaveCompletion stores the completed state of an attempt.
func (r *AttemptRepository) SaveCompletion(ctx context.Context, a *attempt.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[a.ID]; !exists {
		return attempt.ErrAttemptNotFound
	}
	r.attempts[a.ID] = cloneAttempt(a)
	return nil
}

// ListCompletedFree returns the player's completed free attempts, newest first.
func (r *AttemptRepository) ListCompletedFree(ctx context.Context, playerID shared.PlayerID, limit int) ([]*attempt.Attempt, error) {
	return r.completed(playerID, limit, true), nil
}

// LatestCompleted returns the player's most recent completed attempt.
func (r *AttemptRepository) LatestCompleted(ctx context.Context, playerID shared.PlayerID) (*attempt.Attempt, error) {
	out := r.completed(playerID, 1, false)
	if len(out) == 0 {
		return nil, attempt.ErrAttemptNotFound
	}
	return out[0], nil
}

func (r *AttemptRepository) completed(playerID shared.PlayerID, limit int, freeOnly bool) []*attempt.Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*attempt.Attempt
	for _, a := range r.attempts {
		if a.PlayerID != playerID || a.CompletedAt == nil {
			continue
		}
		if freeOnly && !a.IsFree {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneAttempt(a *attempt.Attempt) *attempt.Attempt {
	c := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	c.Answers = append([]attempt.Answer(nil), a.Answers...)
	return &c
}
