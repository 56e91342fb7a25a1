package player

import (
	"context"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Repository manages player persistence. Lookups return an error matching
// shared.ErrNotFound when no record exists.
type Repository interface {
	GetByID(ctx context.Context, id shared.PlayerID) (*Player, error)
	FindByExternalID(ctx context.Context, externalID shared.ExternalID) (*Player, error)
	FindBySignupToken(ctx context.Context, token shared.SignupToken) (*Player, error)
	// FindUnboundByUsername matches a normalized username on records that
	// have no external identity yet.
	FindUnboundByUsername(ctx context.Context, normalized string) (*Player, error)
	// Create persists a new player and assigns its ID.
	Create(ctx context.Context, p *Player) error
	Save(ctx context.Context, p *Player) error
	ListLocked(ctx context.Context) ([]*Player, error)
}
