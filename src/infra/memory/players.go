package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// PlayerRepository implements player.Repository using in-memory storage.
// Records are copied in and out so callers never share state with the store.
type PlayerRepository struct {
	mu      sync.RWMutex
	players map[shared.PlayerID]*player.Player
}

// NewPlayerRepository creates a new in-memory player repository.
func NewPlayerRepository() *PlayerRepository {
	return &PlayerRepository{
		players: make(map[shared.PlayerID]*player.Player),
	}
}

// Create stores a new player and assigns its ID.
func (r *PlayerRepository) Create(ctx context.Context, p *player.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = shared.PlayerID("rec" + uuid.Must(uuid.NewV4()).String())
	}
	r.players[p.ID] = clonePlayer(p)
	return nil
}

// Save overwrites an existing player.
func (r *PlayerRepository) Save(ctx context.Context, p *player.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[p.ID]; !exists {
		return player.ErrPlayerNotFound
	}
	r.players[p.ID] = clonePlayer(p)
	return nil
}

// GetByID retrieves a player by record ID.
func (r *PlayerRepository) GetByID(ctx context.Context, id shared.PlayerID) (*player.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.players[id]
	if !exists {
		return nil, player.ErrPlayerNotFound
	}
	return clonePlayer(p), nil
}

func (r *PlayerRepository) FindByExternalID(ctx context.Context, externalID shared.ExternalID) (*player.Player, error) {
	return r.first(func(p *player.Player) bool { return p.ExternalID == externalID })
}

func (r *PlayerRepository) FindBySignupToken(ctx context.Context, token shared.SignupToken) (*player.Player, error) {
	if token.IsZero() {
		return nil, player.ErrPlayerNotFound
	}
	return r.first(func(p *player.Player) bool { return p.SignupToken == token })
}

func (r *PlayerRepository) FindUnboundByUsername(ctx context.Context, normalized string) (*player.Player, error) {
	if normalized == "" {
		return nil, player.ErrPlayerNotFound
	}
	return r.first(func(p *player.Player) bool {
		return !p.HasIdentity() && !p.IsRetired() && shared.NormalizeUsername(p.Username) == normalized
	})
}

// ListLocked returns every player holding an active attempt lock.
func (r *PlayerRepository) ListLocked(ctx context.Context) ([]*player.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*player.Player
	for _, p := range r.players {
		if p.HasLock() {
			out = append(out, clonePlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// first returns the oldest matching record, mirroring a store that answers
// lookups in creation order.
func (r *PlayerRepository) first(match func(*player.Player) bool) (*player.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *player.Player
	for _, p := range r.players {
		if !match(p) {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) ||
			(p.CreatedAt.Equal(found.CreatedAt) && p.ID < found.ID) {
			found = p
		}
	}
	if found == nil {
		return nil, player.ErrPlayerNotFound
	}
	return clonePlayer(found), nil
}

func clonePlayer(p *player.Player) *player.Player {
	c := *p
	if p.ActiveAttemptSince != nil {
		t := *p.ActiveAttemptSince
		c.ActiveAttemptSince = &t
	}
	if p.AccessUntil != nil {
		t := *p.AccessUntil
		c.AccessUntil = &t
	}
	return &c
}
