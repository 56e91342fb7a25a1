package identity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Service resolves an external identity to exactly one player record.
type Service struct {
	Players player.Repository
	Policy  player.Policy
	Logger  *zap.Logger
	Clock   func() time.Time
}

// NewService creates a new identity resolver.
func NewService(players player.Repository, policy player.Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Players: players,
		Policy:  policy,
		Logger:  logger,
		Clock:   func() time.Time { return time.Now().UTC() },
	}
}

// ResolveCommand identifies the caller.
type ResolveCommand struct {
	ExternalID  shared.ExternalID
	SignupToken shared.SignupToken
	Username    string
}

// Outcome tells how the record was found.
type Outcome string

const (
	OutcomeExisting Outcome = "existing"
	OutcomeCreated  Outcome = "created"
	OutcomePromoted Outcome = "promoted"
	OutcomeMerged   Outcome = "merged"
	OutcomeClaimed  Outcome = "claimed"
)

// ResolveResult carries the canonical player.
type ResolveResult struct {
	Player  *player.Player
	Outcome Outcome
}

// Resolve returns the canonical player for cmd.ExternalID. A signup token
// links or merges a record created by the web form; a username claims an
// unbound record with the same normalized handle; otherwise the player is
// looked up or created.
func (s *Service) Resolve(ctx context.Context, cmd ResolveCommand) (ResolveResult, error) {
	if err := cmd.ExternalID.Validate(); err != nil {
		return ResolveResult{}, err
	}
	now := s.Clock()

	if !cmd.SignupToken.IsZero() {
		res, ok, err := s.resolveToken(ctx, cmd, now)
		if err != nil || ok {
			return res, err
		}
	}

	existing, err := s.Players.FindByExternalID(ctx, cmd.ExternalID)
	switch {
	case err == nil:
		return s.finish(ctx, existing, cmd.Username, OutcomeExisting, false, now)
	case !errors.Is(err, shared.ErrNotFound):
		return ResolveResult{}, err
	}

	if normalized := shared.NormalizeUsername(cmd.Username); normalized != "" {
		unbound, err := s.Players.FindUnboundByUsername(ctx, normalized)
		switch {
		case err == nil:
			if err := unbound.BindIdentity(cmd.ExternalID, now); err != nil {
				return ResolveResult{}, err
			}
			return s.finish(ctx, unbound, cmd.Username, OutcomeClaimed, true, now)
		case !errors.Is(err, shared.ErrNotFound):
			return ResolveResult{}, err
		}
	}

	p, err := player.NewPlayer(cmd.ExternalID, s.Policy, now)
	if err != nil {
		return ResolveResult{}, err
	}
	p.RefreshUsername(cmd.Username, now)
	if err := s.Players.Create(ctx, p); err != nil {
		return ResolveResult{}, err
	}
	s.Logger.Info("player created",
		zap.String("player_id", string(p.ID)),
		zap.String("external_id", string(p.ExternalID)),
	)
	return ResolveResult{Player: p, Outcome: OutcomeCreated}, nil
}

// resolveToken handles the signup-token path. ok is false when the token is
// unknown and resolution should fall through to the other lookups.
func (s *Service) resolveToken(ctx context.Context, cmd ResolveCommand, now time.Time) (ResolveResult, bool, error) {
	tokenRec, err := s.Players.FindBySignupToken(ctx, cmd.SignupToken)
	if errors.Is(err, shared.ErrNotFound) {
		return ResolveResult{}, false, nil
	}
	if err != nil {
		return ResolveResult{}, false, err
	}
	if tokenRec.HasIdentity() && tokenRec.ExternalID != cmd.ExternalID {
		return ResolveResult{}, true, player.ErrIdentityConflict
	}
	if tokenRec.ExternalID == cmd.ExternalID {
		res, err := s.finish(ctx, tokenRec, cmd.Username, OutcomeExisting, false, now)
		return res, true, err
	}

	canonical, err := s.Players.FindByExternalID(ctx, cmd.ExternalID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		if err := tokenRec.BindIdentity(cmd.ExternalID, now); err != nil {
			return ResolveResult{}, true, err
		}
		res, err := s.finish(ctx, tokenRec, cmd.Username, OutcomePromoted, true, now)
		return res, true, err
	case err != nil:
		return ResolveResult{}, true, err
	}

	canonical.AbsorbContactFields(tokenRec, now)
	res, err := s.finish(ctx, canonical, cmd.Username, OutcomeMerged, true, now)
	if err != nil {
		return ResolveResult{}, true, err
	}
	// Retire the token record only after the canonical record holds its fields.
	tokenRec.Retire(canonical.ID, now)
	if err := s.Players.Save(ctx, tokenRec); err != nil {
		return ResolveResult{}, true, err
	}
	s.Logger.Info("player records merged",
		zap.String("player_id", string(canonical.ID)),
		zap.String("merged_from", string(tokenRec.ID)),
	)
	return res, true, nil
}

// finish refreshes the username and saves p when anything changed.
func (s *Service) finish(ctx context.Context, p *player.Player, username string, outcome Outcome, dirty bool, now time.Time) (ResolveResult, error) {
	if p.RefreshUsername(username, now) {
		dirty = true
	}
	if dirty {
		if err := s.Players.Save(ctx, p); err != nil {
			return ResolveResult{}, err
		}
	}
	return ResolveResult{Player: p, Outcome: outcome}, nil
}
