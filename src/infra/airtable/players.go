package airtable

import (
	"context"
	"fmt"

	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Player table columns.
const (
	fieldExternalID    = "telegram_user_id"
	fieldUsername      = "username"
	fieldSignupToken   = "signup_token"
	fieldName          = "name"
	fieldEmail         = "email"
	fieldPhone         = "phone"
	fieldFreeRemaining = "free_attempts_remaining"
	fieldFreeUsed      = "free_attempts_used"
	fieldActiveAttempt = "active_attempt_id"
	fieldActiveSince   = "active_attempt_started_at"
	fieldAccessStatus  = "access_status"
	fieldAccessUntil   = "access_until"
	fieldRenewalCycles = "renewal_cycles_used"
	fieldQualifiedVia  = "qualified_via"
	fieldMergedInto    = "merged_into"
)

var playerRequired = []string{
	fieldExternalID,
	fieldFreeRemaining,
	fieldFreeUsed,
	fieldActiveAttempt,
	fieldAccessStatus,
	fieldAccessUntil,
	fieldRenewalCycles,
}

// PlayerRepository implements player.Repository on the players table.
type PlayerRepository struct {
	Client    *Client
	Table     string
	TrialSize int
}

func NewPlayerRepository(client *Client, table string, trialSize int) *PlayerRepository {
	return &PlayerRepository{Client: client, Table: table, TrialSize: trialSize}
}

func (r *PlayerRepository) GetByID(ctx context.Context, id shared.PlayerID) (*player.Player, error) {
	rec, err := r.Client.Get(ctx, r.Table, string(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, player.ErrPlayerNotFound
		}
		return nil, err
	}
	return r.decode(rec), nil
}

func (r *PlayerRepository) FindByExternalID(ctx context.Context, externalID shared.ExternalID) (*player.Player, error) {
	return r.findOne(ctx, Eq(fieldExternalID, string(externalID)))
}

func (r *PlayerRepository) FindBySignupToken(ctx context.Context, token shared.SignupToken) (*player.Player, error) {
	return r.findOne(ctx, Eq(fieldSignupToken, string(token)))
}

func (r *PlayerRepository) FindUnboundByUsername(ctx context.Context, normalized string) (*player.Player, error) {
	formula := fmt.Sprintf("AND(LOWER(TRIM(SUBSTITUTE({%s},'@','')))=%s, NOT({%s}), NOT({%s}))",
		fieldUsername, Quote(normalized), fieldExternalID, fieldMergedInto)
	return r.findOne(ctx, formula)
}

func (r *PlayerRepository) Create(ctx context.Context, p *player.Player) error {
	rec, err := r.Client.CreateTolerant(ctx, r.Table, r.encode(p, true), []string{fieldExternalID})
	if err != nil {
		return err
	}
	p.ID = shared.PlayerID(rec.ID)
	return nil
}

func (r *PlayerRepository) Save(ctx context.Context, p *player.Player) error {
	if err := p.ID.Validate(); err != nil {
		return err
	}
	_, err := r.Client.UpdateTolerant(ctx, r.Table, string(p.ID), r.encode(p, false), playerRequired)
	return err
}

func (r *PlayerRepository) ListLocked(ctx context.Context) ([]*player.Player, error) {
	records, err := r.Client.List(ctx, r.Table, Query{Formula: fmt.Sprintf("{%s}", fieldActiveAttempt)})
	if err != nil {
		return nil, err
	}
	out := make([]*player.Player, 0, len(records))
	for _, rec := range records {
		out = append(out, r.decode(rec))
	}
	return out, nil
}

func (r *PlayerRepository) findOne(ctx context.Context, formula string) (*player.Player, error) {
	rec, err := r.Client.FindOne(ctx, r.Table, formula)
	if err != nil {
		if IsNotFound(err) {
			return nil, player.ErrPlayerNotFound
		}
		return nil, err
	}
	return r.decode(rec), nil
}

// encode skips blank optional columns on create so a minimal record only
// carries the identity and counters.
func (r *PlayerRepository) encode(p *player.Player, create bool) map[string]any {
	f := map[string]any{
		fieldExternalID:    nullable(string(p.ExternalID)),
		fieldFreeRemaining: p.FreeAttemptsRemaining,
		fieldFreeUsed:      p.FreeAttemptsUsed,
		fieldActiveAttempt: nullable(string(p.ActiveAttempt)),
		fieldActiveSince:   formatTime(p.ActiveAttemptSince),
		fieldAccessStatus:  nullable(string(p.AccessStatus)),
		fieldAccessUntil:   formatTime(p.AccessUntil),
		fieldRenewalCycles: p.RenewalCyclesUsed,
		fieldQualifiedVia:  nullable(string(p.QualifiedVia)),
		fieldUsername:      nullable(p.Username),
		fieldSignupToken:   nullable(string(p.SignupToken)),
		fieldName:          nullable(p.Name),
		fieldEmail:         nullable(p.Email),
		fieldPhone:         nullable(p.Phone),
		fieldMergedInto:    nullable(string(p.MergedInto)),
	}
	if create {
		for k, v := range f {
			if v == nil {
				delete(f, k)
			}
		}
	}
	return f
}

func (r *PlayerRepository) decode(rec Record) *player.Player {
	f := rec.Fields
	p := &player.Player{
		ID:                    shared.PlayerID(rec.ID),
		ExternalID:            shared.ExternalID(stringField(f, fieldExternalID)),
		Username:              stringField(f, fieldUsername),
		SignupToken:           shared.SignupToken(stringField(f, fieldSignupToken)),
		Name:                  stringField(f, fieldName),
		Email:                 stringField(f, fieldEmail),
		Phone:                 stringField(f, fieldPhone),
		FreeAttemptsRemaining: intField(f, fieldFreeRemaining, r.TrialSize),
		FreeAttemptsUsed:      intField(f, fieldFreeUsed, 0),
		ActiveAttempt:         shared.AttemptID(stringField(f, fieldActiveAttempt)),
		ActiveAttemptSince:    timeField(f, fieldActiveSince),
		AccessStatus:          player.AccessStatus(stringField(f, fieldAccessStatus)),
		AccessUntil:           timeField(f, fieldAccessUntil),
		RenewalCyclesUsed:     intField(f, fieldRenewalCycles, 0),
		QualifiedVia:          player.QualificationPath(stringField(f, fieldQualifiedVia)),
		MergedInto:            shared.PlayerID(stringField(f, fieldMergedInto)),
	}
	if p.AccessStatus == "" {
		p.AccessStatus = player.AccessNone
	}
	if t := parseTime(rec.CreatedTime); t != nil {
		p.CreatedAt = *t
		p.UpdatedAt = *t
	}
	return p
}
