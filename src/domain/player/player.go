package player

import (
	"strings"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// AccessStatus is the lifecycle state of a player's access window.
type AccessStatus string

const (
	AccessNone         AccessStatus = "NONE"
	AccessActive       AccessStatus = "ACTIVE"
	AccessExpired      AccessStatus = "EXPIRED"
	AccessManual       AccessStatus = "MANUAL"
	AccessDisqualified AccessStatus = "DISQUALIFIED"
)

// QualificationPath records how a player earned their access window.
type QualificationPath string

const (
	PathNone         QualificationPath = ""
	PathConsistency  QualificationPath = "A"
	PathStrong       QualificationPath = "B"
	PathPerfect      QualificationPath = "C"
	PathManual       QualificationPath = "MANUAL"
	PathDisqualified QualificationPath = "DISQUALIFIED"
)

// Locked reports whether the path was set by an operator and must not be
// replaced by automatic qualification.
func (p QualificationPath) Locked() bool {
	return p == PathManual || p == PathDisqualified
}

// Player is the aggregate root for identity, free-trial counters and the
// access window.
type Player struct {
	ID          shared.PlayerID
	ExternalID  shared.ExternalID
	Username    string
	SignupToken shared.SignupToken

	Name  string
	Email string
	Phone string

	FreeAttemptsRemaining int
	FreeAttemptsUsed      int

	ActiveAttempt      shared.AttemptID
	ActiveAttemptSince *time.Time

	AccessStatus      AccessStatus
	AccessUntil       *time.Time
	RenewalCyclesUsed int
	QualifiedVia      QualificationPath

	// MergedInto is set on a record retired by an identity merge.
	MergedInto shared.PlayerID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPlayer builds a minimal player bound to an external identity with the
// default free-trial counters.
func NewPlayer(externalID shared.ExternalID, policy Policy, now time.Time) (*Player, error) {
	if err := externalID.Validate(); err != nil {
		return nil, err
	}
	return &Player{
		ExternalID:            externalID,
		FreeAttemptsRemaining: policy.TrialSize,
		AccessStatus:          AccessNone,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// HasIdentity reports whether an external identity is bound to the record.
func (p *Player) HasIdentity() bool {
	return strings.TrimSpace(string(p.ExternalID)) != ""
}

// BindIdentity attaches the external identity to a record created by an
// out-of-band intake channel.
func (p *Player) BindIdentity(externalID shared.ExternalID, now time.Time) error {
	if err := externalID.Validate(); err != nil {
		return err
	}
	if p.HasIdentity() && p.ExternalID != externalID {
		return ErrIdentityConflict
	}
	p.ExternalID = externalID
	if p.AccessStatus == "" {
		p.AccessStatus = AccessNone
	}
	p.UpdatedAt = now
	return nil
}

// RefreshUsername mirrors the latest handle and reports whether it changed.
func (p *Player) RefreshUsername(username string, now time.Time) bool {
	username = strings.TrimSpace(username)
	if username == "" || username == p.Username {
		return false
	}
	p.Username = username
	p.UpdatedAt = now
	return true
}

// AbsorbContactFields copies name and contact fields from a duplicate record
// into p, only where p has them blank.
func (p *Player) AbsorbContactFields(from *Player, now time.Time) {
	if p.Name == "" {
		p.Name = from.Name
	}
	if p.Email == "" {
		p.Email = from.Email
	}
	if p.Phone == "" {
		p.Phone = from.Phone
	}
	if p.Username == "" {
		p.Username = from.Username
	}
	p.UpdatedAt = now
}

// Retire marks p as merged into the canonical record. The token and the
// username are cleared so no later token or username lookup can match it.
func (p *Player) Retire(into shared.PlayerID, now time.Time) {
	p.MergedInto = into
	p.SignupToken = ""
	p.Username = ""
	p.UpdatedAt = now
}

// IsRetired reports whether p was merged into another record.
func (p *Player) IsRetired() bool {
	return p.MergedInto != ""
}
