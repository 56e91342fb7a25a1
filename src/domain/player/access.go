package player

import (
	"time"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// Policy holds the free-trial and access-window constants.
type Policy struct {
	TrialSize   int
	Window      time.Duration
	MaxRenewals int
	// LockTTL bounds how long an active-attempt lock is honoured. Zero keeps
	// locks until they are released.
	LockTTL time.Duration
}

// DefaultPolicy returns three free attempts, a 15 day window renewable three
// times and a six hour lock TTL.
func DefaultPolicy() Policy {
	return Policy{
		TrialSize:   3,
		Window:      15 * 24 * time.Hour,
		MaxRenewals: 3,
		LockTTL:     6 * time.Hour,
	}
}

// Admission is the outcome of Admit.
type Admission struct {
	// Resumed is set when an attempt is already in flight; no counter was
	// touched and no new attempt must be created.
	Resumed shared.AttemptID
	IsFree  bool
	Renewed bool
	// StaleLock is the abandoned attempt whose lock was dropped.
	StaleLock shared.AttemptID
}

// HasActiveAccess requires both an ACTIVE status and an access_until strictly
// after now.
func (p *Player) HasActiveAccess(now time.Time) bool {
	return p.AccessStatus == AccessActive && p.AccessUntil != nil && p.AccessUntil.After(now)
}

// HasLock reports whether an attempt is currently in flight.
func (p *Player) HasLock() bool {
	return p.ActiveAttempt != ""
}

// LockStale reports whether the active-attempt lock outlived ttl. A lock
// without a start timestamp is never stale.
func (p *Player) LockStale(now time.Time, ttl time.Duration) bool {
	if !p.HasLock() || ttl <= 0 || p.ActiveAttemptSince == nil {
		return false
	}
	return now.Sub(*p.ActiveAttemptSince) >= ttl
}

// Admit decides whether a new attempt may start and consumes a free-trial
// credit or an access-window renewal when one is needed. The player is
// mutated even when an error is returned (ErrAccessExpired flips the status
// to EXPIRED) so callers should persist it in both cases.
func (p *Player) Admit(now time.Time, policy Policy) (Admission, error) {
	var adm Admission
	if p.HasLock() {
		if !p.LockStale(now, policy.LockTTL) {
			return Admission{Resumed: p.ActiveAttempt}, nil
		}
		adm.StaleLock = p.ActiveAttempt
		p.ReleaseLock(now)
	}

	if p.AccessStatus == AccessActive && !p.HasActiveAccess(now) {
		if p.RenewalCyclesUsed >= policy.MaxRenewals {
			p.AccessStatus = AccessExpired
			p.UpdatedAt = now
			return adm, ErrAccessExpired
		}
		p.RenewalCyclesUsed++
		until := now.Add(policy.Window)
		p.AccessUntil = &until
		p.UpdatedAt = now
		adm.Renewed = true
	}

	if p.HasActiveAccess(now) {
		return adm, nil
	}

	if p.FreeAttemptsRemaining <= 0 {
		return adm, ErrNoFreeAttemptsLeft
	}
	p.FreeAttemptsRemaining--
	p.FreeAttemptsUsed++
	p.UpdatedAt = now
	adm.IsFree = true
	return adm, nil
}

// Lock marks attemptID as the single in-flight attempt.
func (p *Player) Lock(attemptID shared.AttemptID, now time.Time) error {
	if err := attemptID.Validate(); err != nil {
		return err
	}
	if p.HasLock() && p.ActiveAttempt != attemptID {
		return shared.ErrInvalidState
	}
	p.ActiveAttempt = attemptID
	since := now
	p.ActiveAttemptSince = &since
	p.UpdatedAt = now
	return nil
}

// ReleaseLock clears the active-attempt lock.
func (p *Player) ReleaseLock(now time.Time) {
	p.ActiveAttempt = ""
	p.ActiveAttemptSince = nil
	p.UpdatedAt = now
}

// GrantQualification opens an access window earned through path. It is a
// no-op when an operator pinned the player (MANUAL or DISQUALIFIED) or when
// an unexpired window is already running. Reports whether p changed.
func (p *Player) GrantQualification(path QualificationPath, now time.Time, policy Policy) bool {
	if path == PathNone || p.QualifiedVia.Locked() {
		return false
	}
	if p.HasActiveAccess(now) {
		return false
	}
	base := now
	if p.AccessUntil != nil && p.AccessUntil.After(base) {
		base = *p.AccessUntil
	}
	until := base.Add(policy.Window)
	p.AccessStatus = AccessActive
	p.AccessUntil = &until
	p.QualifiedVia = path
	if p.RenewalCyclesUsed == 0 {
		p.RenewalCyclesUsed = 1
	}
	p.UpdatedAt = now
	return true
}
