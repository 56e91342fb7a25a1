package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvet-oracle/ritual/src/app/identity"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/shared"
	"github.com/velvet-oracle/ritual/src/infra/memory"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newService(repo player.Repository) *identity.Service {
	svc := identity.NewService(repo, player.DefaultPolicy(), nil)
	svc.Clock = func() time.Time { return fixedNow }
	return svc
}

func seed(t *testing.T, repo *memory.PlayerRepository, p *player.Player) *player.Player {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func countFor(t *testing.T, repo *memory.PlayerRepository, ids ...shared.PlayerID) int {
	t.Helper()
	n := 0
	for _, id := range ids {
		p, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if p.ExternalID == "123" {
			n++
		}
	}
	return n
}

func TestResolveCreatesMinimalPlayer(t *testing.T) {
	repo := memory.NewPlayerRepository()
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", Username: "ada"})

	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, res.Player.FreeAttemptsRemaining)
	assert.Equal(t, player.AccessNone, res.Player.AccessStatus)
	assert.Equal(t, "ada", res.Player.Username)

	again, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123"})
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeExisting, again.Outcome)
	assert.Equal(t, res.Player.ID, again.Player.ID)
}

func TestResolveMergesTokenRecordIntoCanonical(t *testing.T) {
	repo := memory.NewPlayerRepository()
	tokenRec := seed(t, repo, &player.Player{SignupToken: "tok-1", Email: "a@x.com", Name: "Ada", CreatedAt: fixedNow})
	canonical := seed(t, repo, &player.Player{ExternalID: "123", Name: "Kept", FreeAttemptsRemaining: 2, FreeAttemptsUsed: 1, CreatedAt: fixedNow})
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", SignupToken: "tok-1"})

	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeMerged, res.Outcome)
	assert.Equal(t, canonical.ID, res.Player.ID)

	stored, err := repo.GetByID(context.Background(), canonical.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", stored.Email)
	assert.Equal(t, "Kept", stored.Name, "non-blank fields are never overwritten")
	assert.Equal(t, 2, stored.FreeAttemptsRemaining)

	leftover, err := repo.GetByID(context.Background(), tokenRec.ID)
	require.NoError(t, err)
	assert.True(t, leftover.SignupToken.IsZero())
	assert.Equal(t, canonical.ID, leftover.MergedInto)
	assert.Equal(t, 1, countFor(t, repo, canonical.ID, tokenRec.ID))

	_, err = repo.FindBySignupToken(context.Background(), "tok-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

type flakySaveRepo struct {
	*memory.PlayerRepository
	failFor  shared.PlayerID
	failures int
}

func (r *flakySaveRepo) Save(ctx context.Context, p *player.Player) error {
	if p.ID == r.failFor && r.failures > 0 {
		r.failures--
		return shared.ErrStoreUnavailable
	}
	return r.PlayerRepository.Save(ctx, p)
}

func TestResolveMergeRetryableAfterCanonicalSaveFailure(t *testing.T) {
	mem := memory.NewPlayerRepository()
	tokenRec := seed(t, mem, &player.Player{SignupToken: "tok-1", Email: "a@x.com", CreatedAt: fixedNow})
	canonical := seed(t, mem, &player.Player{ExternalID: "123", CreatedAt: fixedNow})
	svc := newService(&flakySaveRepo{PlayerRepository: mem, failFor: canonical.ID, failures: 1})
	cmd := identity.ResolveCommand{ExternalID: "123", SignupToken: "tok-1"}

	_, err := svc.Resolve(context.Background(), cmd)
	require.ErrorIs(t, err, shared.ErrStoreUnavailable)

	untouched, err := mem.GetByID(context.Background(), tokenRec.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.SignupToken("tok-1"), untouched.SignupToken, "token record kept until the canonical save succeeds")
	assert.False(t, untouched.IsRetired())

	res, err := svc.Resolve(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeMerged, res.Outcome)

	stored, err := mem.GetByID(context.Background(), canonical.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", stored.Email)
	retired, err := mem.GetByID(context.Background(), tokenRec.ID)
	require.NoError(t, err)
	assert.True(t, retired.SignupToken.IsZero())
	assert.Equal(t, canonical.ID, retired.MergedInto)
}

func TestResolveRetiredRecordCannotBeClaimedByUsername(t *testing.T) {
	repo := memory.NewPlayerRepository()
	tokenRec := seed(t, repo, &player.Player{SignupToken: "tok-1", Username: "ada", Email: "a@x.com", CreatedAt: fixedNow})
	seed(t, repo, &player.Player{ExternalID: "123", CreatedAt: fixedNow})
	svc := newService(repo)

	_, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", SignupToken: "tok-1"})
	require.NoError(t, err)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "999", Username: "ada"})

	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeCreated, res.Outcome)
	assert.NotEqual(t, tokenRec.ID, res.Player.ID)
	assert.Empty(t, res.Player.Email)
	retired, err := repo.GetByID(context.Background(), tokenRec.ID)
	require.NoError(t, err)
	assert.False(t, retired.HasIdentity())
}

func TestResolvePromotesTokenRecord(t *testing.T) {
	repo := memory.NewPlayerRepository()
	tokenRec := seed(t, repo, &player.Player{SignupToken: "tok-2", Email: "b@x.com", FreeAttemptsRemaining: 3})
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", SignupToken: "tok-2", Username: "@bob"})

	require.NoError(t, err)
	assert.Equal(t, identity.OutcomePromoted, res.Outcome)
	assert.Equal(t, tokenRec.ID, res.Player.ID)

	stored, err := repo.FindByExternalID(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, tokenRec.ID, stored.ID)
	assert.Equal(t, player.AccessNone, stored.AccessStatus)
	assert.Equal(t, "@bob", stored.Username)
}

func TestResolveRejectsClaimedToken(t *testing.T) {
	repo := memory.NewPlayerRepository()
	seed(t, repo, &player.Player{SignupToken: "tok-3", ExternalID: "999"})
	svc := newService(repo)

	_, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", SignupToken: "tok-3"})

	assert.ErrorIs(t, err, player.ErrIdentityConflict)
	assert.ErrorIs(t, err, shared.ErrConflict)
	_, err = repo.FindByExternalID(context.Background(), "123")
	assert.ErrorIs(t, err, shared.ErrNotFound, "no record is created on conflict")
}

func TestResolveUnknownTokenFallsThrough(t *testing.T) {
	repo := memory.NewPlayerRepository()
	existing := seed(t, repo, &player.Player{ExternalID: "123"})
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", SignupToken: "stale"})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.Player.ID)
}

func TestResolveClaimsUnboundUsername(t *testing.T) {
	repo := memory.NewPlayerRepository()
	intake := seed(t, repo, &player.Player{Username: "@Ada ", Phone: "+33"})
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", Username: "ada"})

	require.NoError(t, err)
	assert.Equal(t, identity.OutcomeClaimed, res.Outcome)
	assert.Equal(t, intake.ID, res.Player.ID)
	assert.Equal(t, shared.ExternalID("123"), res.Player.ExternalID)
	assert.Equal(t, "ada", res.Player.Username)
}

func TestResolveUsernameIgnoredWhenIdentityExists(t *testing.T) {
	repo := memory.NewPlayerRepository()
	existing := seed(t, repo, &player.Player{ExternalID: "123", Username: "old"})
	intake := seed(t, repo, &player.Player{Username: "new"})
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123", Username: "new"})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.Player.ID)
	assert.Equal(t, "new", res.Player.Username)
	untouched, err := repo.GetByID(context.Background(), intake.ID)
	require.NoError(t, err)
	assert.False(t, untouched.HasIdentity())
}

type mockPlayerRepo struct {
	player.Repository
	findByExternalIDFunc func(ctx context.Context, id shared.ExternalID) (*player.Player, error)
}

func (m *mockPlayerRepo) FindByExternalID(ctx context.Context, id shared.ExternalID) (*player.Player, error) {
	return m.findByExternalIDFunc(ctx, id)
}

func TestResolveSurfacesStoreErrors(t *testing.T) {
	storeDown := errors.New("store down")
	repo := &mockPlayerRepo{findByExternalIDFunc: func(ctx context.Context, id shared.ExternalID) (*player.Player, error) {
		return nil, storeDown
	}}
	svc := newService(repo)

	_, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: "123"})
	assert.ErrorIs(t, err, storeDown)
}

func TestResolveRequiresExternalID(t *testing.T) {
	svc := newService(memory.NewPlayerRepository())
	_, err := svc.Resolve(context.Background(), identity.ResolveCommand{ExternalID: " "})
	assert.Error(t, err)
}
