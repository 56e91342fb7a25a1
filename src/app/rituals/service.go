// Package rituals orchestrates ritual start, completion and feedback across
// the identity resolver, the access gate, the attempt writer, the
// qualification evaluator and the archive.
package rituals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/app/attempts"
	"github.com/velvet-oracle/ritual/src/app/identity"
	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/qualification"
	"github.com/velvet-oracle/ritual/src/domain/shared"
)

var (
	ErrNoActiveAttempt = fmt.Errorf("no active attempt: %w", shared.ErrNotFound)
	ErrAttemptNotOwned = errors.New("attempt belongs to another player")
	ErrEmptyFeedback   = fmt.Errorf("feedback text is required: %w", shared.ErrInvalidArgument)
)

// Warnings reported on top of the writer's when a best-effort step fails.
const (
	WarnHistoryFailed  = "history_unavailable"
	WarnPlayerNotSaved = "player_save_failed"
	WarnArchiveFailed  = "archive_failed"
)

// Service runs the ritual flows.
type Service struct {
	Identity  *identity.Service
	Players   player.Repository
	Attempts  attempt.Repository
	Writer    *attempts.Writer
	Evaluator *qualification.Evaluator
	// Archiver is optional.
	Archiver attempt.Archiver
	Policy   player.Policy
	Version  string
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewService creates a new ritual service.
func NewService(
	resolver *identity.Service,
	players player.Repository,
	attemptRepo attempt.Repository,
	writer *attempts.Writer,
	evaluator *qualification.Evaluator,
	archiver attempt.Archiver,
	policy player.Policy,
	version string,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Identity:  resolver,
		Players:   players,
		Attempts:  attemptRepo,
		Writer:    writer,
		Evaluator: evaluator,
		Archiver:  archiver,
		Policy:    policy,
		Version:   version,
		Logger:    logger,
		Clock:     func() time.Time { return time.Now().UTC() },
	}
}

// StartCommand contains the ritual-start request.
type StartCommand struct {
	ExternalID  shared.ExternalID
	SignupToken shared.SignupToken
	Username    string
	Mode        string
	ScoreMax    int
}

// StartResult describes the attempt the caller should run.
type StartResult struct {
	AttemptID shared.AttemptID
	Player    *player.Player
	IsFree    bool
	Resumed   bool
	Renewed   bool
}

// Start resolves the player, passes the access gate and creates the attempt.
// A player with an attempt in flight gets that attempt back untouched.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (StartResult, error) {
	resolved, err := s.Identity.Resolve(ctx, identity.ResolveCommand{
		ExternalID:  cmd.ExternalID,
		SignupToken: cmd.SignupToken,
		Username:    cmd.Username,
	})
	if err != nil {
		return StartResult{}, err
	}
	p := resolved.Player
	now := s.Clock()

	adm, err := p.Admit(now, s.Policy)
	if adm.StaleLock != "" {
		s.Logger.Warn("stale attempt lock dropped",
			zap.String("player_id", string(p.ID)),
			zap.String("attempt_id", string(adm.StaleLock)),
		)
	}
	if err != nil {
		if errors.Is(err, player.ErrAccessExpired) || adm.StaleLock != "" {
			if saveErr := s.Players.Save(ctx, p); saveErr != nil {
				s.Logger.Error("player not saved after refused start",
					zap.String("player_id", string(p.ID)),
					zap.Error(saveErr),
				)
			}
		}
		return StartResult{Player: p}, err
	}

	if adm.Resumed != "" {
		return StartResult{AttemptID: adm.Resumed, Player: p, Resumed: true}, nil
	}

	a, err := s.Writer.Create(ctx, attempts.CreateCommand{
		PlayerID: p.ID,
		IsFree:   adm.IsFree,
		ScoreMax: cmd.ScoreMax,
		Mode:     cmd.Mode,
	})
	if err != nil {
		return StartResult{}, err
	}
	if err := p.Lock(a.ID, now); err != nil {
		return StartResult{}, err
	}
	if err := s.Players.Save(ctx, p); err != nil {
		return StartResult{}, err
	}

	s.Logger.Info("ritual started",
		zap.String("player_id", string(p.ID)),
		zap.String("attempt_id", string(a.ID)),
		zap.Bool("is_free", adm.IsFree),
		zap.Bool("renewed", adm.Renewed),
	)
	return StartResult{
		AttemptID: a.ID,
		Player:    p,
		IsFree:    adm.IsFree,
		Renewed:   adm.Renewed,
	}, nil
}

// CompleteCommand contains the normalized ritual result.
type CompleteCommand struct {
	ExternalID  shared.ExternalID
	AttemptID   shared.AttemptID
	Result      attempt.Result
	DisplayName string
	Username    string
}

// CompleteResult reports the qualification outcome and the best-effort
// writes that did not go through.
type CompleteResult struct {
	AttemptID       shared.AttemptID
	Player          *player.Player
	Qualified       bool
	Via             player.QualificationPath
	AnswersWritten  int
	FeedbackWritten bool
	Warnings        []string
}

// Complete records the result, evaluates qualification, releases the lock
// and archives the ritual. Only loading the player and saving the attempt
// can fail the call. An unknown player is never created here.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (CompleteResult, error) {
	if err := cmd.ExternalID.Validate(); err != nil {
		return CompleteResult{}, err
	}
	p, err := s.Players.FindByExternalID(ctx, cmd.ExternalID)
	if errors.Is(err, shared.ErrNotFound) {
		return CompleteResult{}, ErrNoActiveAttempt
	}
	if err != nil {
		return CompleteResult{}, err
	}

	id := cmd.AttemptID
	if id == "" {
		id = p.ActiveAttempt
	}
	if id == "" {
		return CompleteResult{}, ErrNoActiveAttempt
	}
	a, err := s.Attempts.Get(ctx, id)
	if err != nil {
		return CompleteResult{}, err
	}
	if a.PlayerID != p.ID {
		return CompleteResult{}, ErrAttemptNotOwned
	}

	report, err := s.Writer.Complete(ctx, a, p.ExternalID, cmd.Result)
	if err != nil {
		return CompleteResult{}, err
	}
	res := CompleteResult{
		AttemptID:       a.ID,
		Player:          p,
		AnswersWritten:  report.AnswersWritten,
		FeedbackWritten: report.FeedbackWritten,
		Warnings:        report.Warnings,
	}
	now := s.Clock()

	dirty := p.RefreshUsername(cmd.Username, now)
	if a.IsFree {
		history, err := s.history(ctx, a)
		if err != nil {
			s.Logger.Warn("qualification history unavailable",
				zap.String("player_id", string(p.ID)),
				zap.Error(err),
			)
			res.Warnings = append(res.Warnings, WarnHistoryFailed)
		}
		decision := s.Evaluator.Evaluate(history)
		res.Qualified = decision.Qualified
		res.Via = decision.Via
		if decision.Qualified && p.GrantQualification(decision.Via, now, s.Policy) {
			dirty = true
			s.Logger.Info("player qualified",
				zap.String("player_id", string(p.ID)),
				zap.String("via", string(decision.Via)),
				zap.Timep("access_until", p.AccessUntil),
			)
		}
	}

	if p.ActiveAttempt == a.ID {
		p.ReleaseLock(now)
		dirty = true
	}
	if dirty {
		if err := s.Players.Save(ctx, p); err != nil {
			s.Logger.Error("player not saved after completion",
				zap.String("player_id", string(p.ID)),
				zap.String("attempt_id", string(a.ID)),
				zap.Error(err),
			)
			res.Warnings = append(res.Warnings, WarnPlayerNotSaved)
		}
	}

	if s.Archiver != nil {
		summary := attempt.NewSummary(a, p.ExternalID, s.Version)
		summary.DisplayName = firstNonBlank(cmd.DisplayName, p.Name)
		summary.Username = firstNonBlank(cmd.Username, p.Username)
		if res.Qualified {
			summary.QualifiedVia = string(res.Via)
		}
		if _, err := s.Archiver.Archive(ctx, summary); err != nil {
			s.Logger.Warn("ritual not archived",
				zap.String("attempt_id", string(a.ID)),
				zap.Error(err),
			)
			res.Warnings = append(res.Warnings, WarnArchiveFailed)
		}
	}

	s.Logger.Info("ritual completed",
		zap.String("player_id", string(p.ID)),
		zap.String("attempt_id", string(a.ID)),
		zap.Int("score_raw", a.ScoreRaw),
		zap.Int("score_max", a.ScoreMax),
		zap.Bool("qualified", res.Qualified),
	)
	return res, nil
}

// history returns the recent completed free attempts including current,
// which the store may not have indexed yet.
func (s *Service) history(ctx context.Context, current *attempt.Attempt) ([]*attempt.Attempt, error) {
	limit := s.Evaluator.Rules.HistorySize
	recent, err := s.Attempts.ListCompletedFree(ctx, current.PlayerID, limit)
	for _, a := range recent {
		if a.ID == current.ID {
			return recent, err
		}
	}
	return append([]*attempt.Attempt{current}, recent...), err
}

// FeedbackCommand carries free-text feedback for a ritual.
type FeedbackCommand struct {
	ExternalID shared.ExternalID
	AttemptID  shared.AttemptID
	Text       string
}

// FeedbackResult tells which stores accepted the feedback.
type FeedbackResult struct {
	AttemptID       shared.AttemptID
	FeedbackWritten bool
	Archived        bool
}

// SubmitFeedback attaches feedback to the given attempt, or to the player's
// latest completed one, and appends it to the latest archive entry. Both
// writes are best effort.
func (s *Service) SubmitFeedback(ctx context.Context, cmd FeedbackCommand) (FeedbackResult, error) {
	if err := cmd.ExternalID.Validate(); err != nil {
		return FeedbackResult{}, err
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return FeedbackResult{}, ErrEmptyFeedback
	}

	var res FeedbackResult
	id, err := s.feedbackTarget(ctx, cmd)
	switch {
	case err == nil:
		res.AttemptID = id
		res.FeedbackWritten = s.Writer.WriteFeedback(ctx, id, cmd.ExternalID, text) == nil
	case errors.Is(err, ErrAttemptNotOwned):
		return FeedbackResult{}, err
	case !errors.Is(err, shared.ErrNotFound):
		s.Logger.Warn("feedback attempt lookup failed",
			zap.String("external_id", string(cmd.ExternalID)),
			zap.Error(err),
		)
	}

	if s.Archiver != nil {
		if _, err := s.Archiver.AppendFeedback(ctx, cmd.ExternalID, text); err != nil {
			s.Logger.Warn("feedback not archived",
				zap.String("external_id", string(cmd.ExternalID)),
				zap.Error(err),
			)
		} else {
			res.Archived = true
		}
	}
	return res, nil
}

func (s *Service) feedbackTarget(ctx context.Context, cmd FeedbackCommand) (shared.AttemptID, error) {
	p, err := s.Players.FindByExternalID(ctx, cmd.ExternalID)
	if err != nil {
		return "", err
	}
	if cmd.AttemptID != "" {
		a, err := s.Attempts.Get(ctx, cmd.AttemptID)
		if err != nil {
			return "", err
		}
		if a.PlayerID != p.ID {
			return "", ErrAttemptNotOwned
		}
		return a.ID, nil
	}
	a, err := s.Attempts.LatestCompleted(ctx, p.ID)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// SweepStaleLocks releases active-attempt locks older than the policy TTL and
// stamps locks that carry no start time so they can expire later. It returns
// the number of released locks.
func (s *Service) SweepStaleLocks(ctx context.Context) (int, error) {
	locked, err := s.Players.ListLocked(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Clock()
	released := 0
	var errs []error
	for _, p := range locked {
		stale := false
		switch {
		case p.ActiveAttemptSince == nil:
			if err := p.Lock(p.ActiveAttempt, now); err != nil {
				errs = append(errs, err)
				continue
			}
		case p.LockStale(now, s.Policy.LockTTL):
			s.Logger.Info("stale attempt lock released",
				zap.String("player_id", string(p.ID)),
				zap.String("attempt_id", string(p.ActiveAttempt)),
				zap.Timep("since", p.ActiveAttemptSince),
			)
			p.ReleaseLock(now)
			stale = true
		default:
			continue
		}
		if err := s.Players.Save(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("save player %s: %w", p.ID, err))
			continue
		}
		if stale {
			released++
		}
	}
	return released, errors.Join(errs...)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
