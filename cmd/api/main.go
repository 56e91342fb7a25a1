package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velvet-oracle/ritual/src/app/attempts"
	"github.com/velvet-oracle/ritual/src/app/identity"
	"github.com/velvet-oracle/ritual/src/app/questions"
	"github.com/velvet-oracle/ritual/src/app/rituals"
	"github.com/velvet-oracle/ritual/src/config"
	"github.com/velvet-oracle/ritual/src/domain/attempt"
	"github.com/velvet-oracle/ritual/src/domain/player"
	"github.com/velvet-oracle/ritual/src/domain/qualification"
	"github.com/velvet-oracle/ritual/src/domain/question"
	"github.com/velvet-oracle/ritual/src/infra/airtable"
	"github.com/velvet-oracle/ritual/src/infra/logging"
	"github.com/velvet-oracle/ritual/src/infra/memory"
	"github.com/velvet-oracle/ritual/src/infra/notion"
	"github.com/velvet-oracle/ritual/src/infra/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ritual-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	st := buildStores(cfg, logger)
	policy := accessPolicy(cfg)

	resolver := identity.NewService(st.players, policy, logger)
	writer := attempts.NewWriter(st.attempts, st.details, cfg.Ritual.DefaultScoreMax, logger)
	evaluator := qualification.NewEvaluator(qualificationRules(cfg))

	var archiver attempt.Archiver
	notionArchiver := notion.NewArchiver(cfg.Notion.APIKey, cfg.Notion.ExamsDatabaseID, "", cfg.Notion.Timeout)
	notionArchiver.Version = config.Version
	if notionArchiver.Enabled() {
		archiver = notionArchiver
	} else {
		logger.Info("notion archive disabled")
	}

	ritualService := rituals.NewService(resolver, st.players, st.attempts, writer, evaluator, archiver, policy, config.Version, logger)
	questionService := questions.NewService(st.questions, logger)

	var verifier *telegram.Verifier
	if cfg.Telegram.RequireInitData {
		verifier = telegram.NewVerifier(cfg.Telegram.BotToken, cfg.Telegram.InitDataMaxAge)
	}

	ready := atomic.NewBool(true)
	server := NewServer(ServerConfig{
		Logger:          logger,
		RitualService:   ritualService,
		QuestionService: questionService,
		Verifier:        verifier,
		AllowedOrigins:  cfg.HTTP.CORSAllowedOrigins,
		Version:         config.Version,
		Env:             cfg.Env,
		StoreCheck:      st.check,
		Ready:           ready,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var sched gocron.Scheduler
	if cfg.Access.LockSweepInterval > 0 && policy.LockTTL > 0 {
		sched, err = startLockSweeper(baseCtx, ritualService, cfg.Access.LockSweepInterval, logger)
		if err != nil {
			return fmt.Errorf("lock sweeper: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(baseCtx)
	g.Go(func() error {
		logger.Info("ritual API listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store.Backend),
			zap.String("version", config.Version),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		if sched != nil {
			if err := sched.Shutdown(); err != nil {
				logger.Warn("scheduler shutdown failed", zap.Error(err))
			}
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	})
	return g.Wait()
}

type stores struct {
	players   player.Repository
	attempts  attempt.Repository
	details   attempt.DetailWriter
	questions question.Repository
	check     func(ctx context.Context) error
}

func buildStores(cfg config.Config, logger *zap.Logger) stores {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return stores{
			players:   memory.NewPlayerRepository(),
			attempts:  memory.NewAttemptRepository(),
			details:   memory.NewDetailWriter(),
			questions: memory.NewQuestionRepository(nil),
			check:     func(ctx context.Context) error { return nil },
		}
	}

	client := airtable.NewClient(cfg.Airtable.APIKey, cfg.Airtable.BaseID, cfg.Airtable.BaseURL, cfg.Airtable.Timeout).
		WithLogger(logger)
	client.SchemaRetries = cfg.Airtable.SchemaRetries
	return stores{
		players:   airtable.NewPlayerRepository(client, cfg.Airtable.PlayersTable, cfg.Access.TrialSize),
		attempts:  airtable.NewAttemptRepository(client, cfg.Airtable.AttemptsTable, cfg.Env),
		details:   airtable.NewDetailWriter(client, cfg.Airtable.AnswersTable, cfg.Airtable.FeedbackTable),
		questions: airtable.NewQuestionRepository(client, cfg.Airtable.QuestionsTable),
		check: func(ctx context.Context) error {
			return client.Ping(ctx, cfg.Airtable.QuestionsTable)
		},
	}
}

func accessPolicy(cfg config.Config) player.Policy {
	return player.Policy{
		TrialSize:   cfg.Access.TrialSize,
		Window:      cfg.AccessWindow(),
		MaxRenewals: cfg.Access.MaxRenewalCycles,
		LockTTL:     cfg.Access.ActiveLockTTL,
	}
}

func qualificationRules(cfg config.Config) qualification.Rules {
	rules := qualification.DefaultRules()
	rules.HistorySize = cfg.Qualification.HistorySize
	rules.StrongMaxSeconds = cfg.Qualification.StrongMaxSeconds
	rules.StrongPercent = cfg.Qualification.StrongPercent
	rules.SteadyMaxSeconds = cfg.Qualification.SteadyMaxSeconds
	rules.SteadyPercent = cfg.Qualification.SteadyPercent
	return rules
}
