package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvBeta = "BETA"
	EnvProd = "PROD"

	BackendAirtable = "airtable"
	BackendMemory   = "memory"

	// Version is reported by /version and stamped on archive entries.
	Version = "v1.0-ritual"
)

type Config struct {
	Env           string              `yaml:"env"`
	HTTP          HTTPConfig          `yaml:"http"`
	Store         StoreConfig         `yaml:"store"`
	Airtable      AirtableConfig      `yaml:"airtable"`
	Notion        NotionConfig        `yaml:"notion"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Access        AccessConfig        `yaml:"access"`
	Qualification QualificationConfig `yaml:"qualification"`
	Ritual        RitualConfig        `yaml:"ritual"`
	Log           LogConfig           `yaml:"log"`
}

type HTTPConfig struct {
	Addr               string        `yaml:"addr"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type AirtableConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseID         string        `yaml:"base_id"`
	BaseURL        string        `yaml:"base_url"`
	PlayersTable   string        `yaml:"players_table"`
	AttemptsTable  string        `yaml:"attempts_table"`
	AnswersTable   string        `yaml:"answers_table"`
	FeedbackTable  string        `yaml:"feedback_table"`
	QuestionsTable string        `yaml:"questions_table"`
	SchemaRetries  int           `yaml:"schema_retries"`
	Timeout        time.Duration `yaml:"timeout"`
}

type NotionConfig struct {
	APIKey          string        `yaml:"api_key"`
	ExamsDatabaseID string        `yaml:"exams_database_id"`
	Timeout         time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	BotToken        string        `yaml:"bot_token"`
	RequireInitData bool          `yaml:"require_init_data"`
	InitDataMaxAge  time.Duration `yaml:"init_data_max_age"`
}

type AccessConfig struct {
	TrialSize         int           `yaml:"trial_size"`
	WindowDays        int           `yaml:"window_days"`
	MaxRenewalCycles  int           `yaml:"max_renewal_cycles"`
	ActiveLockTTL     time.Duration `yaml:"active_lock_ttl"`
	LockSweepInterval time.Duration `yaml:"lock_sweep_interval"`
}

type QualificationConfig struct {
	StrongMaxSeconds int `yaml:"strong_max_seconds"`
	StrongPercent    int `yaml:"strong_percent"`
	SteadyMaxSeconds int `yaml:"steady_max_seconds"`
	SteadyPercent    int `yaml:"steady_percent"`
	HistorySize      int `yaml:"history_size"`
}

type RitualConfig struct {
	DefaultScoreMax int `yaml:"default_score_max"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env: EnvBeta,
		HTTP: HTTPConfig{
			Addr:               ":8080",
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    10 * time.Second,
		},
		Store: StoreConfig{Backend: BackendAirtable},
		Airtable: AirtableConfig{
			PlayersTable:   "players",
			AttemptsTable:  "rituel_attempts",
			AnswersTable:   "rituel_answers",
			FeedbackTable:  "rituel_feedback",
			QuestionsTable: "questions",
			SchemaRetries:  3,
			Timeout:        20 * time.Second,
		},
		Notion:   NotionConfig{Timeout: 20 * time.Second},
		Telegram: TelegramConfig{InitDataMaxAge: 24 * time.Hour},
		Access: AccessConfig{
			TrialSize:         3,
			WindowDays:        15,
			MaxRenewalCycles:  3,
			ActiveLockTTL:     6 * time.Hour,
			LockSweepInterval: 15 * time.Minute,
		},
		Qualification: QualificationConfig{
			StrongMaxSeconds: 360,
			StrongPercent:    80,
			SteadyMaxSeconds: 420,
			SteadyPercent:    53,
			HistorySize:      10,
		},
		Ritual: RitualConfig{DefaultScoreMax: 15},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// RITUAL_CONFIG, the given .env files (or ./.env) and the environment.
// Real environment variables win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("loading env files: %w", err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration reading variables through lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	env := envReader{lookup: lookup}

	if path := env.str("RITUAL_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.Env = strings.ToUpper(env.str("ENV", cfg.Env))
	cfg.HTTP.Addr = env.str("HTTP_ADDR", cfg.HTTP.Addr)
	if port := env.str("PORT", ""); port != "" && !env.has("HTTP_ADDR") {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.HTTP.CORSAllowedOrigins = env.list("CORS_ALLOWED_ORIGINS", cfg.HTTP.CORSAllowedOrigins)
	cfg.HTTP.ShutdownTimeout = env.duration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.Store.Backend = strings.ToLower(env.str("STORE_BACKEND", cfg.Store.Backend))

	at := &cfg.Airtable
	at.APIKey = env.str("AIRTABLE_API_KEY", env.str("AIRTABLE_KEY", at.APIKey))
	at.BaseID = env.str("AIRTABLE_BASE_ID", at.BaseID)
	at.BaseURL = env.str("AIRTABLE_BASE_URL", at.BaseURL)
	at.PlayersTable = env.str("AIRTABLE_PLAYERS_TABLE", at.PlayersTable)
	at.AttemptsTable = env.str("AIRTABLE_ATTEMPTS_TABLE", at.AttemptsTable)
	at.AnswersTable = env.str("AIRTABLE_ANSWERS_TABLE", at.AnswersTable)
	at.FeedbackTable = env.str("AIRTABLE_FEEDBACK_TABLE", at.FeedbackTable)
	at.QuestionsTable = env.str("AIRTABLE_TABLE_ID", at.QuestionsTable)
	at.SchemaRetries = env.integer("AIRTABLE_SCHEMA_RETRIES", at.SchemaRetries)
	at.Timeout = env.duration("AIRTABLE_TIMEOUT", at.Timeout)
	if cfg.Env == EnvBeta {
		at.BaseID = env.str("BETA_AIRTABLE_BASE_ID", at.BaseID)
		at.PlayersTable = env.str("BETA_AIRTABLE_PLAYERS_TABLE_ID", at.PlayersTable)
		at.AttemptsTable = env.str("BETA_AIRTABLE_ATTEMPTS_TABLE_ID", at.AttemptsTable)
		at.AnswersTable = env.str("BETA_AIRTABLE_ANSWERS_TABLE_ID", at.AnswersTable)
		at.FeedbackTable = env.str("BETA_AIRTABLE_FEEDBACK_TABLE_ID", at.FeedbackTable)
	}

	cfg.Notion.APIKey = env.str("NOTION_API_KEY", cfg.Notion.APIKey)
	cfg.Notion.ExamsDatabaseID = env.str("NOTION_EXAMS_DB_ID", cfg.Notion.ExamsDatabaseID)
	cfg.Notion.Timeout = env.duration("NOTION_TIMEOUT", cfg.Notion.Timeout)

	cfg.Telegram.BotToken = env.str("TELEGRAM_BOT_TOKEN", env.str("BOT_TOKEN", cfg.Telegram.BotToken))
	cfg.Telegram.RequireInitData = env.boolean("TELEGRAM_REQUIRE_INIT_DATA", cfg.Telegram.RequireInitData)
	cfg.Telegram.InitDataMaxAge = env.duration("TELEGRAM_INIT_DATA_MAX_AGE", cfg.Telegram.InitDataMaxAge)

	cfg.Access.TrialSize = env.integer("TRIAL_SIZE", cfg.Access.TrialSize)
	cfg.Access.WindowDays = env.integer("ACCESS_WINDOW_DAYS", cfg.Access.WindowDays)
	cfg.Access.MaxRenewalCycles = env.integer("MAX_RENEWAL_CYCLES", cfg.Access.MaxRenewalCycles)
	cfg.Access.ActiveLockTTL = env.duration("ACTIVE_LOCK_TTL", cfg.Access.ActiveLockTTL)
	cfg.Access.LockSweepInterval = env.duration("LOCK_SWEEP_INTERVAL", cfg.Access.LockSweepInterval)

	q := &cfg.Qualification
	q.StrongMaxSeconds = env.integer("QUALIFY_STRONG_MAX_SECONDS", q.StrongMaxSeconds)
	q.StrongPercent = env.integer("QUALIFY_STRONG_PERCENT", q.StrongPercent)
	q.SteadyMaxSeconds = env.integer("QUALIFY_STEADY_MAX_SECONDS", q.SteadyMaxSeconds)
	q.SteadyPercent = env.integer("QUALIFY_STEADY_PERCENT", q.SteadyPercent)
	q.HistorySize = env.integer("QUALIFY_HISTORY_SIZE", q.HistorySize)

	cfg.Ritual.DefaultScoreMax = env.integer("DEFAULT_SCORE_MAX", cfg.Ritual.DefaultScoreMax)

	cfg.Log.Level = env.str("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = env.str("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = env.str("LOG_FILE", cfg.Log.File)

	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Env != EnvBeta && c.Env != EnvProd {
		errs = append(errs, fmt.Errorf("ENV must be %s or %s, got %q", EnvBeta, EnvProd, c.Env))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendAirtable:
		if c.Airtable.APIKey == "" || c.Airtable.BaseID == "" {
			errs = append(errs, errors.New("AIRTABLE_API_KEY and AIRTABLE_BASE_ID are required for the airtable backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	if c.Access.TrialSize <= 0 {
		errs = append(errs, errors.New("TRIAL_SIZE must be positive"))
	}
	if c.Access.WindowDays <= 0 {
		errs = append(errs, errors.New("ACCESS_WINDOW_DAYS must be positive"))
	}
	if c.Access.MaxRenewalCycles <= 0 {
		errs = append(errs, errors.New("MAX_RENEWAL_CYCLES must be positive"))
	}
	if c.Access.LockSweepInterval < 0 || c.Access.ActiveLockTTL < 0 {
		errs = append(errs, errors.New("lock durations cannot be negative"))
	}
	if c.Qualification.HistorySize <= 0 {
		errs = append(errs, errors.New("QUALIFY_HISTORY_SIZE must be positive"))
	}
	if c.Ritual.DefaultScoreMax <= 0 {
		errs = append(errs, errors.New("DEFAULT_SCORE_MAX must be positive"))
	}
	if c.Telegram.RequireInitData && c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required when init data is enforced"))
	}
	return errors.Join(errs...)
}

// AccessWindow is the qualification window as a duration.
func (c Config) AccessWindow() time.Duration {
	return time.Duration(c.Access.WindowDays) * 24 * time.Hour
}

// envReader collects parse failures so Load can report them together.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) has(key string) bool {
	v, ok := r.lookup(key)
	return ok && strings.TrimSpace(v) != ""
}

func (r *envReader) str(key, fallback string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (r *envReader) boolean(key string, fallback bool) bool {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (r *envReader) list(key string, fallback []string) []string {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
