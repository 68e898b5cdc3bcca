package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/api"
	"github.com/BTreeMap/GuiaIA/internal/backend"
	"github.com/BTreeMap/GuiaIA/internal/genai"
	"github.com/BTreeMap/GuiaIA/internal/messaging"
	"github.com/BTreeMap/GuiaIA/internal/store"
	"github.com/BTreeMap/GuiaIA/internal/util"
	"github.com/BTreeMap/GuiaIA/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDirName is created under the home directory when GUIAIA_STATE_DIR is unset.
	DefaultStateDirName = ".guiaia"
	// DefaultAppDBFileName is the SQLite database holding prompt history and the outbox.
	DefaultAppDBFileName = "guiaia.db"
	// DefaultLogFileName is where `guiaia chat` logs.
	DefaultLogFileName = "guiaia.log"
	// DefaultHTTPTimeout bounds every backend request.
	DefaultHTTPTimeout = 30 * time.Second

	ImproverBackend = "backend"
	ImproverOpenAI  = "openai"

	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"

	userAgent = "guiaia-cli/1.0"
)

// Config holds environment configuration. Flags override every field.
type Config struct {
	BackendURL       string
	StateDir         string
	DatabaseURL      string
	Analytics        bool
	Improver         string
	OpenAIKey        string
	OpenAIModel      string
	Animate          bool
	HTTPTimeout      time.Duration
	LogLevel         string
	RelayAddr        string
	RelayChannel     string
	WhatsAppDSN      string
	QROutput         string
	NumericCode      bool
	TwilioPublicURL  string
	MaxConversations int
}

func main() {
	loadDotEnv()
	cfg := loadEnvironmentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "guiaia:", err)
		os.Exit(1)
	}
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

// defaultStateDir returns ~/.guiaia, or a relative .guiaia when there is no home.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStateDirName
	}
	return filepath.Join(home, DefaultStateDirName)
}

// loadEnvironmentConfig reads configuration from environment variables.
func loadEnvironmentConfig() Config {
	return Config{
		BackendURL:       util.EnvOrDefault("GUIAIA_BACKEND_URL", backend.DefaultBaseURL),
		StateDir:         util.EnvOrDefault("GUIAIA_STATE_DIR", defaultStateDir()),
		DatabaseURL:      util.EnvOrDefault("DATABASE_URL", ""),
		Analytics:        util.ParseBoolEnv("GUIAIA_ANALYTICS", true),
		Improver:         util.EnvOrDefault("GUIAIA_IMPROVER", ImproverBackend),
		OpenAIKey:        util.EnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIModel:      util.EnvOrDefault("OPENAI_MODEL", genai.DefaultModel),
		Animate:          util.ParseBoolEnv("GUIAIA_ANIMATE", true),
		HTTPTimeout:      util.ParseDurationEnv("GUIAIA_HTTP_TIMEOUT", DefaultHTTPTimeout),
		LogLevel:         util.EnvOrDefault("GUIAIA_LOG_LEVEL", "info"),
		RelayAddr:        util.EnvOrDefault("RELAY_ADDR", api.DefaultAddr),
		RelayChannel:     util.EnvOrDefault("RELAY_CHANNEL", ChannelWhatsApp),
		WhatsAppDSN:      util.EnvOrDefault("WHATSAPP_DB_DSN", ""),
		TwilioPublicURL:  util.EnvOrDefault("TWILIO_WEBHOOK_URL", ""),
		MaxConversations: util.ParseIntEnv("RELAY_MAX_CONVERSATIONS", messaging.DefaultMaxConversations),
	}
}

// AppDSN is DATABASE_URL, or the SQLite file in the state directory. Empty
// means history and the outbox live in memory.
func (c Config) AppDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.StateDir == "" {
		return ""
	}
	return filepath.Join(c.StateDir, DefaultAppDBFileName)
}

// WhatsAppSessionDSN is WHATSAPP_DB_DSN, or whatsmeow's SQLite file in the state directory.
func (c Config) WhatsAppSessionDSN() string {
	if c.WhatsAppDSN != "" {
		return c.WhatsAppDSN
	}
	return whatsapp.SQLiteDSN(filepath.Join(c.StateDir, whatsapp.DefaultDBFile))
}

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "guiaia",
		Short:         "GuíaIA builds a prompt by asking you a series of questions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "GuíaIA backend base URL (overrides $GUIAIA_BACKEND_URL)")
	pf.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for history, outbox and logs (overrides $GUIAIA_STATE_DIR)")
	pf.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "SQLite path or Postgres DSN for history and outbox (overrides $DATABASE_URL)")
	pf.BoolVar(&cfg.Analytics, "analytics", cfg.Analytics, "send usage events to the backend (overrides $GUIAIA_ANALYTICS)")
	pf.StringVar(&cfg.Improver, "improver", cfg.Improver, "prompt improver: backend or openai (overrides $GUIAIA_IMPROVER)")
	pf.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI model for --improver openai (overrides $OPENAI_MODEL)")
	pf.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout of each backend request (overrides $GUIAIA_HTTP_TIMEOUT)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	root.AddCommand(newChatCmd(cfg), newRelayCmd(cfg), newHistoryCmd(cfg), newOutboxCmd(cfg))
	return root
}

// parseLogLevel maps a level name to slog, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func newBackendClient(cfg *Config) *backend.Client {
	return backend.NewClient(
		backend.WithBaseURL(cfg.BackendURL),
		backend.WithTimeout(cfg.HTTPTimeout),
		backend.WithUserAgent(userAgent),
	)
}

// buildImprover returns the backend client itself or an OpenAI client.
func buildImprover(cfg *Config, bc *backend.Client) (actions.Improver, error) {
	switch strings.ToLower(cfg.Improver) {
	case "", ImproverBackend:
		return bc, nil
	case ImproverOpenAI:
		client, err := genai.NewClient(genai.WithAPIKey(cfg.OpenAIKey), genai.WithModel(cfg.OpenAIModel))
		if err != nil {
			return nil, fmt.Errorf("openai improver: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown improver %q (want %s or %s)", cfg.Improver, ImproverBackend, ImproverOpenAI)
	}
}

// openStore opens the configured database, creating the state directory for
// SQLite. Without any location an in-memory store is used.
func openStore(cfg *Config) (store.Persistence, error) {
	dsn := cfg.AppDSN()
	if dsn == "" {
		slog.Debug("openStore: no state directory or DSN, using memory")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	st, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// analyticsShutdownTimeout bounds the final delivery attempt on exit.
const analyticsShutdownTimeout = 5 * time.Second

// startAnalytics returns the event queue, or nil when analytics are off, and
// a function delivering what is still pending. With a database events go
// through the durable outbox, drained by a sender running until ctx is done;
// otherwise they are posted directly.
func startAnalytics(ctx context.Context, cfg *Config, st store.Persistence, bc *backend.Client) (analytics.Queue, func()) {
	if !cfg.Analytics {
		return nil, func() {}
	}
	if cfg.AppDSN() == "" {
		q := analytics.NewDirectQueue(bc, analyticsShutdownTimeout)
		return q, q.Wait
	}
	sender := store.NewOutboxSender(st, analytics.SendFunc(bc), 0)
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("startAnalytics: stale outbox recovery failed", "error", err)
	}
	go sender.Run(ctx)
	drain := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), analyticsShutdownTimeout)
		defer cancel()
		sent, failed := sender.Flush(flushCtx)
		slog.Debug("startAnalytics: outbox drained on exit", "sent", sent, "failed", failed)
	}
	return analytics.NewOutboxQueue(st), drain
}
