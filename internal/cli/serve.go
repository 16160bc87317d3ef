package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arkan/chatrelay/internal/config"
	"github.com/arkan/chatrelay/internal/logger"
	"github.com/arkan/chatrelay/internal/metrics"
	"github.com/arkan/chatrelay/pkg/chat"
	"github.com/arkan/chatrelay/pkg/gateway"
	"github.com/arkan/chatrelay/pkg/httpapi"
	"github.com/arkan/chatrelay/pkg/llm"
	"github.com/arkan/chatrelay/pkg/ratelimit"
	"github.com/arkan/chatrelay/pkg/store"
	"github.com/arkan/chatrelay/pkg/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat backend",
	Long: `Start the chat backend. The server exposes the REST API and the
websocket gateway on a single port and runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// A local .env is a convenience for development; absence is fine
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	m := metrics.New()

	st := store.New()
	sweeper := store.NewSweeper(st, cfg.Session.MaxIdle, cfg.Session.SweepInterval)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	validator := validate.New(cfg.Chat.MaxMessageLength, cfg.Chat.AllowedModels)

	limits := ratelimit.DefaultSetConfig()
	applyLimitOverrides(&limits, cfg.RateLimit)
	limiters := ratelimit.NewSet(limits)

	provider, err := llm.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}

	service := chat.NewService(st, validator, provider, chat.Options{
		SystemPrompt:  cfg.Chat.SystemPrompt,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		ContextWindow: cfg.Chat.ContextWindow,
	}, m, zl)

	gw, err := gateway.NewServer(gateway.Config{
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Service:       service,
		Validator:     validator,
		Limiter:       limiters.Realtime,
		Metrics:       m,
		Logger:        zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	srv, err := httpapi.NewServer(httpapi.Options{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}, service, validator, limiters, m, gw.Handler(), zl)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	zl.Info().
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Msg("Starting ChatRelay")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Received signal")
	}

	if err := gw.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop gateway")
	}
	if err := srv.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop http server")
	}
	if err := sweeper.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop session sweeper")
	}
	limiters.Stop()

	zl.Info().Msg("ChatRelay stopped")
	return nil
}

// applyLimitOverrides copies configured request budgets onto the default
// limiter windows. Zero values keep the defaults.
func applyLimitOverrides(limits *ratelimit.SetConfig, cfg config.RateLimitConfig) {
	if cfg.GeneralMax > 0 {
		limits.General.Max = cfg.GeneralMax
	}
	if cfg.ChatMax > 0 {
		limits.Chat.Max = cfg.ChatMax
	}
	if cfg.RealtimeMax > 0 {
		limits.Realtime.Max = cfg.RealtimeMax
	}
	if cfg.AdminMax > 0 {
		limits.Admin.Max = cfg.AdminMax
	}
	if cfg.HealthMax > 0 {
		limits.Health.Max = cfg.HealthMax
	}
}
