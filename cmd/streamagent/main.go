// Package main provides the CLI entry point for the streamagent service.
//
// streamagent serves conversational agent sessions over Server-Sent Events,
// with human-in-the-loop tool approval and a context budget guard that
// compresses long histories before each model call.
//
// # Basic Usage
//
// Start the server:
//
//	streamagent serve --config streamagent.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models (or compatible endpoints)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huangjh/streamagent/internal/agent"
	"github.com/huangjh/streamagent/internal/channels"
	"github.com/huangjh/streamagent/internal/config"
	"github.com/huangjh/streamagent/internal/guard"
	"github.com/huangjh/streamagent/internal/interrupts"
	"github.com/huangjh/streamagent/internal/llm"
	"github.com/huangjh/streamagent/internal/observability"
	"github.com/huangjh/streamagent/internal/orchestrator"
	"github.com/huangjh/streamagent/internal/server"
	"github.com/huangjh/streamagent/internal/transcript"
	"github.com/huangjh/streamagent/internal/workers"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "streamagent",
		Short:        "streamagent - streaming agent session service",
		Long:         "streamagent serves agent sessions over SSE with resumable human-in-the-loop tool approval.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the streaming agent server",
		Long: `Start the streaming agent server.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with built-in defaults
  streamagent serve

  # Start with a config file
  streamagent serve --config /etc/streamagent/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)
	logger.Info("starting streamagent", "version", version, "commit", commit)

	metrics := observability.NewMetrics()

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "streamagent",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	logger.Info("llm provider ready", "provider", provider.Name())

	store, err := buildTranscriptStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := channels.NewRegistry(channels.RegistryConfig{
		Timeout: cfg.Session.ChannelTimeout,
		Logger:  logger,
		Metrics: metrics,
	})

	compactor, err := llm.NewSummaryCompactor(provider, cfg.LLM.Compaction.Model)
	if err != nil {
		return fmt.Errorf("failed to build compactor: %w", err)
	}
	budgetGuard, err := guard.New(guard.Config{
		TokenBudget: cfg.LLM.Compaction.TokenBudget,
		Compactor:   compactor,
		Registry:    registry,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build budget guard: %w", err)
	}

	runner, err := agent.NewModelRunner(agent.RunnerConfig{
		Provider: provider,
		Hook:     budgetGuard,
		Store:    store,
		Tools:    []llm.Tool{&agent.TimeTool{}, &agent.WeatherTool{}},
		Approval: defaultApprovalRules(),
		SystemPrompt:   cfg.LLM.SystemPrompt,
		HistoryLimit:   cfg.Session.HistoryLimit,
		MaxIterations:  cfg.LLM.MaxIterations,
		EnableThinking: cfg.LLM.EnableThinking,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	pool := workers.New(workers.Config{
		Core:      cfg.Workers.Core,
		Max:       cfg.Workers.Max,
		Queue:     cfg.Workers.Queue,
		KeepAlive: cfg.Workers.KeepAlive,
		Logger:    logger,
	})
	defer pool.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		Executor:      runner,
		Registry:      registry,
		Interruptions: interrupts.NewStore(),
		Pool:          pool,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	srv, err := server.New(server.Config{
		Addr:     cfg.Server.Addr(),
		Streamer: orch,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// defaultApprovalRules lists the tools that pause for human approval before
// executing. The demo gates the clock tool.
func defaultApprovalRules() []agent.ApprovalRule {
	return []agent.ApprovalRule{
		{Tool: "get_current_time", Description: "Reads the current date and time"},
	}
}

// buildProvider constructs the configured LLM provider. API keys fall back to
// the conventional environment variables.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	name := cfg.LLM.DefaultProvider
	pc := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func buildTranscriptStore(cfg *config.Config) (transcript.Store, error) {
	switch cfg.Transcript.Backend {
	case "memory":
		return transcript.NewMemoryStore(), nil
	case "sqlite":
		store, err := transcript.NewSQLiteStore(cfg.Transcript.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown transcript backend %q", cfg.Transcript.Backend)
	}
}
