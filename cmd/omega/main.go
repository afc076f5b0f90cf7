// Command omega runs the TPMJS Omega conversation service: the HTTP API,
// the streaming turn orchestrator, and its storage backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/internal/agent/providers"
	"github.com/tpmjs/omega/internal/auth"
	"github.com/tpmjs/omega/internal/config"
	"github.com/tpmjs/omega/internal/convstate"
	"github.com/tpmjs/omega/internal/dyntool"
	"github.com/tpmjs/omega/internal/executor"
	"github.com/tpmjs/omega/internal/gateway"
	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/internal/omega"
	"github.com/tpmjs/omega/internal/ratelimit"
	"github.com/tpmjs/omega/internal/registry"
	"github.com/tpmjs/omega/internal/storage"
	"github.com/tpmjs/omega/internal/vault"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "omega",
		Short:         "TPMJS Omega conversation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("omega %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Omega API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML or JSON5)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics()

	stores, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer stores.Close()

	authSvc := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	}, stores.Users)

	var vlt *vault.Vault
	if cfg.Vault.Key != "" {
		vlt, err = vault.New(cfg.Vault.Key, stores.Credentials, logger)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	regClient := registry.NewClient(cfg.Registry.SearchURL, cfg.Registry.Timeout, logger, metrics)
	execClient := executor.NewClient(cfg.Executor.URL, cfg.Executor.Timeout)
	factory := dyntool.NewFactory(execClient, metrics)

	state := convstate.NewCacheStore(convstate.CacheConfig{TTL: cfg.Omega.SessionTTL})
	defer state.Stop()
	locks := convstate.NewLocks(0)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Enabled:  true,
		})
	}

	orch := omega.New(stores, provider, regClient, execClient, vlt, factory, state, locks, limiter, logger, metrics, omega.Config{
		SystemPrompt:     cfg.Omega.SystemPrompt,
		Model:            cfg.LLM.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		HistoryLimit:     cfg.Omega.HistoryLimit,
		MaxToolSteps:     cfg.Omega.MaxToolSteps,
		SearchLimit:      cfg.Omega.SearchLimit,
		TitleTurnCutoff:  cfg.Omega.TitleTurnCutoff,
		MaxMessageLength: cfg.Omega.MaxMessageLength,
	})

	gateway.Version = version
	server := gateway.New(gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, orch, stores, authSvc, execClient, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}

func buildStores(cfg *config.Config) (storage.StoreSet, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgCfg := storage.DefaultPostgresConfig()
		if cfg.Database.MaxConnections > 0 {
			pgCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		return storage.NewPostgresStoresFromDSN(cfg.Database.URL, pgCfg)
	default:
		return storage.NewSQLiteStores(cfg.Database.URL)
	}
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(cfg.LLM.APIKey), nil
	case "", "openai":
		return providers.NewOpenAIProvider(cfg.LLM.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
