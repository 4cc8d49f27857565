package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"openbounty/config"
	"openbounty/core"
	"openbounty/core/events"
	"openbounty/core/genesis"
	"openbounty/core/state"
	"openbounty/gateway/idempotency"
	"openbounty/gateway/middleware"
	"openbounty/observability/logging"
	"openbounty/observability/otel"
	"openbounty/rpc"
	"openbounty/storage"
	"openbounty/storage/eventlog"
)

const (
	serviceName    = "bountyd"
	genesisPathEnv = "BOUNTY_GENESIS"
	pruneInterval  = 10 * time.Minute
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides BOUNTY_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service: serviceName,
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv), logger); err != nil {
		logger.Error("bountyd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	shutdownTelemetry, err := otel.Init(ctx, cfg.Telemetry.OTel(serviceName, cfg.Environment, cfg.NetworkName))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ChainDir())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	journal, err := eventlog.Open(cfg.EventLog())
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn("event journal close failed", slog.Any("error", err))
		}
	}()
	journal.SetLogger(logger)

	ledger, err := openLedger(cfg, state.NewManager(db), journal, genesisPath, logger)
	if err != nil {
		return err
	}

	serverCfg := serverConfig(cfg)
	if cfg.Idempotency.Enabled {
		store, err := openIdempotency(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		serverCfg.Idempotency = store
	}

	server := rpc.NewServer(ledger, journal, serverCfg, logger)
	logger.Info("bountyd ready",
		slog.String("network", cfg.NetworkName),
		slog.String("listen", cfg.ListenAddress),
		slog.Bool("faucet", cfg.EnableFaucet))
	return server.Start(ctx, cfg.ListenAddress)
}

// openLedger builds the ledger, subscribes the journal and applies the genesis
// document on first start.
func openLedger(cfg *config.Config, manager *state.Manager, sink events.Emitter, genesisPath string, logger *slog.Logger) (*core.Ledger, error) {
	ledger := core.NewLedger(manager)
	ledger.SetLogger(logger)
	if sink != nil {
		ledger.Subscribe(sink)
	}
	if cfg.EnableFaucet {
		limit, err := cfg.FaucetLimit()
		if err != nil {
			return nil, err
		}
		ledger.EnableFaucet(limit)
		logger.Warn("faucet enabled", slog.String("network", cfg.NetworkName))
	}

	if strings.TrimSpace(genesisPath) == "" {
		return ledger, nil
	}
	applied, err := genesis.Applied(manager)
	if err != nil {
		return nil, fmt.Errorf("check genesis: %w", err)
	}
	if applied {
		logger.Info("genesis already applied, ignoring genesis file", slog.String("path", genesisPath))
		return ledger, nil
	}
	spec, err := genesis.LoadSpec(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	evts, err := genesis.Apply(manager, spec)
	if err != nil && !errors.Is(err, genesis.ErrAlreadyApplied) {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if sink != nil {
		for _, evt := range evts {
			sink.Emit(events.Typed{Evt: evt})
		}
	}
	logger.Info("genesis applied",
		slog.String("path", genesisPath),
		slog.Int("allocations", len(spec.Allocations())))
	return ledger, nil
}

// openIdempotency opens the response cache and prunes it in the background
// until ctx ends.
func openIdempotency(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*idempotency.Store, error) {
	ttl, err := cfg.Idempotency.Retention()
	if err != nil {
		return nil, err
	}
	store, err := idempotency.Open(cfg.Idempotency.Source(cfg.DataDir), ttl)
	if err != nil {
		return nil, err
	}
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.Prune(ctx)
				if err != nil {
					logger.Warn("idempotency prune failed", slog.Any("error", err))
					continue
				}
				if removed > 0 {
					logger.Debug("idempotency records pruned", slog.Int64("removed", removed))
				}
			}
		}
	}()
	return store, nil
}

// resolveGenesisPath prefers the flag, then the environment, then config.
func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if lookup != nil {
		if v, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(configValue)
}

func serverConfig(cfg *config.Config) rpc.ServerConfig {
	return rpc.ServerConfig{
		ServiceName:    serviceName,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		Observability: true,
		LogRequests:   !strings.EqualFold(cfg.Environment, "prod"),
		Tracing:       cfg.Telemetry.Traces,
	}
}
