// Package main is the entry point for the spotdex trading service.
// It parses command-line flags, loads configuration, wires the trading
// components and serves the UI until interrupted.
//
// Usage:
//
//	spotdex --config configs/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"spotdex/internal/allowance"
	"spotdex/internal/api"
	"spotdex/internal/exchange"
	"spotdex/internal/indexer"
	"spotdex/internal/lifecycle"
	"spotdex/internal/orchestrator"
	"spotdex/internal/pricefeed"
	"spotdex/internal/quote"
	"spotdex/internal/registry"
	"spotdex/pkg/config"
)

// Command-line flags.
var (
	// configPath is the path to the YAML configuration file.
	configPath string
)

const (
	defaultHTTPPort    = 8080
	defaultHTTPTimeout = 15 * time.Second
	startupDialTimeout = 30 * time.Second
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env)), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return err
	}
	logger.Info("token registry loaded", zap.Strings("symbols", tokens.Symbols()))

	dialCtx, cancelDial := context.WithTimeout(ctx, startupDialTimeout)
	chain, err := exchange.NewExchange(dialCtx, &cfg.Chain, logger)
	cancelDial()
	if err != nil {
		return err
	}
	if signer, ok := chain.Signer(); ok {
		logger.Info("signer configured", zap.String("address", signer.Hex()))
	} else {
		logger.Warn("no signing key configured, writes are disabled", zap.String("env", cfg.Chain.PrivateKeyEnv))
	}

	prices := pricefeed.NewClient(pricefeed.Config{
		Oracles: chain,
		Logger:  logger.Named("pricefeed"),
	})
	engine := quote.NewEngine(quote.EngineConfig{
		Prices: prices,
		Tokens: tokens,
		Fees:   chain,
		Logger: logger.Named("quote"),
	})

	var orch *orchestrator.Orchestrator
	quoter := quote.NewQuoter(quote.QuoterConfig{
		Source:          engine,
		RefreshInterval: cfg.Quote.RefreshInterval,
		Name:            "swap_quote",
		// Fires only after a pair is selected, once orch is set.
		OnUpdate: func(r quote.Rates) { orch.RatesUpdated(r) },
		Logger:   logger.Named("quoter"),
	})
	defer quoter.Close()

	monitor := lifecycle.NewMonitor(lifecycle.Config{
		Orders: indexer.NewClient(indexer.ClientConfig{
			Endpoint: cfg.Indexer.Endpoint,
			Timeout:  cfg.Indexer.Timeout,
			Logger:   logger.Named("indexer"),
		}),
		Rates:  engine,
		Tokens: tokens,
		Thresholds: lifecycle.Thresholds{
			Cooldown: cfg.Lifecycle.Cooldown,
			Window:   cfg.Lifecycle.Window,
		},
		TickInterval:        cfg.Lifecycle.TickInterval,
		PollInterval:        cfg.Lifecycle.PollInterval,
		RateRefreshInterval: cfg.Lifecycle.RateRefreshInterval,
		Logger:              logger.Named("lifecycle"),
	})

	httpCfg, pingInterval := serverSettings(cfg)
	hub := api.NewHub(api.HubConfig{
		PingInterval: pingInterval,
		Logger:       logger.Named("stream"),
	})

	orch = orchestrator.New(orchestrator.Config{
		Tokens: tokens,
		Chain:  chain,
		Gate: allowance.NewGate(allowance.Config{
			Tokens:  chain,
			Spender: chain.Address(),
			Logger:  logger.Named("allowance"),
		}),
		Quoter:           quoter,
		Monitor:          monitor,
		Notifier:         orchestrator.Multi{orchestrator.LogNotifier{Logger: logger.Named("notify")}, hub},
		DefaultFromToken: cfg.Quote.DefaultFromToken,
		ReceiptTimeout:   cfg.Chain.ReceiptTimeout,
		Cooldown:         cfg.Lifecycle.Cooldown,
		Logger:           logger.Named("orchestrator"),
	})
	// Wait for submitted writes to resolve before exiting.
	defer orch.Wait()

	hub.SetWelcome(func() []api.Message {
		return api.SnapshotMessages(orch.Snapshot(), monitor.Snapshot())
	})

	server := api.NewServer(api.Config{
		Session:     orch,
		Orders:      monitor,
		Tokens:      tokens,
		Hub:         hub,
		MetricsPath: cfg.MetricsPath(),
		Logger:      logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx, orch.Subscribe(gctx), monitor.Subscribe(gctx))
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", httpCfg.Port)
		return server.Run(gctx, addr, httpCfg.ReadTimeout, httpCfg.WriteTimeout)
	})

	logger.Info("service started",
		zap.String("exchange", chain.Address().Hex()),
		zap.Int("tokens", tokens.Len()))

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// serverSettings fills HTTP and stream defaults for an omitted server section.
func serverSettings(cfg *config.Config) (config.HTTPConfig, time.Duration) {
	httpCfg := config.HTTPConfig{Port: defaultHTTPPort}
	var ping time.Duration
	if cfg.Server != nil {
		httpCfg = cfg.Server.HTTP
		ping = cfg.Server.WebSocket.PingInterval
	}
	if httpCfg.ReadTimeout <= 0 {
		httpCfg.ReadTimeout = defaultHTTPTimeout
	}
	if httpCfg.WriteTimeout <= 0 {
		httpCfg.WriteTimeout = defaultHTTPTimeout
	}
	return httpCfg, ping
}
