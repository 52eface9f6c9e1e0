package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	apiPkg "github.com/oyalabs/sensei/internal/api"
	"github.com/oyalabs/sensei/internal/companion"
	"github.com/oyalabs/sensei/internal/config"
	"github.com/oyalabs/sensei/internal/connector"
	slackconn "github.com/oyalabs/sensei/internal/connector/slack"
	"github.com/oyalabs/sensei/internal/connector/telegram"
	"github.com/oyalabs/sensei/internal/connector/webhook"
	"github.com/oyalabs/sensei/internal/logbuf"
	"github.com/oyalabs/sensei/internal/maintenance"
	"github.com/oyalabs/sensei/internal/media"
	"github.com/oyalabs/sensei/internal/provider"
	"github.com/oyalabs/sensei/internal/relay"
	"github.com/oyalabs/sensei/internal/run"
	"github.com/oyalabs/sensei/internal/session"
	"github.com/oyalabs/sensei/internal/store"
	"github.com/oyalabs/sensei/internal/ticket"
	"github.com/oyalabs/sensei/internal/tool"
)

const defaultSystemPrompt = "You are sensei, a helpful personal companion. " +
	"Answer concisely and use your tools when they help."

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up logging: JSON to stdout, ring buffer for /api/logs
	logLevel := parseLevel(cfg.Daemon.LogLevel)
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("senseid starting", "data_dir", cfg.Daemon.DataDir)

	// 1. Storage
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Daemon.DataDir, "error", err)
		os.Exit(1)
	}
	db, err := store.Open(filepath.Join(cfg.Daemon.DataDir, "sensei.db"))
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mediaStore := media.NewStore(cfg.Daemon.DataDir)

	// 2. Sessions seeded with the persisted system prompt, falling back to
	// config and then the built-in default.
	systemPrompt := cfg.Daemon.SystemPrompt
	if saved, err := db.SystemPrompt(); err == nil {
		systemPrompt = saved
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	sessions := session.NewManager(systemPrompt, logger)

	// 3. Model provider
	var provOpts []provider.OpenAIOption
	if cfg.OpenAI.BaseURL != "" {
		provOpts = append(provOpts, provider.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.Model != "" {
		provOpts = append(provOpts, provider.WithModel(cfg.OpenAI.Model))
	}
	if cfg.OpenAI.WhisperModel != "" {
		provOpts = append(provOpts, provider.WithWhisperModel(cfg.OpenAI.WhisperModel))
	}
	if cfg.OpenAI.TTSVoice != "" {
		provOpts = append(provOpts, provider.WithTTSVoice(cfg.OpenAI.TTSVoice))
	}
	prov := provider.NewOpenAI(cfg.OpenAI.APIKey, provOpts...)
	logger.Info("provider initialized", "name", prov.Name(), "model", prov.Model())

	// 4. Onchain collaborators
	var chain *relay.ChainClient
	if cfg.Chain.RPCURL != "" {
		chain = &relay.ChainClient{URL: cfg.Chain.RPCURL}
	}
	var rly *relay.Relay
	if cfg.Chain.RelayURL != "" {
		rly = relay.NewRelay(cfg.Chain.RelayURL, cfg.Chain.RelayKey, logger.With("component", "relay"))
	}
	var prices *relay.PriceFeed
	if cfg.Chain.PriceURL != "" {
		prices = relay.NewPriceFeed(cfg.Chain.PriceURL)
	}

	// 5. Tools
	tools := tool.NewRegistry(logger.With("component", "tools"))
	tools.Register(&tool.WebFetchTool{})
	tools.Register(&tool.BlockNumberTool{Chain: chain})
	if cfg.Brian.APIKey != "" {
		tools.Register(&tool.BrianTool{APIKey: cfg.Brian.APIKey, URL: cfg.Brian.URL})
	}
	logger.Info("tools registered", "tools", tools.List())

	// 6. Companion
	tickets := ticket.NewStore()
	driver := run.New(prov, tools, logger.With("component", "run"))
	comp := companion.New(companion.Options{
		Tickets:       tickets,
		Sessions:      sessions,
		Chat:          prov,
		Runs:          prov,
		Speech:        prov,
		Driver:        driver,
		Tools:         tools,
		Store:         db,
		Media:         mediaStore,
		Logger:        logger.With("component", "companion"),
		Model:         cfg.OpenAI.Model,
		AssistantName: "sensei",
	})

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. API server
	var webhooks *webhook.Handler
	if len(cfg.Connectors.Webhooks) > 0 {
		endpoints := make(map[string]webhook.EndpointConfig, len(cfg.Connectors.Webhooks))
		for name, ep := range cfg.Connectors.Webhooks {
			endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken}
		}
		webhooks = webhook.New(webhook.Config{Endpoints: endpoints}, comp, logger.With("connector", "webhook"))
	}

	apiSrv := apiPkg.NewServer(apiPkg.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		Key:         cfg.API.Key,
		PriceTokens: cfg.Chain.PriceTokens,
	}, apiPkg.Options{
		Service:  comp,
		Sessions: sessions,
		Store:    db,
		Relay:    rly,
		Chain:    chain,
		Prices:   prices,
		Media:    mediaStore,
		Logs:     logBuf,
		Logger:   logger.With("component", "api"),
		Webhooks: webhooks,
	})
	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 8. Platform connectors
	if cfg.Connectors.Telegram != nil {
		bridge := connector.NewBridge(comp, companion.TargetChat, logger.With("connector", "telegram"))
		tgConn, err := telegram.New(
			telegram.Config{
				Token:     cfg.Connectors.Telegram.Token,
				AllowFrom: cfg.Connectors.Telegram.AllowFrom,
			},
			bridge,
			logger.With("connector", "telegram"),
		)
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
		logger.Info("telegram connector started")
	}

	if cfg.Connectors.Slack != nil {
		bridge := connector.NewBridge(comp, companion.TargetChat, logger.With("connector", "slack"))
		slConn, err := slackconn.New(
			slackconn.Config{
				BotToken: cfg.Connectors.Slack.BotToken,
				AppToken: cfg.Connectors.Slack.AppToken,
			},
			bridge,
			logger.With("connector", "slack"),
		)
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "slack", func() { slConn.Start(ctx) })
		logger.Info("slack connector started")
	}

	// 9. Maintenance jobs
	runner, err := maintenance.New(maintenance.Options{
		Tickets:   tickets,
		TicketTTL: time.Duration(cfg.Daemon.TicketTTLMinutes) * time.Minute,
		Media:     mediaStore,
		Prices:    prices,
		Tokens:    cfg.Chain.PriceTokens,
		Logger:    logger.With("component", "maintenance"),
	})
	if err != nil {
		logger.Error("failed to init maintenance runner", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "maintenance", func() { runner.Start(ctx) })
	logger.Info("maintenance runner started", "jobs", runner.JobCount())

	// 10. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("senseid stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
