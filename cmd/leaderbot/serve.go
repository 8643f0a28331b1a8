package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/leaderbot/leaderbot/internal/audit"
	"github.com/leaderbot/leaderbot/internal/channel"
	"github.com/leaderbot/leaderbot/internal/channel/adapters/messenger"
	"github.com/leaderbot/leaderbot/internal/config"
	"github.com/leaderbot/leaderbot/internal/conversation"
	"github.com/leaderbot/leaderbot/internal/db"
	"github.com/leaderbot/leaderbot/internal/dedupe"
	"github.com/leaderbot/leaderbot/internal/generation"
	"github.com/leaderbot/leaderbot/internal/handlers"
	"github.com/leaderbot/leaderbot/internal/healthcheck"
	channelchecker "github.com/leaderbot/leaderbot/internal/healthcheck/checkers/channel"
	generationchecker "github.com/leaderbot/leaderbot/internal/healthcheck/checkers/generation"
	postgreschecker "github.com/leaderbot/leaderbot/internal/healthcheck/checkers/postgres"
	"github.com/leaderbot/leaderbot/internal/housekeeping"
	"github.com/leaderbot/leaderbot/internal/logger"
	"github.com/leaderbot/leaderbot/internal/orchestrator"
	"github.com/leaderbot/leaderbot/internal/privacy"
	"github.com/leaderbot/leaderbot/internal/quota"
	"github.com/leaderbot/leaderbot/internal/server"
	"github.com/leaderbot/leaderbot/internal/storage/providers/localfs"
	"github.com/leaderbot/leaderbot/internal/styles"
	"github.com/leaderbot/leaderbot/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDeriver,
			provideCatalog,
			conversation.NewStore,
			provideQuotaGate,
			provideDedupe,
			provideDBPool,
			provideRecorder,
			provideArtifactStore,
			provideOpenAIProvider,
			provideGenerator,
			provideOrchestrator,
			provideSender,
			provideChannelManager,
			provideHousekeeping,
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(providePingHandler),
			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startHousekeeping,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDeriver(cfg config.Config) (*privacy.Deriver, error) {
	d, err := privacy.NewDeriver(cfg.Privacy.Pepper)
	if err != nil {
		return nil, fmt.Errorf("privacy: %w (set PRIVACY_PEPPER)", err)
	}
	return d, nil
}

func provideCatalog(cfg config.Config) (*styles.Catalog, error) {
	if cfg.Styles.CatalogPath == "" {
		return styles.Default(), nil
	}
	return styles.LoadFile(cfg.Styles.CatalogPath)
}

func provideQuotaGate(cfg config.Config) *quota.Gate {
	return quota.NewGate(cfg.Quota.DailyLimit)
}

func provideDedupe(cfg config.Config) *dedupe.Set {
	return dedupe.New(cfg.Dedupe.TTL(), cfg.Dedupe.MaxEntries)
}

// provideDBPool returns a nil pool when no DSN is configured; the audit trail
// then stays log-only.
func provideDBPool(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		log.Info("postgres not configured, audit trail is log-only")
		return nil, nil
	}
	if err := db.Migrate(log, cfg.Postgres.DSN); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRecorder(log *slog.Logger, pool *pgxpool.Pool) audit.Recorder {
	recorders := audit.Multi{audit.NewLogRecorder(log)}
	if pool != nil {
		recorders = append(recorders, audit.NewPGRecorder(pool))
	}
	return recorders
}

func provideArtifactStore(cfg config.Config) (*localfs.Provider, error) {
	return localfs.New(cfg.Generation.PublicDir)
}

func provideOpenAIProvider(cfg config.Config) *generation.OpenAIProvider {
	return generation.NewOpenAIProvider(generation.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Model:        cfg.OpenAI.Model,
		Size:         cfg.OpenAI.Size,
		OutputFormat: cfg.OpenAI.OutputFormat,
	}, nil)
}

func provideGenerator(log *slog.Logger, cfg config.Config, catalog *styles.Catalog, provider *generation.OpenAIProvider, store *localfs.Provider) generation.Generator {
	if cfg.Generation.Mode == config.GeneratorModeMock {
		log.Info("generator in mock mode")
		return generation.NewMockGenerator(catalog, cfg.Generation.PublicBaseURL)
	}
	return generation.NewPipeline(log, generation.PipelineConfig{
		PublicBaseURL:   cfg.Generation.PublicBaseURL,
		MinSourceBytes:  cfg.Generation.MinSourceBytes,
		ProviderTimeout: cfg.Generation.ProviderTimeout(),
	}, catalog, generation.NewFetcher(nil, cfg.Generation.FetchTimeout()), provider, store)
}

func provideOrchestrator(log *slog.Logger, cfg config.Config, store *conversation.Store, gate *quota.Gate, catalog *styles.Catalog, generator generation.Generator, recorder audit.Recorder) *orchestrator.Orchestrator {
	return orchestrator.New(log, store, gate, catalog, generator, recorder, orchestrator.Options{
		ConsumeOn:        cfg.Quota.ConsumeOn,
		PrivacyPolicyURL: cfg.Messenger.PrivacyPolicyURL,
	})
}

func provideSender(log *slog.Logger, cfg config.Config) channel.Sender {
	if cfg.Messenger.DryRun || cfg.Messenger.PageAccessToken == "" {
		log.Warn("messenger sender in dry-run mode, replies are only logged")
		return messenger.NewLogSender(log)
	}
	return messenger.NewGraphSender(log, messenger.GraphConfig{
		BaseURL:         cfg.Messenger.GraphAPIBaseURL,
		Version:         cfg.Messenger.GraphAPIVersion,
		PageAccessToken: cfg.Messenger.PageAccessToken,
		RatePerSecond:   cfg.Messenger.SendRatePerSecond,
	}, nil)
}

func provideChannelManager(log *slog.Logger, cfg config.Config, deduper *dedupe.Set, deriver *privacy.Deriver, orch *orchestrator.Orchestrator, sender channel.Sender) *channel.Manager {
	return channel.NewManager(log, deduper, deriver, orch, sender, channel.ManagerOptions{
		QueueSize:   cfg.Messenger.QueueSize,
		Workers:     cfg.Messenger.Workers,
		Generations: cfg.Messenger.GenerationWorkers,
	})
}

func provideHousekeeping(log *slog.Logger, cfg config.Config, store *conversation.Store, gate *quota.Gate, deduper *dedupe.Set, artifacts *localfs.Provider) *housekeeping.Service {
	return housekeeping.NewService(log, housekeeping.Config{
		Schedule:           cfg.Housekeeping.Schedule,
		ConversationMaxAge: cfg.Conversation.MaxIdle(),
		ArtifactPrefix:     generation.ArtifactPrefix,
		ArtifactMaxAge:     cfg.Generation.ArtifactMaxAge(),
	}, housekeeping.Targets{
		Conversations: store,
		Quota:         gate,
		Dedupe:        deduper,
		Artifacts:     artifacts,
	})
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, manager *channel.Manager) *messenger.WebhookHandler {
	return messenger.NewWebhookHandler(log, messenger.WebhookConfig{
		AppSecret:   cfg.Messenger.AppSecret,
		VerifyToken: cfg.Messenger.VerifyToken,
	}, manager)
}

func providePingHandler(log *slog.Logger, cfg config.Config, manager *channel.Manager, provider *generation.OpenAIProvider, pool *pgxpool.Pool) *handlers.PingHandler {
	var readiness generationchecker.Readiness
	if cfg.Generation.Mode == config.GeneratorModeOpenAI {
		readiness = provider
	}
	checkers := []healthcheck.Checker{
		channelchecker.NewChecker(log, manager),
		generationchecker.NewChecker(cfg.Generation.Mode, readiness, cfg.Generation.PublicBaseURL),
	}
	if pool != nil {
		checkers = append(checkers, postgreschecker.NewChecker(pool))
	}
	return handlers.NewPingHandler(log, checkers...)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.Config.Server.Addr,
		PublicDir: params.Config.Generation.PublicDir,
	}, params.ServerHandlers...)
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { channelManager.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return channelManager.Stop(stopCtx) },
	})
}

func startHousekeeping(lc fx.Lifecycle, svc *housekeeping.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return svc.Start(ctx) },
		OnStop:  func(stopCtx context.Context) error { cancel(); return svc.Stop(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	logger.Info("starting leaderbot", slog.String("version", version.GetInfo()), slog.String("generator", cfg.Generation.Mode))
	if cfg.Generation.PublicBaseURL == "" {
		logger.Warn("APP_BASE_URL not set, generation requests will fail")
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
