package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-hub/internal/adapters/drafter"
	"engagement-hub/internal/adapters/eligibility"
	"engagement-hub/internal/adapters/mtproto"
	"engagement-hub/internal/adapters/publisher"
	"engagement-hub/internal/adapters/repo"
	"engagement-hub/internal/adapters/sqlitestore"
	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/cache"
	"engagement-hub/internal/infra/config"
	"engagement-hub/internal/infra/db"
	httpinfra "engagement-hub/internal/infra/http"
	infralog "engagement-hub/internal/infra/log"
	"engagement-hub/internal/infra/metrics"
	openaiinfra "engagement-hub/internal/infra/openai"
	"engagement-hub/internal/infra/queue"
	"engagement-hub/internal/usecase/channels"
	"engagement-hub/internal/usecase/jobs"
	"engagement-hub/internal/usecase/schedule"
	"engagement-hub/internal/usecase/workflow"
)

// stores объединяет хранилища выбранного бэкенда.
type stores struct {
	jobs     domain.JobStore
	items    domain.ItemStore
	channels domain.ChannelStore
	events   domain.EventPublisher
	sessions session.Storage
	close    func()
}

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.Workflow.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный файл правил")
	}

	st := openStores(ctx, cfg, logger)
	defer st.close()

	var counters interface {
		eligibility.Counter
		schedule.OnceGuard
	} = cache.NewMemory()
	backend := "memory"
	eventSinks := []domain.EventPublisher{st.events}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		counters = cache.NewRedis(rdb)
		backend = "redis"
		eventSinks = append(eventSinks, queue.NewRedisEventLog(rdb, "engagement:events", queue.DefaultEventLogSize))
	}
	if cfg.Rabbit.URL != "" {
		rabbit, err := queue.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		eventSinks = append(eventSinks, rabbit)
	}
	events := queue.NewFanout(eventSinks...)

	var draft domain.Drafter = drafter.NewSimple(policy.Thresholds.Recommend)
	if cfg.OpenAI.APIKey != "" {
		client := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		draft = drafter.NewOpenAI(client, cfg.OpenAI.Timeout)
		logger.Info().Str("model", client.Model()).Msg("api: черновики через OpenAI")
	} else {
		logger.Warn().Msg("api: OPENAI_API_KEY не задан, используется эвристический генератор")
	}

	var sources jobs.Sources
	source, err := mtproto.NewSource(mtproto.Config{
		APIID:     cfg.Telegram.APIID,
		APIHash:   cfg.Telegram.APIHash,
		GlobalRPS: float64(cfg.MTProto.GlobalRPS),
	}, st.sessions, infralog.Component(logger, "mtproto"))
	if err != nil {
		logger.Warn().Err(err).Msg("api: источники MTProto отключены")
	} else {
		sources = jobs.Sources{Content: source, Channels: source, Analytics: source}
	}

	elig := eligibility.NewProvider(policy, counters, infralog.Component(logger, "eligibility"), eligibility.WithBackend(backend))
	pub := publisher.NewTelegram(policy, publisher.BotAPIFactory, infralog.Component(logger, "publisher"))

	workflowService := workflow.NewService(st.items, draft, pub, elig,
		workflow.WithLogger(infralog.Component(logger, "workflow")),
		workflow.WithEvents(events),
		workflow.WithPolicy(workflow.Policy{
			PublishThreshold:   policy.Thresholds.PublishEligibility,
			RecommendThreshold: policy.Thresholds.Recommend,
			MaxContentLength:   policy.MaxContentLength,
			AdapterTimeout:     cfg.Workflow.AdapterTimeout,
			BatchConcurrency:   cfg.Workflow.BatchConcurrency,
		}),
	)
	runner := jobs.NewRunner(st.jobs, st.items, st.channels, sources,
		jobs.WithLogger(infralog.Component(logger, "runner")),
		jobs.WithEvents(events),
	)
	if _, err := runner.RecoverInterrupted(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось закрыть прерванные задачи")
	}

	scheduler := schedule.NewAnalytics(runner, counters, cfg.Schedule.Scopes, cfg.Schedule.AnalyticsInterval, infralog.Component(logger, "schedule"))
	go scheduler.Run(ctx)

	srv := httpinfra.NewServer(infralog.Component(logger, "http"))
	httpinfra.NewHandler(workflowService, runner, channels.NewService(st.channels), infralog.Component(logger, "http")).
		Mount(srv.Router, cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("api: AUTH_JWT_SECRET не задан, область берётся из X-Scope")
	}

	metrics.StartServer(ctx, infralog.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки HTTP")
	}

	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("api: задачи не успели завершиться, они будут закрыты при следующем старте")
	}
}

func openStores(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) stores {
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к БД")
		}
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось применить схему")
		}
		logger.Info().Msg("api: хранилище Postgres")
		return stores{
			jobs: pg, items: pg, channels: pg, events: pg,
			sessions: pg.SessionStorage("default"),
			close:    pool.Close,
		}
	}

	gdb, err := db.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось открыть SQLite")
	}
	store, err := sqlitestore.New(gdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подготовить SQLite")
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("api: встроенное хранилище SQLite")
	return stores{
		jobs: store, items: store, channels: store, events: store,
		sessions: &session.FileStorage{Path: cfg.MTProto.SessionFile},
		close: func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}
}
