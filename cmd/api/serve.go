package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/campus-care/counseling-service/internal/api/http"
	"github.com/campus-care/counseling-service/internal/api/http/handlers"
	"github.com/campus-care/counseling-service/internal/api/ws"
	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/config"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	"github.com/campus-care/counseling-service/internal/observability"
	"github.com/campus-care/counseling-service/internal/persistence"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
	"github.com/campus-care/counseling-service/internal/service"
	"github.com/campus-care/counseling-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API",
	RunE:  runServe,
}

// repositories is the storage selected at startup.
type repositories struct {
	users     repository.UserRepository
	tickets   repository.TicketRepository
	messages  repository.ChatMessageRepository
	schedules repository.ScheduleRepository
	history   repository.TicketHistoryRepository
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	repos, err := buildRepositories(pg, cfg, logger)
	if err != nil {
		return err
	}

	var redis *persistence.Redis
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockBackendRedis {
		redis = persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		locker = lock.NewRedisLocker(redis.Client, cfg.Lock.TTL(), logger)
	}
	logger.Info("lock backend selected", zap.String("backend", cfg.Lock.Backend))

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	chatRegistry := realtime.NewRegistry(realtime.Options{
		Name:         "chat",
		WriteTimeout: cfg.Realtime.WriteTimeout(),
		Logger:       logger,
	})
	notifyRegistry := realtime.NewRegistry(realtime.Options{
		Name:         "notifications",
		WriteTimeout: cfg.Realtime.WriteTimeout(),
		Logger:       logger,
	})

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		UserRepo:    repos.users,
		HistoryRepo: repos.history,
		Locker:      locker,
		Dispatcher:  dispatcher,
		Logger:      logger.Named("tickets"),
	})
	scheduleService := service.NewScheduleService(service.ScheduleDependencies{
		ScheduleRepo:    repos.schedules,
		TicketRepo:      repos.tickets,
		UserRepo:        repos.users,
		Locker:          locker,
		Dispatcher:      dispatcher,
		Logger:          logger.Named("schedules"),
		ConflictMode:    cfg.Schedule.ConflictMode,
		DefaultDuration: cfg.Schedule.DefaultDurationMinutes,
	})
	// Chat ordering guards this process's sockets, so it always uses an
	// in-process lock regardless of the configured backend.
	chatService := service.NewChatService(service.ChatDependencies{
		TicketRepo:  repos.tickets,
		MessageRepo: repos.messages,
		UserRepo:    repos.users,
		Registry:    chatRegistry,
		Locker:      lock.NewKeyedMutex(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger.Named("chat"),
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Registry:   notifyRegistry,
		UserRepo:   repos.users,
		Metrics:    metrics,
		Logger:     logger.Named("notifications"),
	})
	worker.StartNotificationWorker(notificationService)

	sink := events.NewKafkaSink(events.ParseBrokers(cfg.Events.KafkaBrokers), cfg.Events.KafkaTopic, logger)
	worker.StartEventExport(sink, dispatcher)
	if sink != nil {
		logger.Info("event export enabled", zap.String("topic", cfg.Events.KafkaTopic))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, repos.users)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	ws.NewHandler(ws.Config{
		Auth:                 authMiddleware,
		Chat:                 chatService,
		ChatRegistry:         chatRegistry,
		NotificationRegistry: notifyRegistry,
		WriteTimeout:         cfg.Realtime.WriteTimeout(),
		IdleTimeout:          cfg.Realtime.IdleTimeout(),
		Logger:               logger.Named("ws"),
	}).Register(app)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, metrics),
		Tickets:        handlers.NewTicketsHandler(ticketService, chatService),
		Schedules:      handlers.NewSchedulesHandler(scheduleService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Counselors:     handlers.NewCounselorsHandler(scheduleService),
		AuthMiddleware: authMiddleware,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	chatRegistry.Close()
	notifyRegistry.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sink.Close(); err != nil {
		logger.Warn("flush event export", zap.Error(err))
	}
	return nil
}

func buildRepositories(pg *persistence.Postgres, cfg *config.Config, logger *zap.Logger) (repositories, error) {
	if pg.Enabled() {
		pool := pg.PoolHandle()
		return repositories{
			users:     repository.NewUserRepository(pool),
			tickets:   repository.NewTicketRepository(pool),
			messages:  repository.NewChatMessageRepository(pool),
			schedules: repository.NewScheduleRepository(pool),
			history:   repository.NewTicketHistoryRepository(pool),
		}, nil
	}

	store := repository.NewMemoryStore()
	seeded, err := store.SeedUsers(cfg.App.SeedUsers)
	if err != nil {
		return repositories{}, fmt.Errorf("DEV_SEED_USERS: %w", err)
	}
	logger.Warn("using in-memory storage; data is lost on restart", zap.Int("seeded_users", seeded))
	return repositories{
		users:     store.Users(),
		tickets:   store.Tickets(),
		messages:  store.Messages(),
		schedules: store.Schedules(),
		history:   store.History(),
	}, nil
}
