package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/lock"
	"github.com/maheshrc27/postflow/internal/publishing"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	defer log.Sync()
	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer closeDB(db, log)

	if err := db.Ping(); err != nil {
		log.Fatal("database is unreachable", zap.Error(err))
	}

	store := repository.NewStore(db)

	var links service.MediaLinker
	if cfg.R2.Enabled() {
		r2Service, err := service.NewR2Service(context.Background(), cfg.R2)
		if err != nil {
			log.Fatal("failed to set up object storage", zap.Error(err))
		}
		links = r2Service
	}

	tokens, err := utils.NewTokenCipher(cfg.SecretKey)
	if err != nil {
		log.Fatal("invalid token encryption key", zap.Error(err))
	}

	content := validation.NewContentValidator(validation.NewMediaURLValidator(net.DefaultResolver))
	client := threads.NewClient(cfg.ThreadsAPIBaseURL, &http.Client{Timeout: 30 * time.Second}, log)
	registry := publishing.NewDefaultRegistry(client, content, publishingConfig(cfg), log)

	queryService := service.NewPostQueryService(store, links, service.QueryOptions{
		IncludeRetryableFailed: true,
		MaxRetryCount:          cfg.MaxRetryCount,
		MissedGracePeriod:      cfg.MissedGracePeriod,
	}, log)
	validatorService := service.NewPostValidatorService(store.SocialAccounts(), content, cfg.OwnHostname)
	publicationService := service.NewPublicationService(store, nil, log)

	deps := jobs.Deps{
		Query:     queryService,
		Validator: validatorService,
		Recorder:  publicationService,
		Registry:  registry,
		Tokens:    tokens,
		Logger:    log,
	}

	var (
		redisClient *redis.Client
		asynqClient *asynq.Client
		asynqServer *asynq.Server
	)
	if cfg.RedisURI != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
		defer redisClient.Close()
		deps.Locker = lock.NewRedisLock(redisClient, lock.DefaultPassLockKey, cfg.PassLockTTL)

		redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
		asynqClient = asynq.NewClient(redisConn)
		defer asynqClient.Close()
		asynqServer = asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 1,
			Logger:      log.Sugar(),
		})
	}

	publicationJob := jobs.NewScheduledPublicationJob(deps, jobs.Options{
		MaxRetryCount:          cfg.MaxRetryCount,
		StuckPublishingTimeout: cfg.StuckPublishingTimeout,
		RecordRetryWait:        cfg.RecordRetryWait,
		OwnHostname:            cfg.OwnHostname,
	})

	trigger := jobs.RunTrigger(publicationJob)
	var enqueue jobs.Trigger
	if asynqClient != nil {
		enqueue = queue.EnqueueTrigger(asynqClient, "api", cfg.PassLockTTL, cfg.PassLockTTL)
		trigger = queue.EnqueueTrigger(asynqClient, "cron", cfg.PassLockTTL, cfg.PassLockTTL)

		worker := queue.NewQueue(publicationJob, log)
		go func() {
			log.Info("starting the asynq server")
			if err := asynqServer.Run(worker.ServeMux()); err != nil {
				log.Fatal("could not start asynq server", zap.Error(err))
			}
		}()
	}

	scheduler := jobs.NewScheduler(cfg.SchedulerSpec, trigger, cfg.PassLockTTL, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.PassLockTTL,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))

	api.RegisterRoutes(app,
		handlers.NewHealthHandler(db),
		handlers.NewJobHandler(publicationJob, queryService, enqueue, cfg.PassLockTTL, nil, log),
		middleware.NewAuthMiddleware(cfg.JobSecret, log))

	go func() {
		if err := app.Listen(cfg.ServerAddr); err != nil {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()
	log.Info("server is running", zap.String("addr", cfg.ServerAddr), zap.String("env", cfg.AppEnv))

	gracefulShutdown(app, scheduler, asynqServer, log)
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if cfg.IsDevelopment() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

func publishingConfig(cfg *config.Config) publishing.Config {
	poll := func(p config.Poll) publishing.PollPolicy {
		return publishing.PollPolicy{
			InitialInterval: p.InitialInterval,
			MaxInterval:     p.MaxInterval,
			MaxWait:         p.MaxWait,
		}
	}
	return publishing.Config{
		WebBaseURL: cfg.ThreadsWebBaseURL,
		TextPoll:   poll(cfg.TextPoll),
		ImagePoll:  poll(cfg.ImagePoll),
		VideoPoll:  poll(cfg.VideoPoll),
	}
}

func closeDB(db *sql.DB, log *zap.Logger) {
	if err := db.Close(); err != nil {
		log.Error("failed to close database", zap.Error(err))
		return
	}
	log.Info("database connection closed")
}

func gracefulShutdown(app *fiber.App, scheduler *jobs.Scheduler, asynqServer *asynq.Server, log *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server")

	scheduler.Stop()
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if err := app.Shutdown(); err != nil {
		log.Error("failed to shut down server", zap.Error(err))
	}

	log.Info("server shutdown complete")
}
