package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/config"
	"github.com/Dosada05/tournament-engine/db"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	api "github.com/Dosada05/tournament-engine/routes"
	"github.com/Dosada05/tournament-engine/services"
	"github.com/Dosada05/tournament-engine/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repos repositories.Repositories
	if cfg.DatabaseURL != "" {
		dbConn, connErr := db.Connect(cfg.DatabaseURL, 5*time.Second)
		if connErr != nil {
			return fmt.Errorf("failed to connect to database: %w", connErr)
		}
		defer func() {
			if closeErr := dbConn.Close(); closeErr != nil {
				logger.Error("failed to close database connection", slog.Any("error", closeErr))
			}
		}()
		if err = db.Migrate(ctx, dbConn); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		repos = repositories.NewPostgresRepositories(dbConn)
		logger.Info("database connection established")
	} else {
		repos = repositories.NewMemoryRepositories()
		logger.Warn("DATABASE_URL is not set, state is kept in memory only")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	wsHub := brackets.NewHub(logger)
	go wsHub.Run(ctx)
	notifiers := []services.Notifier{wsHub}

	if cfg.NATSURL != "" {
		publisher, natsErr := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if natsErr != nil {
			return natsErr
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		logger.Info("NATS publisher connected", slog.String("prefix", cfg.NATSSubjectPrefix))
	}

	r2Config := storage.CloudflareR2UploaderConfig{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	}
	if r2Config.Enabled() {
		uploader, r2Err := storage.NewCloudflareR2Uploader(ctx, r2Config)
		if r2Err != nil {
			return fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", r2Err)
		}
		notifiers = append(notifiers, storage.NewAuditArchiver(uploader, repos.ScoreUpdates, logger))
		logger.Info("score audit archive enabled", slog.String("bucket", cfg.R2BucketName))
	}

	fanOut := services.NewFanOut(logger, m, notifiers...)
	defer fanOut.Wait()

	bracketService := services.NewBracketService(repos.Tournaments, repos.Matches, repos.Players, fanOut, m, logger)
	tableService := services.NewTableService(repos.Tournaments, repos.Tables, fanOut, m, logger)
	queueService := services.NewQueueService(repos.Matches, repos.Tables, repos.Assignments, fanOut, m, logger)
	chipService := services.NewChipService(repos.Players, repos.Matches, repos.Tournaments, fanOut, m, logger)
	pipeline := services.NewCompletionPipeline(repos.Tournaments, bracketService, chipService, queueService, fanOut, logger)
	scoreService := services.NewScoreService(repos.Matches, repos.ScoreUpdates, pipeline, fanOut, m, logger)
	reminderService := services.NewReminderService(repos.Matches, fanOut.Sync(), services.ReminderConfig{
		BatchSize:  cfg.ReminderBatchSize,
		BatchDelay: cfg.ReminderBatchDelay,
	}, logger)
	logger.Info("Services initialized")

	go runScheduler(ctx, cfg.SchedulerInterval, bracketService, queueService, chipService, logger)

	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Tournaments: handlers.NewTournamentHandler(bracketService, reminderService, models.ChipConfig{
			WinnerChips: cfg.ChipWinnerChips,
			LoserChips:  cfg.ChipLoserChips,
		}),
		Tables:    handlers.NewTableHandler(tableService, queueService),
		Queue:     handlers.NewQueueHandler(queueService),
		Scores:    handlers.NewScoreHandler(scoreService),
		Chips:     handlers.NewChipHandler(chipService),
		WebSocket: handlers.NewWebSocketHandler(wsHub, bracketService, cfg.CORSAllowedOrigins, logger),
		Metrics:   promhttp.Handler(),
	}, api.Options{
		JWTSecret:      []byte(cfg.JWTSecretKey),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err = <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err = server.Shutdown(shutdownCtx); err != nil {
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("failed to force close server", slog.Any("error", closeErr))
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

// runScheduler periodically fills free tables in every tournament, so that
// tables freed outside a completion (maintenance cleared, block expired) are not left idle.
// It also applies chip awards that a completion could not finish.
func runScheduler(ctx context.Context, interval time.Duration, bs services.BracketService, qs services.QueueService, cs services.ChipService, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Table assignment scheduler started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tournaments, err := bs.ListTournaments(ctx)
			if err != nil {
				logger.Error("Scheduler: failed to list tournaments", slog.Any("error", err))
				continue
			}
			for _, t := range tournaments {
				if _, err := cs.ReconcileAwards(ctx, t.ID); err != nil {
					logger.Error("Scheduler: chip award reconciliation failed", slog.Int("tournament_id", t.ID), slog.Any("error", err))
				}
				batch, err := qs.AssignAvailable(ctx, t.ID)
				if err != nil {
					logger.Error("Scheduler: assignment failed", slog.Int("tournament_id", t.ID), slog.Any("error", err))
					continue
				}
				if len(batch.Assigned) > 0 || len(batch.Refused) > 0 {
					logger.Info("Scheduler: tables assigned",
						slog.Int("tournament_id", t.ID),
						slog.Int("assigned", len(batch.Assigned)),
						slog.Int("refused", len(batch.Refused)),
					)
				}
			}
		}
	}
}
