package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-service/internal/backup"
	"lpr-service/internal/config"
	"lpr-service/internal/db"
	"lpr-service/internal/export"
	handlers "lpr-service/internal/http"
	"lpr-service/internal/logging"
	"lpr-service/internal/pipeline"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
	"lpr-service/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)
	log.Info().Msg("starting lpr-service")

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	repo, err := repository.NewRecordRepository(gdb, cfg.Store, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init record repository")
	}
	backups := backup.NewManager(repo, cfg.Backup, log.With().Str("component", "backup").Logger())
	exporter := export.NewExporter(repo, cfg.Export, log.With().Str("component", "export").Logger())

	svc, err := service.NewPipelineService(cfg, repo, log.With().Str("component", "pipeline").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init pipeline")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := pipeline.NewPool(svc, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize,
		cfg.Pipeline.SubmitTimeout, log.With().Str("component", "workers").Logger())
	pool.Start(ctx)

	configs := config.NewManager(cfg)
	startPeriodicTasks(ctx, cfg, repo, backups, svc, log)

	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	var scanner *vision.Scanner
	if cfg.Vision.DetectorURL != "" && cfg.Vision.OCRURL != "" {
		visionLog := log.With().Str("component", "vision").Logger()
		scanner = vision.NewScanner(vision.NewHTTPDetector(cfg.Vision), vision.NewHTTPRecognizer(cfg.Vision), visionLog)
	}

	h := handlers.NewHandler(pool, svc, repo, backups, exporter, configs, scanner, log.With().Str("component", "http").Logger())
	h.Register(router, handlers.JWTAuth(cfg.Auth.JWTSecret, log))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	// drain in-flight candidates, then force the final flush so no
	// accepted record is lost. The flush gets a fresh deadline; the
	// http shutdown may have used up shutdownCtx already.
	pool.Stop()
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.Store.StorageTimeout)
	defer cancelFlush()
	if err := repo.Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("final flush failed")
	}

	log.Info().Msg("stopped")
}

// startPeriodicTasks runs the retention sweep, backup rotation and
// sighting prune on independent schedules.
func startPeriodicTasks(ctx context.Context, cfg *config.Config, repo *repository.RecordRepository,
	backups *backup.Manager, svc *service.PipelineService, log zerolog.Logger) {

	go every(ctx, cfg.Store.SweepInterval, func(now time.Time) {
		if _, err := repo.PurgeExpired(ctx, now); err != nil {
			log.Error().Err(err).Msg("retention sweep failed")
		}
	})

	if cfg.Backup.Enabled {
		go every(ctx, cfg.Backup.Interval, func(now time.Time) {
			// backup failure is non-fatal; Run logs and flags degraded
			_, _ = backups.Run(ctx, now)
		})
	}

	go every(ctx, cfg.Dedupe.PruneInterval, func(now time.Time) {
		if sup := svc.Suppressor(); sup != nil {
			sup.Prune(now)
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
