package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-membership/internal/api"
	"ms-membership/internal/attendees"
	attendeedb "ms-membership/internal/attendees/db"
	"ms-membership/internal/auth"
	"ms-membership/internal/config"
	"ms-membership/internal/database/migrations"
	"ms-membership/internal/events"
	eventdb "ms-membership/internal/events/db"
	"ms-membership/internal/extractor"
	"ms-membership/internal/jobs"
	"ms-membership/internal/kafka"
	"ms-membership/internal/logger"
	"ms-membership/internal/loops"
	"ms-membership/internal/membership"
	memberdb "ms-membership/internal/membership/db"
	"ms-membership/internal/qr"
	"ms-membership/internal/syncer"
	"ms-membership/internal/woo"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func runSweeper(ctx context.Context, svc *membership.Service, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := svc.Sweep(ctx)
			if err != nil {
				log.Error("MEMBERSHIP", fmt.Sprintf("Sweep failed: %v", err))
				continue
			}
			log.LogMembership("sweep", "", fmt.Sprintf("%d recalculated, %d activated, %d deactivated",
				summary.Recalculated, summary.Activated, summary.Deactivated))
		}
	}
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Membership Sync Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	migrator := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := migrator.Initialize(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration init failed: %v", err))
	}
	if err := migrator.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Migrations applied")

	producer := kafka.NewProducer(cfg.Kafka)
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.AttendeeCheckedIn, cfg.Kafka.Topics.MembershipStatusChanged}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	}
	defer producer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	wooClient := woo.NewClient(cfg.Woo, httpClient, nil, log)
	loopsClient := loops.NewClient(cfg.Loops, httpClient, log)

	eventDB := &eventdb.DB{Bun: bunDB}
	attendeeDB := &attendeedb.DB{Bun: bunDB}
	memberDB := &memberdb.DB{Bun: bunDB}

	rules := membership.Rules{
		ActiveThreshold: cfg.Membership.ActiveThreshold,
		WindowMonths:    cfg.Membership.WindowMonths,
		SocialKeywords:  cfg.Membership.SocialKeywords,
		SeasonWords:     cfg.Membership.SeasonWords,
	}
	membershipSvc := membership.NewService(memberDB, loopsClient, producer, rules, log)
	attendeeSvc := attendees.NewService(attendeeDB, producer, membershipSvc, log)
	eventSvc := events.NewService(eventDB, wooClient, cfg.Merge, log)

	reconciler := attendees.NewReconciler(attendeeDB, log)
	sync := syncer.New(wooClient, extractor.New(log), reconciler, log)

	qrSecret := os.Getenv("QR_SECRET_KEY")
	if qrSecret == "" {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, using insecure default")
		qrSecret = "insecure-dev-secret"
	}

	handler := &api.Handler{
		Events:     eventSvc,
		EventDB:    eventDB,
		Attendees:  attendeeSvc,
		AttendeeDB: attendeeDB,
		Membership: membershipSvc,
		MemberDB:   memberDB,
		Syncer:     sync,
		SyncOptions: attendees.Options{
			CheckInCutoff: cfg.Sync.CheckInCutoff,
			BackupDir:     cfg.Sync.BackupDir,
		},
		QRGenerator: qr.NewGenerator(qrSecret),
		RunLock:     jobs.NewRunLock(redisClient, log),
		CheckInURL:  os.Getenv("CHECKIN_BASE_URL"),
		Logger:      log,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Server.JWTSecret))
		log.Info("AUTH", "JWT middleware applied to admin API routes")

		r.Route("/api", func(r chi.Router) {
			handler.RegisterRoutes(r)
		})
	})
	log.Info("ROUTER", "Admin routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runSweeper(ctx, membershipSvc, cfg.Membership.SweepInterval, log)
	log.Info("MEMBERSHIP", fmt.Sprintf("Expiry sweep running every %s", cfg.Membership.SweepInterval))

	go func() {
		log.Info("HTTP", fmt.Sprintf("Membership Sync Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Membership Sync Service shutdown complete")
	}
}
