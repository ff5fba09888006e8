package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-membership/internal/attendees"
	attendeedb "ms-membership/internal/attendees/db"
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
	"ms-membership/internal/models"
	"ms-membership/internal/syncer"
	"ms-membership/internal/woo"
)

const jobName = "backfill"

func main() {
	dryRun := flag.Bool("dry-run", false, "compute and report changes without writing")
	clean := flag.Bool("clean", false, "back up and rebuild each event's attendees from scratch")
	start := flag.Int("start", 0, "skip the first n events in the ordered catalog")
	eventID := flag.String("event-id", "", "process a single event instead of the whole catalog")
	reset := flag.Bool("reset", false, "discard the saved progress state and exit")
	status := flag.Bool("status", false, "print the saved progress state and exit")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	runner := jobs.NewRunner(cfg.Sync.StateFile, cfg.Sync.ItemDelay, cfg.Sync.PersistEvery, log)

	if *status {
		state, err := runner.Status()
		if err != nil {
			log.Fatal("JOB", fmt.Sprintf("Failed to load progress state: %v", err))
		}
		out, _ := json.MarshalIndent(state, "", "  ")
		fmt.Println(string(out))
		return
	}

	if *reset {
		if err := runner.Reset(); err != nil {
			log.Fatal("JOB", fmt.Sprintf("Failed to reset progress state: %v", err))
		}
		log.LogJob(jobName, "progress state reset")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	migrator := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := migrator.Initialize(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration init failed: %v", err))
	}
	if err := migrator.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	lock := jobs.NewRunLock(redisClient, log)
	holder := uuid.New().String()
	acquired, err := lock.Acquire(ctx, jobName, holder)
	if err != nil {
		log.Fatal("JOB", fmt.Sprintf("Failed to acquire run lock: %v", err))
	}
	if !acquired {
		log.Fatal("JOB", "Another backfill run is already in progress")
	}
	defer func() {
		if err := lock.Release(context.Background(), jobName, holder); err != nil {
			log.Error("JOB", fmt.Sprintf("Failed to release run lock: %v", err))
		}
	}()

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	wooClient := woo.NewClient(cfg.Woo, httpClient, nil, log)
	loopsClient := loops.NewClient(cfg.Loops, httpClient, log)

	eventDB := &eventdb.DB{Bun: bunDB}
	attendeeDB := &attendeedb.DB{Bun: bunDB}
	memberDB := &memberdb.DB{Bun: bunDB}

	eventSvc := events.NewService(eventDB, wooClient, cfg.Merge, log)
	reconciler := attendees.NewReconciler(attendeeDB, log)
	sync := syncer.New(wooClient, extractor.New(log), reconciler, log)

	rules := membership.Rules{
		ActiveThreshold: cfg.Membership.ActiveThreshold,
		WindowMonths:    cfg.Membership.WindowMonths,
		SocialKeywords:  cfg.Membership.SocialKeywords,
		SeasonWords:     cfg.Membership.SeasonWords,
	}
	membershipSvc := membership.NewService(memberDB, loopsClient, producer, rules, log)

	opts := attendees.Options{
		Clean:         *clean,
		DryRun:        *dryRun,
		CheckInCutoff: cfg.Sync.CheckInCutoff,
		BackupDir:     cfg.Sync.BackupDir,
	}

	catalog, err := buildCatalog(ctx, sync, eventSvc, eventDB, *eventID, *start, *dryRun, log)
	if err != nil {
		log.Fatal("JOB", fmt.Sprintf("Failed to build event catalog: %v", err))
	}

	items := make([]jobs.Item, 0, len(catalog))
	for i := range catalog {
		event := catalog[i]
		items = append(items, jobs.Item{
			ID: event.ID,
			Run: func(ctx context.Context) error {
				report, err := sync.SyncEvent(ctx, &event, opts)
				if err != nil {
					return err
				}
				log.LogSync("backfilled", event.ID, fmt.Sprintf("%d orders, %d inserted, %d auto-checked-in",
					report.Orders, report.Reconciled.Inserted, report.Reconciled.AutoCheckedIn))
				return nil
			},
		})
	}

	summary, err := runner.Run(ctx, jobName, items)
	if err != nil {
		log.Fatal("JOB", fmt.Sprintf("Run aborted: %v", err))
	}

	if !*dryRun && !summary.Interrupted {
		memberSummary, err := membershipSvc.RebuildAll(context.Background())
		if err != nil {
			log.Error("MEMBERSHIP", fmt.Sprintf("Membership rebuild failed: %v", err))
		} else {
			log.LogMembership("rebuild", "", fmt.Sprintf("%d recalculated, %d activated, %d deactivated, %d sync failures",
				memberSummary.Recalculated, memberSummary.Activated, memberSummary.Deactivated, memberSummary.SyncFailures))
		}
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	if err := lock.PublishSummary(context.Background(), jobName, out); err != nil {
		log.Error("JOB", fmt.Sprintf("Failed to publish run summary: %v", err))
	}
	fmt.Println(string(out))

	if summary.Interrupted {
		log.LogJob(jobName, "interrupted, rerun to resume from saved progress")
	}
}

// buildCatalog resolves what this run will process: a single event, or
// the full active catalog in date order after product discovery. A
// dry run counts discoverable products without touching the catalog.
func buildCatalog(ctx context.Context, sync *syncer.Syncer, eventSvc *events.Service, eventDB *eventdb.DB, eventID string, start int, dryRun bool, log *logger.Logger) ([]models.Event, error) {
	if eventID != "" {
		event, err := eventDB.GetEventByID(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", eventID, err)
		}
		return []models.Event{*event}, nil
	}

	discovered, err := sync.Discover(ctx, eventSvc, dryRun)
	if err != nil {
		return nil, fmt.Errorf("discover events: %w", err)
	}
	log.LogSync("discovered", "", fmt.Sprintf("%d new events from product catalog", discovered))

	catalog, err := eventDB.ActiveEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	if start > 0 && start < len(catalog) {
		catalog = catalog[start:]
	} else if start >= len(catalog) {
		catalog = nil
	}
	return catalog, nil
}
