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

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/capping"
	"github.com/inaiurai/rewards/internal/config"
	"github.com/inaiurai/rewards/internal/db"
	"github.com/inaiurai/rewards/internal/ledger"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/repository"
	"github.com/inaiurai/rewards/internal/rewards"
	"github.com/inaiurai/rewards/internal/rules"
	"github.com/inaiurai/rewards/internal/settlement"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("cannot reach PostgreSQL: %w", err)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return fmt.Errorf("schema migrations: %w", err)
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("River migrate up: %w", err)
	}
	slog.Info("River migrations applied")

	loc := cfg.Location()

	// Audit & ledger
	auditSvc := audit.NewService(audit.NewRepository(pool), logger)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), logger)

	// Rules & capping
	ruleRepo := rules.NewRepository(pool)
	ruleSvc := rules.NewService(ruleRepo, auditSvc, logger)
	engine := rules.NewEngine(rules.Options{
		ApprovalBonusMultiplier: cfg.Rewards.ApprovalBonusMultiplier,
		Location:                loc,
	})
	rewardRepo := repository.NewRewardRepo(pool)
	authority := capping.NewAuthority(pool, rewardRepo, loc)

	// Reward job handlers
	milestones := make(map[string]rewards.Milestone, len(cfg.Milestones))
	for _, m := range cfg.Milestones {
		milestones[m.Key] = rewards.Milestone{Amount: m.Amount, Reason: m.Reason}
	}
	kindHandlers := rewards.NewHandlers(rewards.Deps{
		Engine:     engine,
		Rules:      ruleRepo,
		Capping:    authority,
		Rewards:    rewardRepo,
		Activities: repository.NewActivityRepo(pool),
		Ledger:     ledgerSvc,
		Audit:      auditSvc,
		Milestones: milestones,
		Log:        logger,
	})

	// Queue: the processor only needs the job store, so the River client can be built
	// before the intake service that inserts through it.
	jobRepo := queue.NewRepository(pool)
	processor := queue.NewProcessor(jobRepo, kindHandlers.ByKind(), auditSvc, cfg.Queue.Lease.Duration, logger)
	workers := river.NewWorkers()
	river.AddWorker(workers, queue.NewWorker(processor, cfg.Queue.BaseBackoff.Duration, cfg.Queue.JobTimeout.Duration))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			queue.QueueName: {MaxWorkers: cfg.Queue.Workers},
		},
		Workers:              workers,
		MaxAttempts:          cfg.Queue.MaxAttempts,
		RescueStuckJobsAfter: cfg.Queue.Lease.Duration,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}
	jobSvc := queue.NewService(jobRepo, riverClient.InsertTx, auditSvc, queue.Options{
		Priorities: map[models.JobKind]int{
			models.JobKindStreak:    cfg.Queue.Priorities.Streak,
			models.JobKindMilestone: cfg.Queue.Priorities.Milestone,
			models.JobKindActivity:  cfg.Queue.Priorities.Activity,
		},
		MaxAttempts: cfg.Queue.MaxAttempts,
		SweepBatch:  cfg.Queue.SweepBatch,
	}, logger)

	// Settlement
	settlementSvc := settlement.NewService(
		settlement.NewRepository(pool), rewardRepo, repository.NewAccountRepo(pool), ledgerSvc, auditSvc,
		settlement.Options{ReviewThreshold: cfg.Risk.ReviewThreshold, HandoffBatch: cfg.Settlement.HandoffBatch},
		logger,
	)

	// Periodic sweeps
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := queue.ScheduleSweeper(ctx, sched, jobSvc, cfg.Queue.SweepInterval.Duration, logger); err != nil {
		return fmt.Errorf("schedule stuck-job sweeper: %w", err)
	}
	if cfg.Settlement.AutoApproveQueued {
		if err := settlement.ScheduleAutoApprover(ctx, sched, settlementSvc,
			cfg.Settlement.AutoApproveInterval.Duration, cfg.Settlement.AutoApproveBatch, logger); err != nil {
			return fmt.Errorf("schedule auto-approver: %w", err)
		}
	}

	handler, err := newRouter(cfg, pool, services{
		jobs:        jobSvc,
		rules:       ruleSvc,
		rewards:     rewardRepo,
		ledger:      ledgerSvc,
		settlements: settlementSvc,
		audit:       auditSvc,
	}, logger)
	if err != nil {
		return err
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start River client: %w", err)
	}
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
		if err := sched.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("River stop: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
