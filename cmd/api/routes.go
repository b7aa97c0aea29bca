package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/auth"
	"github.com/inaiurai/rewards/internal/config"
	"github.com/inaiurai/rewards/internal/handlers"
	"github.com/inaiurai/rewards/internal/ledger"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/repository"
	"github.com/inaiurai/rewards/internal/router"
	"github.com/inaiurai/rewards/internal/rules"
	"github.com/inaiurai/rewards/internal/settlement"
	"github.com/inaiurai/rewards/internal/validation"
)

type services struct {
	jobs        *queue.Service
	rules       *rules.Service
	rewards     *repository.RewardRepo
	ledger      ledger.Service
	settlements *settlement.Service
	audit       *audit.Service
}

// newRouter builds the HTTP handlers over the services and mounts them with their role gates.
func newRouter(cfg *config.Config, pool *pgxpool.Pool, s services, logger *slog.Logger) (http.Handler, error) {
	validator, err := validation.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("schema validator: %w", err)
	}
	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	return router.New(router.Handlers{
		Intake: &handlers.IntakeHandler{
			Jobs:      s.jobs,
			Validator: validator,
			Logger:    logger,
		},
		User: &handlers.UserHandler{
			Rewards:     s.rewards,
			Ledger:      s.ledger,
			Settlements: s.settlements,
			Validator:   validator,
			Logger:      logger,
		},
		Executor: &handlers.ExecutorHandler{
			Settlements: s.settlements,
			Validator:   validator,
			Logger:      logger,
		},
		Admin: &handlers.AdminHandler{
			Rules:       s.rules,
			Settlements: s.settlements,
			Jobs:        s.jobs,
			Audit:       s.audit,
			Validator:   validator,
			Logger:      logger,
		},
	}, authSvc, pool.Ping, logger), nil
}
