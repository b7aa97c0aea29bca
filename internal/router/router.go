package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/inaiurai/rewards/internal/auth"
	"github.com/inaiurai/rewards/internal/handlers"
	"github.com/inaiurai/rewards/internal/middleware"
)

// Handlers groups the HTTP handlers by audience.
type Handlers struct {
	Intake   *handlers.IntakeHandler
	User     *handlers.UserHandler
	Executor *handlers.ExecutorHandler
	Admin    *handlers.AdminHandler
}

// New returns the service's http.Handler: event intake and user endpoints under /v1, the
// executor handoff under /v1/handoff and operator endpoints under /api/v1/admin.
// ready backs GET /healthz.
func New(h Handlers, authSvc auth.Service, ready func(context.Context) error, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	authn := middleware.BearerAuth(authSvc)
	as := func(roles ...string) func(http.HandlerFunc) http.Handler {
		gate := middleware.RequireRole(roles...)
		return func(fn http.HandlerFunc) http.Handler {
			return authn(gate(fn))
		}
	}
	service := as(auth.RoleService)
	user := as(auth.RoleUser)
	executor := as(auth.RoleExecutor)
	admin := as(auth.RoleAdmin)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("POST /v1/reward-jobs", service(h.Intake.Enqueue))

	mux.Handle("GET /v1/rewards", user(h.User.ListRewards))
	mux.Handle("GET /v1/balance", user(h.User.Balance))
	mux.Handle("POST /v1/settlements", user(h.User.CreateSettlement))
	mux.Handle("GET /v1/settlements", user(h.User.ListSettlements))
	mux.Handle("GET /v1/settlements/{id}", as(auth.RoleUser, auth.RoleAdmin)(h.User.GetSettlement))

	mux.Handle("POST /v1/handoff/claim", executor(h.Executor.Claim))
	mux.Handle("POST /v1/handoff/{id}/settled", executor(h.Executor.Settled))
	mux.Handle("POST /v1/handoff/{id}/failed", executor(h.Executor.Failed))

	base := "/api/v1/admin"
	mux.Handle("GET "+base+"/rules", admin(h.Admin.ListRules))
	mux.Handle("POST "+base+"/rules", admin(h.Admin.CreateRule))
	mux.Handle("GET "+base+"/rules/{id}", admin(h.Admin.GetRule))
	mux.Handle("PUT "+base+"/rules/{id}", admin(h.Admin.UpdateRule))
	mux.Handle("GET "+base+"/settlements/pending", admin(h.Admin.PendingSettlements))
	mux.Handle("POST "+base+"/settlements/{id}/approve", admin(h.Admin.ApproveSettlement))
	mux.Handle("POST "+base+"/settlements/{id}/reject", admin(h.Admin.RejectSettlement))
	mux.Handle("GET "+base+"/jobs/health", admin(h.Admin.JobHealth))
	mux.Handle("GET "+base+"/jobs/failed", admin(h.Admin.FailedJobs))
	mux.Handle("POST "+base+"/jobs/{id}/retry", admin(h.Admin.RetryJob))
	mux.Handle("POST "+base+"/jobs/{id}/dismiss", admin(h.Admin.DismissJob))
	mux.Handle("GET "+base+"/audit", admin(h.Admin.QueryAudit))

	return middleware.RequestMeta(middleware.Logging(log)(mux))
}
