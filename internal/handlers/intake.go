package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/validation"
)

type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind models.JobKind, userID uuid.UUID, payload models.JobPayload, priority int) (uuid.UUID, error)
}

// IntakeHandler serves POST /v1/reward-jobs, called by the activity-logging service.
type IntakeHandler struct {
	Jobs      JobEnqueuer
	Validator *validation.Validator
	Logger    *slog.Logger
}

type enqueueRequest struct {
	UserID       uuid.UUID      `json:"user_id"`
	EventID      string         `json:"event_id"`
	Kind         models.JobKind `json:"kind"`
	Priority     int            `json:"priority"`
	StreakDays   int            `json:"streak_days"`
	MilestoneKey string         `json:"milestone_key"`
}

// Enqueue validates the event and records a PENDING reward job. Validation failures create
// no job.
func (h *IntakeHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := h.Validator.Decode(validation.SchemaRewardJob, body, &req); err != nil {
		writeError(w, h.Logger, "decode reward job", err)
		return
	}
	payload := models.JobPayload{EventID: req.EventID, StreakDays: req.StreakDays, MilestoneKey: req.MilestoneKey}
	id, err := h.Jobs.Enqueue(r.Context(), req.Kind, req.UserID, payload, req.Priority)
	if err != nil {
		writeError(w, h.Logger, "enqueue reward job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String(), "status": string(models.JobStatusPending)})
}
