// Package handlers serves the HTTP surface: event intake, the user's rewards and settlement
// requests, the settlement executor handoff and the operator endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/auth"
	"github.com/inaiurai/rewards/internal/middleware"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/rules"
	"github.com/inaiurai/rewards/internal/settlement"
	"github.com/inaiurai/rewards/internal/validation"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes. Anything unrecognised is logged and
// reported as 500 without detail.
func writeError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, validation.ErrValidation),
		errors.Is(err, queue.ErrValidation),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, settlement.ErrInvalidAddress),
		errors.Is(err, settlement.ErrInvalidRequest),
		errors.Is(err, settlement.ErrRewardNotClaimable):
		writeErrorMsg(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeErrorMsg(w, http.StatusConflict, err.Error())
	case errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, settlement.ErrNotFound),
		errors.Is(err, queue.ErrJobNotFound):
		writeErrorMsg(w, http.StatusNotFound, err.Error())
	default:
		log.Error(op, "error", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
	}
}

// readBody returns the request body, capped at maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	return body, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		writeErrorMsg(w, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
