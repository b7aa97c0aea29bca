package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	writeTimeout = 2 * time.Second
)

// Filter selects audit entries. Zero-valued fields are ignored.
type Filter struct {
	ResourceKind string
	ResourceID   string
	Action       string
	Actor        string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// Store is the persistence the audit service needs.
type Store interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	Query(ctx context.Context, f Filter) ([]*models.AuditEntry, error)
}

// Recorder is what the rest of the pipeline depends on to write audit entries.
type Recorder interface {
	Record(ctx context.Context, e models.AuditEntry)
}

// Change is a convenience for recording a status transition with before/after snapshots.
type Change struct {
	Actor        string
	Action       string
	ResourceKind string
	ResourceID   string
	Before       any
	After        any
	Metadata     any
}

type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

var _ Recorder = (*Service)(nil)

// Record appends an entry. Failures are logged and swallowed: an audit write never
// blocks or undoes the transition it describes.
func (s *Service) Record(ctx context.Context, e models.AuditEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	meta := RequestMetaFromCtx(ctx)
	if e.IP == "" {
		e.IP = meta.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
	if e.Actor == "" {
		e.Actor = models.SystemActor
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.store.Insert(wctx, &e); err != nil {
		s.log.Error("audit write failed",
			"action", e.Action, "resource_kind", e.ResourceKind, "resource_id", e.ResourceID, "error", err)
	}
}

// Query returns one page of entries, newest first.
func (s *Service) Query(ctx context.Context, f Filter) ([]*models.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.Query(ctx, f)
}

// RecordChange marshals the snapshots of c and records it.
func RecordChange(ctx context.Context, r Recorder, c Change) {
	if r == nil {
		return
	}
	r.Record(ctx, models.AuditEntry{
		Actor:        c.Actor,
		Action:       c.Action,
		ResourceKind: c.ResourceKind,
		ResourceID:   c.ResourceID,
		Before:       snapshot(c.Before),
		After:        snapshot(c.After),
		Metadata:     snapshot(c.Metadata),
	})
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
