package rules

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/models"
)

// Store is the rule persistence the service and the reward handlers need.
type Store interface {
	Create(ctx context.Context, rule *models.RewardRule) error
	Update(ctx context.Context, rule *models.RewardRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RewardRule, error)
	List(ctx context.Context, active *bool) ([]*models.RewardRule, error)
}

// Service manages rule configuration. Rule changes are audited.
type Service struct {
	store Store
	audit audit.Recorder
	log   *slog.Logger
}

func NewService(store Store, rec audit.Recorder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, audit: rec, log: log}
}

func (s *Service) Create(ctx context.Context, actor string, rule *models.RewardRule) (*models.RewardRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	rule.ID = uuid.New()
	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.log.Info("reward rule created", "rule_id", rule.ID, "name", rule.Name, "actor", actor)
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        actor,
		Action:       models.AuditRuleCreated,
		ResourceKind: models.ResourceRule,
		ResourceID:   rule.ID.String(),
		After:        rule,
	})
	return rule, nil
}

// Update replaces every mutable field of the rule with id.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, rule *models.RewardRule) (*models.RewardRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	before, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	if err := s.store.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.log.Info("reward rule updated", "rule_id", id, "actor", actor)
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        actor,
		Action:       models.AuditRuleUpdated,
		ResourceKind: models.ResourceRule,
		ResourceID:   id.String(),
		Before:       before,
		After:        rule,
	})
	return rule, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.RewardRule, error) {
	return s.store.GetByID(ctx, id)
}

// List returns every rule when active is nil, otherwise only rules whose flag matches.
func (s *Service) List(ctx context.Context, active *bool) ([]*models.RewardRule, error) {
	return s.store.List(ctx, active)
}
