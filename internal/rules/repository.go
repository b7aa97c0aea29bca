package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/rewards/internal/models"
)

var ErrRuleNotFound = errors.New("reward rule not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, name, active, priority, conditions, base_amount, multipliers,
	daily_cap, user_cap, valid_from, valid_to, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, rule *models.RewardRule) error {
	conds, mults, err := encodeRule(rule)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO reward_rules (id, name, active, priority, conditions, base_amount, multipliers,
			daily_cap, user_cap, valid_from, valid_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, rule.ID, rule.Name, rule.Active, rule.Priority, conds, rule.BaseAmount, mults,
		rule.DailyCap, rule.UserCap, rule.ValidFrom, rule.ValidTo).Scan(&rule.CreatedAt, &rule.UpdatedAt)
}

func (r *Repository) Update(ctx context.Context, rule *models.RewardRule) error {
	conds, mults, err := encodeRule(rule)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE reward_rules
		SET name = $2, active = $3, priority = $4, conditions = $5, base_amount = $6, multipliers = $7,
			daily_cap = $8, user_cap = $9, valid_from = $10, valid_to = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, rule.ID, rule.Name, rule.Active, rule.Priority, conds, rule.BaseAmount, mults,
		rule.DailyCap, rule.UserCap, rule.ValidFrom, rule.ValidTo).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRuleNotFound
	}
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RewardRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM reward_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// List returns rules ordered by priority desc, id asc. A non-nil active filters on the active
// flag but not on the validity window; the engine checks that against the evaluation time.
func (r *Repository) List(ctx context.Context, active *bool) ([]*models.RewardRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM reward_rules`
	var args []any
	if active != nil {
		q += ` WHERE active = $1`
		args = append(args, *active)
	}
	q += ` ORDER BY priority DESC, id ASC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.RewardRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}
	return list, rows.Err()
}

func encodeRule(rule *models.RewardRule) ([]byte, []byte, error) {
	conds, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode conditions: %w", err)
	}
	mults := rule.Multipliers
	if mults == nil {
		mults = []models.MultiplierRule{}
	}
	mb, err := json.Marshal(mults)
	if err != nil {
		return nil, nil, fmt.Errorf("encode multipliers: %w", err)
	}
	return conds, mb, nil
}

func scanRule(row pgx.Row) (*models.RewardRule, error) {
	var (
		rule  models.RewardRule
		conds []byte
		mults []byte
	)
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Active, &rule.Priority, &conds, &rule.BaseAmount, &mults,
		&rule.DailyCap, &rule.UserCap, &rule.ValidFrom, &rule.ValidTo, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if len(conds) > 0 {
		if err := json.Unmarshal(conds, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions of rule %s: %w", rule.ID, err)
		}
	}
	if len(mults) > 0 {
		if err := json.Unmarshal(mults, &rule.Multipliers); err != nil {
			return nil, fmt.Errorf("decode multipliers of rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}
