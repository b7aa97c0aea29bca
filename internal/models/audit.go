package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit resource kinds.
const (
	ResourceReward     = "reward"
	ResourceRewardJob  = "reward_job"
	ResourceSettlement = "settlement_request"
	ResourceRule       = "reward_rule"
)

// Audit actions.
const (
	AuditRuleCreated         = "rule.created"
	AuditRuleUpdated         = "rule.updated"
	AuditRewardCreated       = "reward.created"
	AuditRewardClaimed       = "reward.claimed"
	AuditRewardReverted      = "reward.reverted"
	AuditJobEnqueued         = "job.enqueued"
	AuditJobProcessing       = "job.processing"
	AuditJobCompleted        = "job.completed"
	AuditJobRetrying         = "job.retrying"
	AuditJobFailed           = "job.failed"
	AuditJobRequeued         = "job.requeued"
	AuditJobDismissed        = "job.dismissed"
	AuditSettlementCreated   = "settlement.created"
	AuditSettlementApproved  = "settlement.approved"
	AuditSettlementRejected  = "settlement.rejected"
	AuditSettlementMinting   = "settlement.minting"
	AuditSettlementCompleted = "settlement.completed"
	AuditSettlementFailed    = "settlement.failed"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID           uuid.UUID       `json:"id"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceKind string          `json:"resource_kind"`
	ResourceID   string          `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
