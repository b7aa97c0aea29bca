package models

import (
	"errors"
	"testing"
)

func TestSettlementTransitions(t *testing.T) {
	allowed := map[SettlementStatus][]SettlementStatus{
		SettlementQueued:      {SettlementAdminReview, SettlementApproved, SettlementRejected},
		SettlementAdminReview: {SettlementApproved, SettlementRejected},
		SettlementApproved:    {SettlementMinting},
		SettlementMinting:     {SettlementCompleted, SettlementFailed},
		SettlementRejected:    nil,
		SettlementCompleted:   nil,
		SettlementFailed:      nil,
	}

	for _, from := range AllSettlementStatuses {
		want, ok := allowed[from]
		if !ok {
			t.Fatalf("status %s missing from transition table", from)
		}
		wantSet := map[SettlementStatus]bool{}
		for _, s := range want {
			wantSet[s] = true
		}
		for _, to := range AllSettlementStatuses {
			if got := from.CanTransitionTo(to); got != wantSet[to] {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, wantSet[to])
			}
		}
		if from.IsTerminal() != (len(want) == 0) {
			t.Errorf("%s: IsTerminal = %v", from, from.IsTerminal())
		}
	}
}

func TestSettlementTransition_Error(t *testing.T) {
	got, err := SettlementApproved.Transition(SettlementCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got != SettlementApproved {
		t.Errorf("status should be unchanged, got %s", got)
	}

	got, err = SettlementMinting.Transition(SettlementCompleted)
	if err != nil || got != SettlementCompleted {
		t.Errorf("MINTING -> COMPLETED: got %s, %v", got, err)
	}
}

func TestRewardTransitions(t *testing.T) {
	cases := []struct {
		from, to RewardStatus
		want     bool
	}{
		{RewardStatusApproved, RewardStatusClaimed, true},
		{RewardStatusClaimed, RewardStatusApproved, true},
		{RewardStatusClaimed, RewardStatusExpired, false},
		{RewardStatusPending, RewardStatusApproved, true},
		{RewardStatusRejected, RewardStatusApproved, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestJobTransitions(t *testing.T) {
	if JobStatusCompleted.CanTransitionTo(JobStatusProcessing) {
		t.Error("COMPLETED must be terminal")
	}
	if !JobStatusProcessing.CanTransitionTo(JobStatusPending) {
		t.Error("PROCESSING -> PENDING is the retry path")
	}
	if JobStatusPending.CanTransitionTo(JobStatusCompleted) {
		t.Error("PENDING must pass through PROCESSING")
	}
	if !JobStatusProcessing.CanTransitionTo(JobStatusProcessing) {
		t.Error("PROCESSING -> PROCESSING is an expired-lease reclaim")
	}
	if JobStatusFailed.CanTransitionTo(JobStatusProcessing) {
		t.Error("FAILED must be requeued before it can be claimed")
	}
}
