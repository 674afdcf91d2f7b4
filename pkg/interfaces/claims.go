package interfaces

import (
	"context"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// ClaimStore is the claim record store consulted by every component.
// Components never mutate each other's state directly; all claim writes go
// through this interface.
type ClaimStore interface {
	Create(ctx context.Context, claim *types.Claim) error
	GetByID(ctx context.Context, claimID string) (*types.Claim, error)
	UpdateDecision(ctx context.Context, claim *types.Claim, expectedStatus types.ClaimStatus) error
	UpdateStatus(ctx context.Context, claimID string, from, to types.ClaimStatus, reason string) error
	MarkSettling(ctx context.Context, claimID string, from types.ClaimStatus, txID string) error
	MarkSettled(ctx context.Context, claimID, txID string, settledAt time.Time) error
	MarkSettlementFailed(ctx context.Context, claimID, txID, reason string) error
	FindDuplicates(ctx context.Context, claim *types.Claim, window time.Duration) ([]*types.Claim, error)
	List(ctx context.Context, filters *types.ClaimFilters) ([]*types.Claim, error)
	FindStuckSettling(ctx context.Context, grace time.Duration) ([]*types.Claim, error)
	History(ctx context.Context, claimID string) ([]*types.ClaimStatusChange, error)

	CreateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error
	UpdateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error
	GetSettlementTx(ctx context.Context, txID string) (*types.SettlementTransaction, error)
}

// ReferenceSource provides the current immutable reference snapshot
type ReferenceSource interface {
	Current() *types.ReferenceSnapshot
}

// EventPublisher emits claim events on terminal state transitions so the
// billing/UI layer can update displayed status.
type EventPublisher interface {
	PublishClaimEvent(ctx context.Context, event *types.ClaimEvent) error
	Close() error
}

// SettlementDispatcher drives the settlement of an approved claim
type SettlementDispatcher interface {
	Dispatch(ctx context.Context, claimID string) error
}
