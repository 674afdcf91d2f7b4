package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/interfaces"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/retry"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// DispatcherConfig holds settlement dispatcher configuration
type DispatcherConfig struct {
	Currency              string
	MaxRetries            int
	ConfirmTimeout        time.Duration
	PollInterval          time.Duration
	RequiredConfirmations int
	RetryPolicy           retry.Policy
}

// Dispatcher drives on-chain settlement of approved claims: it creates the
// settlement transaction record, submits the transfer through the ledger
// client, and tracks confirmation asynchronously so one slow settlement
// never blocks claim processing for other claims.
type Dispatcher struct {
	store     interfaces.ClaimStore
	reference interfaces.ReferenceSource
	ledger    interfaces.LedgerClient
	guard     DispatchGuard
	publisher interfaces.EventPublisher
	metrics   *monitoring.MetricsCollector
	logger    *logger.Logger
	cfg       DispatcherConfig

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a settlement dispatcher
func NewDispatcher(
	store interfaces.ClaimStore,
	reference interfaces.ReferenceSource,
	ledger interfaces.LedgerClient,
	guard DispatchGuard,
	publisher interfaces.EventPublisher,
	metrics *monitoring.MetricsCollector,
	log *logger.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.RetryPolicy.InitialBackoff <= 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:     store,
		reference: reference,
		ledger:    ledger,
		guard:     guard,
		publisher: publisher,
		metrics:   metrics,
		logger:    log,
		cfg:       cfg,
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// Shutdown cancels confirmation polling and waits for pollers to drain.
// Claims left in settling are picked up by the reconciliation sweep on the
// next start.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

// idempotencyKey derives the submission key from the claim ID. It is
// deterministic so a retried dispatch reuses the same key and the contract
// deduplicates the transfer.
func idempotencyKey(claimID string) string {
	return "claim-" + claimID
}

// Dispatch settles one approved claim. Submission is attempted at most once
// per call; on submission failure the claim keeps its current status and
// the error is surfaced for retry by the caller. Once a claim is settled,
// re-dispatch is rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, claimID string) error {
	acquired, err := d.guard.Acquire(ctx, claimID, d.cfg.ConfirmTimeout+time.Minute)
	if err != nil {
		return types.NewTransientError(types.ErrCodeDispatchInFlight,
			"failed to acquire dispatch guard", err)
	}
	if !acquired {
		return types.NewConflictError(types.ErrCodeDispatchInFlight,
			"a settlement dispatch is already in flight for this claim")
	}

	claim, err := d.store.GetByID(ctx, claimID)
	if err != nil {
		d.guard.Release(ctx, claimID)
		return err
	}

	switch claim.Status {
	case types.ClaimApproved, types.ClaimSettlementFailed:
		// dispatchable
	case types.ClaimSettled:
		d.guard.Release(ctx, claimID)
		return types.NewConflictError(types.ErrCodeAlreadySettled,
			"claim is already settled")
	case types.ClaimSettling:
		d.guard.Release(ctx, claimID)
		return types.NewConflictError(types.ErrCodeDispatchInFlight,
			"claim settlement is already in progress")
	default:
		d.guard.Release(ctx, claimID)
		return types.NewConflictError(types.ErrCodeNotApproved,
			"only approved claims can be dispatched for settlement")
	}

	snap := d.reference.Current()
	policy, ok := snap.Policy(claim.PayerPolicyID)
	if !ok {
		d.guard.Release(ctx, claimID)
		return types.NewInternalError(types.ErrCodeUnknownPolicy,
			"payer policy not found for settlement: "+claim.PayerPolicyID, nil)
	}

	tx := &types.SettlementTransaction{
		ID:             uuid.New().String(),
		ClaimID:        claim.ID,
		Amount:         types.CentsToBaseUnits(claim.AllowedTotal),
		Currency:       d.cfg.Currency,
		RecipientAcct:  policy.SettlementAccount,
		IdempotencyKey: idempotencyKey(claim.ID),
		Status:         types.TxPending,
		SubmittedAt:    time.Now(),
	}
	if err := d.store.CreateSettlementTx(ctx, tx); err != nil {
		d.guard.Release(ctx, claimID)
		return err
	}

	handle, err := d.ledger.SubmitTransfer(ctx, tx.Amount, tx.RecipientAcct, tx.IdempotencyKey)
	if err != nil {
		// Submission failed: the claim keeps its current status and the
		// transaction row records the attempt.
		now := time.Now()
		tx.Status = types.TxFailed
		tx.FailureReason = err.Error()
		tx.FinalizedAt = &now
		if updateErr := d.store.UpdateSettlementTx(ctx, tx); updateErr != nil {
			d.logger.WithClaimID(claimID).WithError(updateErr).Error("Failed to record submission failure")
		}
		d.metrics.RecordSettlement("submit_failed")
		d.guard.Release(ctx, claimID)
		return err
	}

	tx.ChainTxHash = handle.TxHash
	if err := d.store.UpdateSettlementTx(ctx, tx); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to record chain tx hash")
	}

	if err := d.store.MarkSettling(ctx, claimID, claim.Status, tx.ID); err != nil {
		d.guard.Release(ctx, claimID)
		return err
	}

	d.logger.LedgerTransaction(claimID, handle.TxHash, true, map[string]interface{}{
		"amount":   tx.Amount,
		"currency": tx.Currency,
	})

	d.wg.Add(1)
	go d.pollConfirmation(claimID, tx, handle)

	return nil
}

// pollConfirmation waits for the transfer to reach a terminal ledger state.
// On timeout without one, the claim is left settling and the reconciliation
// sweep re-polls later; a slow confirmation is never reported as a failure.
func (d *Dispatcher) pollConfirmation(claimID string, tx *types.SettlementTransaction, handle *types.TxHandle) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.WithClaimID(claimID).Warn("Confirmation polling timed out; leaving claim settling for reconciliation")
			d.guard.Release(context.Background(), claimID)
			return
		case <-ticker.C:
			status, err := d.ledger.GetStatus(ctx, handle)
			if err != nil {
				d.logger.WithClaimID(claimID).WithError(err).Warn("Confirmation poll failed")
				continue
			}

			switch status.Status {
			case types.TxConfirmed:
				if status.Confirmations >= d.cfg.RequiredConfirmations {
					d.finalizeConfirmed(claimID, tx, status)
					return
				}
			case types.TxFailed:
				d.finalizeFailed(claimID, tx, status.FailureReason)
				return
			}
		}
	}
}

// finalizeConfirmed completes a confirmed settlement
func (d *Dispatcher) finalizeConfirmed(claimID string, tx *types.SettlementTransaction, status *types.TxStatusResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer d.guard.Release(ctx, claimID)

	now := time.Now()
	tx.Status = types.TxConfirmed
	tx.Confirmations = status.Confirmations
	tx.FinalizedAt = &now
	if err := d.store.UpdateSettlementTx(ctx, tx); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to finalize settlement transaction")
		return
	}

	if err := d.store.MarkSettled(ctx, claimID, tx.ID, now); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to mark claim settled")
		return
	}

	d.metrics.RecordSettlement("settled")
	d.publishEvent(ctx, claimID)
}

// finalizeFailed records a failed settlement and schedules an automatic
// retry while the bounded retry budget lasts.
func (d *Dispatcher) finalizeFailed(claimID string, tx *types.SettlementTransaction, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	tx.Status = types.TxFailed
	tx.FailureReason = reason
	tx.FinalizedAt = &now
	if err := d.store.UpdateSettlementTx(ctx, tx); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to record settlement failure")
	}

	if err := d.store.MarkSettlementFailed(ctx, claimID, tx.ID, reason); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to mark settlement failed")
		d.guard.Release(ctx, claimID)
		return
	}
	d.guard.Release(ctx, claimID)

	d.metrics.RecordSettlement("failed")
	d.publishEvent(ctx, claimID)

	claim, err := d.store.GetByID(ctx, claimID)
	if err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Failed to reload claim for retry check")
		return
	}

	if claim.SettleAttempts <= d.cfg.MaxRetries {
		d.metrics.RecordSettlementRetry()
		d.logger.WithClaimID(claimID).WithField("attempt", claim.SettleAttempts).Info("Scheduling automatic settlement retry")
		d.wg.Add(1)
		go d.retryLater(claimID, claim.SettleAttempts)
		return
	}

	d.logger.WithClaimID(claimID).Error("Settlement retries exhausted; manual intervention required")
}

// retryLater re-dispatches a failed settlement after the shared backoff
// schedule for the attempt count.
func (d *Dispatcher) retryLater(claimID string, attempt int) {
	defer d.wg.Done()

	delay := d.cfg.RetryPolicy.Backoff(attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-d.baseCtx.Done():
		return
	case <-timer.C:
	}

	if err := d.Dispatch(d.baseCtx, claimID); err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Error("Automatic settlement retry failed")
	}
}

// publishEvent emits the claim's settlement outcome to the billing layer
func (d *Dispatcher) publishEvent(ctx context.Context, claimID string) {
	if d.publisher == nil {
		return
	}

	claim, err := d.store.GetByID(ctx, claimID)
	if err != nil {
		d.logger.WithClaimID(claimID).WithError(err).Warn("Failed to load claim for event publishing")
		return
	}

	event := &types.ClaimEvent{
		ClaimID:        claim.ID,
		PatientRef:     claim.PatientRef,
		Status:         claim.Status,
		DecisionReason: claim.DecisionReason,
		AllowedTotal:   claim.AllowedTotal,
		SettlementTxID: claim.SettlementTxID,
		OccurredAt:     time.Now(),
	}
	if err := d.publisher.PublishClaimEvent(ctx, event); err != nil {
		d.logger.WithClaimID(claim.ID).WithError(err).Warn("Failed to publish claim event")
	}
}
