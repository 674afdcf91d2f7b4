package settlement

import (
	"context"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// RunSweep periodically reconciles claims stuck in settling: crashed
// processes and timed-out confirmation pollers leave claims settling with a
// recorded transaction, and the sweep re-polls the ledger to finalize them.
// Blocks until ctx is cancelled.
func (d *Dispatcher) RunSweep(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx, grace)
		}
	}
}

func (d *Dispatcher) sweepOnce(ctx context.Context, grace time.Duration) {
	claims, err := d.store.FindStuckSettling(ctx, grace)
	if err != nil {
		d.logger.WithComponent("settlement_sweep").WithError(err).Error("Failed to list stuck settlements")
		return
	}

	for _, claim := range claims {
		if claim.SettlementTxID == "" {
			d.logger.WithClaimID(claim.ID).Error("Settling claim has no settlement transaction recorded")
			continue
		}

		tx, err := d.store.GetSettlementTx(ctx, claim.SettlementTxID)
		if err != nil {
			d.logger.WithClaimID(claim.ID).WithError(err).Error("Failed to load settlement transaction")
			continue
		}

		handle := &types.TxHandle{
			TxHash:         tx.ChainTxHash,
			IdempotencyKey: tx.IdempotencyKey,
			SubmittedAt:    tx.SubmittedAt,
		}

		status, err := d.ledger.GetStatus(ctx, handle)
		if err != nil {
			d.logger.WithClaimID(claim.ID).WithError(err).Warn("Reconciliation poll failed")
			continue
		}

		switch status.Status {
		case types.TxConfirmed:
			if status.Confirmations >= d.cfg.RequiredConfirmations {
				d.logger.WithClaimID(claim.ID).Info("Reconciliation found confirmed settlement")
				d.finalizeConfirmed(claim.ID, tx, status)
			}
		case types.TxFailed:
			d.logger.WithClaimID(claim.ID).Warn("Reconciliation found failed settlement")
			d.finalizeFailed(claim.ID, tx, status.FailureReason)
		default:
			// still pending on chain, leave it for the next sweep
		}
	}
}
