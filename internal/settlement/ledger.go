package settlement

import (
	"context"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/interfaces"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/retry"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// LedgerClient is a retry-aware wrapper around the external contract-call
// interface. Transient RPC failures are retried with bounded exponential
// backoff; non-transient errors (insufficient funds, contract revert) are
// surfaced immediately. It holds no claim-domain state.
type LedgerClient struct {
	caller  interfaces.ContractCaller
	policy  retry.Policy
	metrics *monitoring.MetricsCollector
	logger  *logger.Logger
}

// NewLedgerClient creates a ledger client over the injected contract caller
func NewLedgerClient(caller interfaces.ContractCaller, policy retry.Policy, metrics *monitoring.MetricsCollector, log *logger.Logger) *LedgerClient {
	return &LedgerClient{
		caller:  caller,
		policy:  policy,
		metrics: metrics,
		logger:  log,
	}
}

// SubmitTransfer submits a stablecoin transfer instruction. The idempotency
// key makes retried submissions safe: the contract deduplicates by key, so
// a repeat never produces a second transfer.
func (c *LedgerClient) SubmitTransfer(ctx context.Context, amount int64, recipientAccount, idempotencyKey string) (*types.TxHandle, error) {
	var handle *types.TxHandle

	start := time.Now()
	err := c.policy.Do(ctx, types.IsTransient, func(ctx context.Context) error {
		var submitErr error
		handle, submitErr = c.caller.SubmitTransfer(ctx, amount, recipientAccount, idempotencyKey)
		if submitErr != nil && types.IsTransient(submitErr) {
			c.logger.WithError(submitErr).Warn("Transient ledger error on transfer submission; retrying")
		}
		return submitErr
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordLedgerCall("submit_transfer", status, time.Since(start))

	if err != nil {
		return nil, err
	}
	return handle, nil
}

// GetStatus reports the ledger-side state of a submitted transfer
func (c *LedgerClient) GetStatus(ctx context.Context, handle *types.TxHandle) (*types.TxStatusResult, error) {
	var result *types.TxStatusResult

	start := time.Now()
	err := c.policy.Do(ctx, types.IsTransient, func(ctx context.Context) error {
		var statusErr error
		result, statusErr = c.caller.TransferStatus(ctx, handle)
		return statusErr
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordLedgerCall("transfer_status", status, time.Since(start))

	if err != nil {
		return nil, err
	}
	return result, nil
}

// EstimateFee estimates the network fee for a transfer
func (c *LedgerClient) EstimateFee(ctx context.Context, amount int64) (int64, error) {
	var fee int64

	start := time.Now()
	err := c.policy.Do(ctx, types.IsTransient, func(ctx context.Context) error {
		var feeErr error
		fee, feeErr = c.caller.EstimateFee(ctx, amount)
		return feeErr
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordLedgerCall("estimate_fee", status, time.Since(start))

	if err != nil {
		return 0, err
	}
	return fee, nil
}
