package interfaces

import (
	"context"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// ContractCaller is the external contract-call capability the engine
// consumes. Signing, nonce sequencing, and gas estimation live behind it;
// it is injected at construction time and treated as opaque.
type ContractCaller interface {
	// SubmitTransfer submits a stablecoin transfer instruction. The
	// idempotency key makes repeated submission safe: the contract
	// deduplicates by key, so a retry never double-transfers.
	SubmitTransfer(ctx context.Context, amount int64, recipientAccount, idempotencyKey string) (*types.TxHandle, error)

	// TransferStatus reports the current state of a submitted transfer.
	TransferStatus(ctx context.Context, handle *types.TxHandle) (*types.TxStatusResult, error)

	// EstimateFee estimates the network fee for a transfer of the given
	// amount, in stablecoin base units.
	EstimateFee(ctx context.Context, amount int64) (int64, error)
}

// LedgerClient is the retry-aware wrapper around the contract-call
// interface that the settlement dispatcher depends on. It holds no
// claim-domain state.
type LedgerClient interface {
	SubmitTransfer(ctx context.Context, amount int64, recipientAccount, idempotencyKey string) (*types.TxHandle, error)
	GetStatus(ctx context.Context, handle *types.TxHandle) (*types.TxStatusResult, error)
	EstimateFee(ctx context.Context, amount int64) (int64, error)
}
