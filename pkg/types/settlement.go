package types

import "time"

// TxStatus represents the on-chain state of a settlement transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// SettlementTransaction represents one stablecoin transfer driven by an
// approved claim. Created and owned by the settlement dispatcher; the claim
// references it but never mutates it. Rows are append-only for audit.
type SettlementTransaction struct {
	ID             string     `json:"id" db:"id"`
	ClaimID        string     `json:"claim_id" db:"claim_id"`
	Amount         int64      `json:"amount" db:"amount"` // stablecoin base units
	Currency       string     `json:"currency" db:"currency"`
	RecipientAcct  string     `json:"recipient_account" db:"recipient_account"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	ChainTxHash    string     `json:"chain_tx_hash,omitempty" db:"chain_tx_hash"`
	Confirmations  int        `json:"confirmations" db:"confirmations"`
	Status         TxStatus   `json:"status" db:"status"`
	FailureReason  string     `json:"failure_reason,omitempty" db:"failure_reason"`
	SubmittedAt    time.Time  `json:"submitted_at" db:"submitted_at"`
	FinalizedAt    *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
}

// StablecoinDecimals is the number of decimal places of the settlement
// currency (USDC). Claim amounts are kept in cents, so conversion to base
// units multiplies by 10^(decimals-2).
const StablecoinDecimals = 6

// CentsToBaseUnits converts a minor-unit (cent) amount to stablecoin base units.
func CentsToBaseUnits(cents int64) int64 {
	factor := int64(1)
	for i := 0; i < StablecoinDecimals-2; i++ {
		factor *= 10
	}
	return cents * factor
}

// TxHandle identifies a submitted transfer on the ledger
type TxHandle struct {
	TxHash         string    `json:"tx_hash"`
	IdempotencyKey string    `json:"idempotency_key"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// TxStatusResult is the ledger-reported state of a submitted transfer
type TxStatusResult struct {
	Status        TxStatus `json:"status"`
	Confirmations int      `json:"confirmations"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// ClaimEvent is published to the billing/UI layer on terminal transitions
type ClaimEvent struct {
	ClaimID        string         `json:"claim_id"`
	PatientRef     string         `json:"patient_ref"`
	Status         ClaimStatus    `json:"status"`
	DecisionReason DecisionReason `json:"decision_reason,omitempty"`
	AllowedTotal   int64          `json:"allowed_total"`
	SettlementTxID string         `json:"settlement_tx_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
