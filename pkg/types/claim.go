package types

import (
	"time"
)

// ClaimStatus represents the lifecycle state of a claim
type ClaimStatus string

const (
	ClaimSubmitted        ClaimStatus = "submitted"
	ClaimValidated        ClaimStatus = "validated"
	ClaimApproved         ClaimStatus = "approved"
	ClaimDenied           ClaimStatus = "denied"
	ClaimPendingReview    ClaimStatus = "pending_review"
	ClaimSettling         ClaimStatus = "settling"
	ClaimSettled          ClaimStatus = "settled"
	ClaimSettlementFailed ClaimStatus = "settlement_failed"
)

// legalTransitions is the one-directional claim state graph. The only
// backward edge is settlement_failed -> settling (bounded retry).
var legalTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimSubmitted:        {ClaimValidated, ClaimDenied},
	ClaimValidated:        {ClaimApproved, ClaimDenied, ClaimPendingReview},
	ClaimApproved:         {ClaimSettling},
	ClaimPendingReview:    {ClaimApproved, ClaimDenied},
	ClaimSettling:         {ClaimSettled, ClaimSettlementFailed},
	ClaimSettlementFailed: {ClaimSettling},
}

// CanTransition reports whether moving a claim from one status to another
// is allowed by the state machine.
func CanTransition(from, to ClaimStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
// Settled claims and denied claims are immutable.
func (s ClaimStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// DecisionReason identifies why a claim was denied or routed to review
type DecisionReason string

const (
	ReasonClean               DecisionReason = "clean"
	ReasonMalformedCode       DecisionReason = "malformed_code"
	ReasonUnknownCode         DecisionReason = "unknown_code"
	ReasonDisallowedDuplicate DecisionReason = "disallowed_duplicate"
	ReasonNoRateAvailable     DecisionReason = "no_rate_available"
	ReasonPossibleDuplicate   DecisionReason = "possible_duplicate"
	ReasonNotCovered          DecisionReason = "not_covered"
	ReasonOverThreshold       DecisionReason = "over_threshold"
	ReasonManualApproval      DecisionReason = "manual_approval"
	ReasonManualDenial        DecisionReason = "manual_denial"
)

// ProcedureLine represents one billed procedure on a claim.
// Amounts are in minor currency units (cents).
type ProcedureLine struct {
	Code          string `json:"code" db:"procedure_code"`
	BilledAmount  int64  `json:"billed_amount" db:"billed_amount"`
	Quantity      int    `json:"quantity" db:"quantity"`
	AllowedAmount int64  `json:"allowed_amount" db:"allowed_amount"`
}

// Claim represents one submitted reimbursement request
type Claim struct {
	ID              string          `json:"id" db:"id"`
	PatientRef      string          `json:"patient_ref" db:"patient_ref"`
	PayerPolicyID   string          `json:"payer_policy_id" db:"payer_policy_id"`
	DiagnosisCodes  []string        `json:"diagnosis_codes" db:"diagnosis_codes"`
	ProcedureLines  []ProcedureLine `json:"procedure_lines" db:"procedure_lines"`
	ServiceDate     time.Time       `json:"service_date" db:"service_date"`
	BilledTotal     int64           `json:"billed_total" db:"billed_total"`
	AllowedTotal    int64           `json:"allowed_total" db:"allowed_total"`
	Status          ClaimStatus     `json:"status" db:"status"`
	DecisionReason  DecisionReason  `json:"decision_reason,omitempty" db:"decision_reason"`
	DecisionDetail  string          `json:"decision_detail,omitempty" db:"decision_detail"`
	ReviewFlags     []DecisionReason `json:"review_flags,omitempty" db:"review_flags"`
	SettlementTxID  string          `json:"settlement_tx_id,omitempty" db:"settlement_tx_id"`
	SettleAttempts  int             `json:"settle_attempts" db:"settle_attempts"`
	SnapshotVersion int64           `json:"snapshot_version" db:"snapshot_version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// RecomputeBilledTotal recomputes the billed total from line items.
// BilledTotal is never mutated independently of its lines.
func (c *Claim) RecomputeBilledTotal() {
	var total int64
	for _, line := range c.ProcedureLines {
		total += line.BilledAmount * int64(line.Quantity)
	}
	c.BilledTotal = total
}

// HasReviewFlag reports whether a specific review flag was raised during
// validation or fee resolution.
func (c *Claim) HasReviewFlag(reason DecisionReason) bool {
	for _, f := range c.ReviewFlags {
		if f == reason {
			return true
		}
	}
	return false
}

// ClaimStatusChange records one transition for the claim audit trail
type ClaimStatusChange struct {
	ID         string      `json:"id" db:"id"`
	ClaimID    string      `json:"claim_id" db:"claim_id"`
	FromStatus ClaimStatus `json:"from_status" db:"from_status"`
	ToStatus   ClaimStatus `json:"to_status" db:"to_status"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	ChangedAt  time.Time   `json:"changed_at" db:"changed_at"`
}

// ClaimFilters represents filters for claim list queries
type ClaimFilters struct {
	Status     ClaimStatus `json:"status,omitempty"`
	PatientRef string      `json:"patient_ref,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}
