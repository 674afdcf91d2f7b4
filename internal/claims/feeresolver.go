package claims

import (
	"sort"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// FeeResolver maps procedure lines to allowed reimbursement amounts using
// the fee schedule of a reference snapshot. Like the validator it is pure:
// it fills in per-line allowed amounts and the claim's allowed total, and
// reports rate gaps as review flags.
type FeeResolver struct{}

// NewFeeResolver creates a fee schedule resolver
func NewFeeResolver() *FeeResolver {
	return &FeeResolver{}
}

// Resolve computes the allowed amount for every procedure line as of the
// claim's service date.
//
// Per line: allowed = min(billed, schedule rate) x quantity, scaled by the
// entry's percentage modifier. When no entry is active for the (policy,
// code) pair the payer default rate applies if configured; otherwise the
// line resolves to zero and a no-rate review flag is raised.
//
// The multiple-procedure reduction runs after sorting lines by billed
// amount descending, so the highest-value procedure keeps its full rate and
// every subsequent line is reimbursed at the policy's reduced percentage.
func (r *FeeResolver) Resolve(snap *types.ReferenceSnapshot, claim *types.Claim) ([]types.DecisionReason, error) {
	policy, ok := snap.Policy(claim.PayerPolicyID)
	if !ok {
		return nil, types.NewTerminalError(types.ErrCodeUnknownPolicy,
			"payer policy not found: "+claim.PayerPolicyID, nil)
	}

	var flags []types.DecisionReason

	// Order of reduction matters: sort indexes by billed amount descending
	// so the primary (most expensive) line keeps the full rate.
	order := make([]int, len(claim.ProcedureLines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return claim.ProcedureLines[order[a]].BilledAmount > claim.ProcedureLines[order[b]].BilledAmount
	})

	var allowedTotal int64
	for rank, idx := range order {
		line := &claim.ProcedureLines[idx]

		rate, found := r.lookupRate(snap, policy, line.Code, claim.ServiceDate)
		if !found {
			line.AllowedAmount = 0
			flags = appendFlag(flags, types.ReasonNoRateAvailable)
			continue
		}

		perUnit := rate
		if line.BilledAmount < perUnit {
			perUnit = line.BilledAmount
		}

		allowed := perUnit * int64(line.Quantity)
		if rank > 0 && policy.MultiProcReductionPct > 0 {
			allowed = allowed * int64(policy.MultiProcReductionPct) / 100
		}

		line.AllowedAmount = allowed
		allowedTotal += allowed
	}

	claim.AllowedTotal = allowedTotal

	if claim.AllowedTotal > claim.BilledTotal {
		// Never clamp: freeze the claim for manual data-integrity review.
		return nil, types.NewInvariantError(types.ErrCodeAllowedExceedsBilled,
			"allowed total exceeds billed total",
			map[string]interface{}{
				"allowed_total": claim.AllowedTotal,
				"billed_total":  claim.BilledTotal,
			})
	}

	return flags, nil
}

// lookupRate resolves the per-unit rate for a procedure code, applying the
// schedule entry's percentage modifier, or the payer default when no entry
// is active for the service date.
func (r *FeeResolver) lookupRate(snap *types.ReferenceSnapshot, policy types.PayerPolicy, code string, asOf time.Time) (int64, bool) {
	if entry, ok := snap.FeeEntry(policy.ID, code, asOf); ok {
		rate := entry.AllowedAmount
		if entry.ModifierPct > 0 && entry.ModifierPct != 100 {
			rate = rate * int64(entry.ModifierPct) / 100
		}
		return rate, true
	}
	if policy.DefaultRate > 0 {
		return policy.DefaultRate, true
	}
	return 0, false
}
