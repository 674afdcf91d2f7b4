package claims

import (
	"fmt"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// Decision is the outcome of adjudicating one claim
type Decision struct {
	Status types.ClaimStatus
	Reason types.DecisionReason
	Detail string
}

// Adjudicator applies the payer business rules to a validated, fee-resolved
// claim. The decision is deterministic and side-effect-free; persisting it
// is the caller's job. The duplicate probe (a claim-store lookup) is passed
// in by the caller for the same reason.
type Adjudicator struct{}

// NewAdjudicator creates an adjudication engine
func NewAdjudicator() *Adjudicator {
	return &Adjudicator{}
}

// Adjudicate decides Approved, Denied, or PendingReview for a claim.
//
// Rules, in order:
//   - a diagnosis/procedure combination the policy excludes denies the
//     claim (not_covered)
//   - any validation or fee-resolution flag forces manual review;
//     auto-approval never bypasses resolution gaps
//   - a match against an existing non-denied claim on (patient, procedure,
//     service date) routes to review as a possible duplicate, never to an
//     auto-denial
//   - an allowed total above the payer's auto-approval threshold routes to
//     review; a clean high-dollar claim is never denied on amount alone
//   - otherwise the claim is approved
func (a *Adjudicator) Adjudicate(snap *types.ReferenceSnapshot, claim *types.Claim, flags []types.DecisionReason, duplicates []*types.Claim) Decision {
	policy, ok := snap.Policy(claim.PayerPolicyID)
	if !ok {
		return Decision{
			Status: types.ClaimDenied,
			Reason: types.ReasonNotCovered,
			Detail: fmt.Sprintf("payer policy %s not found", claim.PayerPolicyID),
		}
	}

	for _, diag := range claim.DiagnosisCodes {
		for _, line := range claim.ProcedureLines {
			if policy.Excludes(diag, line.Code) {
				return Decision{
					Status: types.ClaimDenied,
					Reason: types.ReasonNotCovered,
					Detail: fmt.Sprintf("policy %s does not cover procedure %s for diagnosis %s", policy.ID, line.Code, diag),
				}
			}
		}
	}

	for _, flag := range flags {
		return Decision{
			Status: types.ClaimPendingReview,
			Reason: flag,
			Detail: reviewDetail(flag),
		}
	}

	for _, dup := range duplicates {
		if dup.Status != types.ClaimDenied {
			return Decision{
				Status: types.ClaimPendingReview,
				Reason: types.ReasonPossibleDuplicate,
				Detail: fmt.Sprintf("possible duplicate of claim %s", dup.ID),
			}
		}
	}

	if claim.AllowedTotal > policy.AutoApprovalThreshold {
		return Decision{
			Status: types.ClaimPendingReview,
			Reason: types.ReasonOverThreshold,
			Detail: fmt.Sprintf("allowed total %d exceeds auto-approval threshold %d", claim.AllowedTotal, policy.AutoApprovalThreshold),
		}
	}

	return Decision{
		Status: types.ClaimApproved,
		Reason: types.ReasonClean,
	}
}

func reviewDetail(flag types.DecisionReason) string {
	switch flag {
	case types.ReasonUnknownCode:
		return "claim contains a well-formed code missing from the reference catalog"
	case types.ReasonNoRateAvailable:
		return "no fee schedule rate is available for one or more procedures"
	default:
		return string(flag)
	}
}
