package claims

import (
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

var testServiceDate = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// testSnapshot builds a reference snapshot with a small catalog, one payer
// policy, and a fee schedule covering the office-visit and imaging codes.
func testSnapshot() *types.ReferenceSnapshot {
	return &types.ReferenceSnapshot{
		Version:  1,
		LoadedAt: time.Now(),
		DiagnosisCodes: map[string]types.DiagnosisCode{
			"J20.9": {Code: "J20.9", Description: "Acute bronchitis, unspecified"},
			"M54.5": {Code: "M54.5", Description: "Low back pain"},
		},
		ProcedureCodes: map[string]types.ProcedureCode{
			"99213": {Code: "99213", Description: "Office visit, established patient"},
			"71045": {Code: "71045", Description: "Chest X-ray, single view"},
			"97110": {Code: "97110", Description: "Therapeutic exercise", Repeatable: true},
		},
		FeeSchedule: map[string]map[string][]types.FeeScheduleEntry{
			"policy-1": {
				"99213": {{
					PolicyID:      "policy-1",
					ProcedureCode: "99213",
					AllowedAmount: 7500,
					ModifierPct:   100,
					EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				}},
				"71045": {{
					PolicyID:      "policy-1",
					ProcedureCode: "71045",
					AllowedAmount: 4000,
					ModifierPct:   100,
					EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				}},
			},
		},
		Policies: map[string]types.PayerPolicy{
			"policy-1": {
				ID:                    "policy-1",
				Name:                  "Standard Plan",
				AutoApprovalThreshold: 50000,
				MultiProcReductionPct: 50,
				SettlementAccount:     "acct-payer-1",
			},
		},
	}
}

func testClaim() *types.Claim {
	return &types.Claim{
		ID:             "claim-1",
		PatientRef:     "patient-1",
		PayerPolicyID:  "policy-1",
		DiagnosisCodes: []string{"J20.9"},
		ProcedureLines: []types.ProcedureLine{
			{Code: "99213", BilledAmount: 9000, Quantity: 1},
		},
		ServiceDate: testServiceDate,
		Status:      types.ClaimSubmitted,
	}
}
