package types

import "time"

// DiagnosisCode is one ICD-10 entry in the reference catalog
type DiagnosisCode struct {
	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`
}

// ProcedureCode is one CPT/SUT entry in the procedure catalog
type ProcedureCode struct {
	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`
	Repeatable  bool   `json:"repeatable" db:"repeatable"`
}

// FeeScheduleEntry maps (payer policy, procedure code) to an allowed rate.
// Amounts are in minor currency units (cents). ModifierPct scales the rate
// (100 = no modifier). Read-only reference data.
type FeeScheduleEntry struct {
	PolicyID      string    `json:"policy_id" db:"policy_id"`
	ProcedureCode string    `json:"procedure_code" db:"procedure_code"`
	AllowedAmount int64     `json:"allowed_amount" db:"allowed_amount"`
	ModifierPct   int       `json:"modifier_pct" db:"modifier_pct"`
	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to" db:"effective_to"`
}

// ActiveAt reports whether the entry covers the given service date.
// A zero EffectiveTo means open-ended.
func (e *FeeScheduleEntry) ActiveAt(asOf time.Time) bool {
	if asOf.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo.IsZero() || !asOf.After(e.EffectiveTo)
}

// ExclusionPair marks a diagnosis/procedure combination a policy refuses to cover
type ExclusionPair struct {
	DiagnosisCode string `json:"diagnosis_code" db:"diagnosis_code"`
	ProcedureCode string `json:"procedure_code" db:"procedure_code"`
}

// PayerPolicy holds the payer-configurable adjudication parameters.
// Thresholds and rates are in minor currency units (cents).
type PayerPolicy struct {
	ID                     string          `json:"id" db:"id"`
	Name                   string          `json:"name" db:"name"`
	AutoApprovalThreshold  int64           `json:"auto_approval_threshold" db:"auto_approval_threshold"`
	DefaultRate            int64           `json:"default_rate" db:"default_rate"` // 0 = no default fallback
	MultiProcReductionPct  int             `json:"multi_proc_reduction_pct" db:"multi_proc_reduction_pct"`
	SettlementAccount      string          `json:"settlement_account" db:"settlement_account"`
	Exclusions             []ExclusionPair `json:"exclusions,omitempty"`
}

// Excludes reports whether the policy excludes the diagnosis/procedure pair.
func (p *PayerPolicy) Excludes(diagnosisCode, procedureCode string) bool {
	for _, ex := range p.Exclusions {
		if ex.DiagnosisCode == diagnosisCode && ex.ProcedureCode == procedureCode {
			return true
		}
	}
	return false
}

// ReferenceSnapshot is an immutable, versioned view of the coding catalogs,
// fee schedule, and payer policies. One snapshot is captured per claim
// pipeline run so a concurrent refresh can never tear a decision.
type ReferenceSnapshot struct {
	Version        int64
	LoadedAt       time.Time
	DiagnosisCodes map[string]DiagnosisCode
	ProcedureCodes map[string]ProcedureCode
	// fee schedule entries keyed by policyID, then procedure code; a
	// (policy, code) pair may carry several entries with disjoint
	// effective ranges
	FeeSchedule map[string]map[string][]FeeScheduleEntry
	Policies    map[string]PayerPolicy
}

// Policy returns the payer policy for the given ID, if present.
func (s *ReferenceSnapshot) Policy(policyID string) (PayerPolicy, bool) {
	p, ok := s.Policies[policyID]
	return p, ok
}

// FeeEntry returns the fee schedule entry active at the service date for the
// (policy, procedure) pair, if any.
func (s *ReferenceSnapshot) FeeEntry(policyID, procedureCode string, asOf time.Time) (FeeScheduleEntry, bool) {
	byCode, ok := s.FeeSchedule[policyID]
	if !ok {
		return FeeScheduleEntry{}, false
	}
	for _, entry := range byCode[procedureCode] {
		if entry.ActiveAt(asOf) {
			return entry, true
		}
	}
	return FeeScheduleEntry{}, false
}
