package claims

import (
	"fmt"
	"regexp"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// icd10Pattern is the lexical shape of an ICD-10 code: a letter, two digits,
// and an optional dot followed by up to four alphanumerics.
var icd10Pattern = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[A-Z0-9]{1,4})?$`)

// Validator checks diagnosis and procedure codes against a reference
// catalog snapshot. It is a pure function over the claim and the snapshot:
// no side effects beyond the returned flags.
type Validator struct{}

// NewValidator creates a code validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every code on the claim and recomputes the billed total.
//
// Malformed codes and disallowed duplicate procedures are terminal errors:
// the claim is denied outright. Well-formed codes missing from the catalog
// are recoverable; they come back as review flags so the adjudicator routes
// the claim to manual review instead of rejecting it.
func (v *Validator) Validate(snap *types.ReferenceSnapshot, claim *types.Claim) ([]types.DecisionReason, error) {
	if len(claim.DiagnosisCodes) == 0 {
		return nil, types.NewTerminalError(types.ErrCodeMalformedCode,
			"claim has no diagnosis codes", nil)
	}
	if len(claim.ProcedureLines) == 0 {
		return nil, types.NewTerminalError(types.ErrCodeMalformedCode,
			"claim has no procedure lines", nil)
	}

	var flags []types.DecisionReason

	for _, code := range claim.DiagnosisCodes {
		if !icd10Pattern.MatchString(code) {
			return nil, types.NewTerminalError(types.ErrCodeMalformedCode,
				fmt.Sprintf("diagnosis code %q is not a valid ICD-10 code", code),
				map[string]interface{}{"code": code})
		}
		if _, ok := snap.DiagnosisCodes[code]; !ok {
			flags = appendFlag(flags, types.ReasonUnknownCode)
		}
	}

	seen := make(map[string]int)
	for _, line := range claim.ProcedureLines {
		if line.Quantity < 1 {
			return nil, types.NewTerminalError(types.ErrCodeMalformedCode,
				fmt.Sprintf("procedure %s has quantity %d; must be at least 1", line.Code, line.Quantity),
				map[string]interface{}{"code": line.Code})
		}
		if line.BilledAmount < 0 {
			return nil, types.NewTerminalError(types.ErrCodeMalformedCode,
				fmt.Sprintf("procedure %s has a negative billed amount", line.Code),
				map[string]interface{}{"code": line.Code})
		}

		proc, known := snap.ProcedureCodes[line.Code]
		if !known {
			flags = appendFlag(flags, types.ReasonUnknownCode)
		}

		seen[line.Code]++
		if seen[line.Code] > 1 && known && !proc.Repeatable {
			return nil, types.NewTerminalError(types.ErrCodeDisallowedDuplicate,
				fmt.Sprintf("procedure %s appears more than once but is not repeatable", line.Code),
				map[string]interface{}{"code": line.Code})
		}
	}

	// BilledTotal follows the line items, never the other way around.
	claim.RecomputeBilledTotal()

	return flags, nil
}

// appendFlag adds a flag once
func appendFlag(flags []types.DecisionReason, flag types.DecisionReason) []types.DecisionReason {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}
