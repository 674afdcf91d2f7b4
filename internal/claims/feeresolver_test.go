package claims

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

func TestFeeResolver_BilledAboveRate(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim() // billed 9000, scheduled rate 7500
	claim.RecomputeBilledTotal()

	flags, err := r.Resolve(testSnapshot(), claim)

	require.NoError(t, err)
	assert.Empty(t, flags)
	assert.Equal(t, int64(7500), claim.ProcedureLines[0].AllowedAmount)
	assert.Equal(t, int64(7500), claim.AllowedTotal)
}

func TestFeeResolver_BilledBelowRate(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	claim.ProcedureLines[0].BilledAmount = 6000 // below the 7500 rate
	claim.RecomputeBilledTotal()

	_, err := r.Resolve(testSnapshot(), claim)

	require.NoError(t, err)
	assert.Equal(t, int64(6000), claim.ProcedureLines[0].AllowedAmount)
}

func TestFeeResolver_QuantityMultiplies(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	claim.ProcedureLines[0].Quantity = 3
	claim.RecomputeBilledTotal()

	_, err := r.Resolve(testSnapshot(), claim)

	require.NoError(t, err)
	assert.Equal(t, int64(22500), claim.ProcedureLines[0].AllowedAmount)
}

func TestFeeResolver_ModifierScalesRate(t *testing.T) {
	snap := testSnapshot()
	entries := snap.FeeSchedule["policy-1"]["99213"]
	entries[0].ModifierPct = 80
	snap.FeeSchedule["policy-1"]["99213"] = entries

	r := NewFeeResolver()
	claim := testClaim()
	claim.RecomputeBilledTotal()

	_, err := r.Resolve(snap, claim)

	require.NoError(t, err)
	assert.Equal(t, int64(6000), claim.ProcedureLines[0].AllowedAmount)
}

func TestFeeResolver_MultiProcedureReduction(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	// The X-ray line is listed first but bills less; the office visit is
	// the primary and keeps its full rate.
	claim.ProcedureLines = []types.ProcedureLine{
		{Code: "71045", BilledAmount: 5000, Quantity: 1},
		{Code: "99213", BilledAmount: 9000, Quantity: 1},
	}
	claim.RecomputeBilledTotal()

	_, err := r.Resolve(testSnapshot(), claim)

	require.NoError(t, err)
	assert.Equal(t, int64(7500), claim.ProcedureLines[1].AllowedAmount, "primary keeps full rate")
	assert.Equal(t, int64(2000), claim.ProcedureLines[0].AllowedAmount, "secondary reduced to 50%")
	assert.Equal(t, int64(9500), claim.AllowedTotal)
}

func TestFeeResolver_NoRateNoDefault(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	claim.ProcedureLines = []types.ProcedureLine{
		{Code: "97110", BilledAmount: 3000, Quantity: 1}, // no schedule entry
	}
	claim.RecomputeBilledTotal()

	flags, err := r.Resolve(testSnapshot(), claim)

	require.NoError(t, err)
	assert.Contains(t, flags, types.ReasonNoRateAvailable)
	assert.Equal(t, int64(0), claim.ProcedureLines[0].AllowedAmount)
	assert.Equal(t, int64(0), claim.AllowedTotal)
}

func TestFeeResolver_DefaultRateFallback(t *testing.T) {
	snap := testSnapshot()
	policy := snap.Policies["policy-1"]
	policy.DefaultRate = 2500
	snap.Policies["policy-1"] = policy

	r := NewFeeResolver()
	claim := testClaim()
	claim.ProcedureLines = []types.ProcedureLine{
		{Code: "97110", BilledAmount: 3000, Quantity: 1},
	}
	claim.RecomputeBilledTotal()

	flags, err := r.Resolve(snap, claim)

	require.NoError(t, err)
	assert.Empty(t, flags)
	assert.Equal(t, int64(2500), claim.ProcedureLines[0].AllowedAmount)
}

func TestFeeResolver_ExpiredEntryIgnored(t *testing.T) {
	snap := testSnapshot()
	entries := snap.FeeSchedule["policy-1"]["99213"]
	entries[0].EffectiveTo = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) // before service date
	snap.FeeSchedule["policy-1"]["99213"] = entries

	r := NewFeeResolver()
	claim := testClaim()
	claim.RecomputeBilledTotal()

	flags, err := r.Resolve(snap, claim)

	require.NoError(t, err)
	assert.Contains(t, flags, types.ReasonNoRateAvailable)
}

func TestFeeResolver_UnknownPolicy(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	claim.PayerPolicyID = "no-such-policy"
	claim.RecomputeBilledTotal()

	_, err := r.Resolve(testSnapshot(), claim)

	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeTerminal, types.ErrType(err))
}

func TestFeeResolver_AllowedExceedsBilledInvariant(t *testing.T) {
	r := NewFeeResolver()
	claim := testClaim()
	// Corrupt billed total (lower than the lines imply) must freeze the
	// claim, never be silently clamped.
	claim.BilledTotal = 100

	_, err := r.Resolve(testSnapshot(), claim)

	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeInvariant, types.ErrType(err))
	claimErr := err.(*types.ClaimError)
	assert.Equal(t, types.ErrCodeAllowedExceedsBilled, claimErr.Code)
}
