package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// memStore is an in-memory ClaimStore for dispatcher tests
type memStore struct {
	mu     sync.Mutex
	claims map[string]*types.Claim
	txs    map[string]*types.SettlementTransaction
}

func newMemStore(claims ...*types.Claim) *memStore {
	s := &memStore{
		claims: make(map[string]*types.Claim),
		txs:    make(map[string]*types.SettlementTransaction),
	}
	for _, c := range claims {
		copied := *c
		s.claims[c.ID] = &copied
	}
	return s
}

func (s *memStore) Create(ctx context.Context, claim *types.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *claim
	s.claims[claim.ID] = &copied
	return nil
}

func (s *memStore) GetByID(ctx context.Context, claimID string) (*types.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimID]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeClaimNotFound, "claim not found: "+claimID)
	}
	copied := *claim
	return &copied, nil
}

func (s *memStore) UpdateDecision(ctx context.Context, claim *types.Claim, expected types.ClaimStatus) error {
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, claimID string, from, to types.ClaimStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimID]
	if !ok || claim.Status != from || !types.CanTransition(from, to) {
		return types.NewConflictError(types.ErrCodeIllegalTransition, "illegal transition")
	}
	claim.Status = to
	return nil
}

func (s *memStore) MarkSettling(ctx context.Context, claimID string, from types.ClaimStatus, txID string) error {
	if err := s.UpdateStatus(ctx, claimID, from, types.ClaimSettling, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimID].SettlementTxID = txID
	return nil
}

func (s *memStore) MarkSettled(ctx context.Context, claimID, txID string, settledAt time.Time) error {
	if err := s.UpdateStatus(ctx, claimID, types.ClaimSettling, types.ClaimSettled, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimID].SettledAt = &settledAt
	return nil
}

func (s *memStore) MarkSettlementFailed(ctx context.Context, claimID, txID, reason string) error {
	if err := s.UpdateStatus(ctx, claimID, types.ClaimSettling, types.ClaimSettlementFailed, reason); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimID].SettleAttempts++
	return nil
}

func (s *memStore) FindDuplicates(ctx context.Context, claim *types.Claim, window time.Duration) ([]*types.Claim, error) {
	return nil, nil
}

func (s *memStore) List(ctx context.Context, filters *types.ClaimFilters) ([]*types.Claim, error) {
	return nil, nil
}

func (s *memStore) FindStuckSettling(ctx context.Context, grace time.Duration) ([]*types.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Claim
	for _, c := range s.claims {
		if c.Status == types.ClaimSettling {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) History(ctx context.Context, claimID string) ([]*types.ClaimStatusChange, error) {
	return nil, nil
}

func (s *memStore) CreateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tx
	s.txs[tx.ID] = &copied
	return nil
}

func (s *memStore) UpdateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tx
	s.txs[tx.ID] = &copied
	return nil
}

func (s *memStore) GetSettlementTx(ctx context.Context, txID string) (*types.SettlementTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeClaimNotFound, "tx not found: "+txID)
	}
	copied := *tx
	return &copied, nil
}

func (s *memStore) claimStatus(claimID string) types.ClaimStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[claimID].Status
}

func (s *memStore) allTxs() []*types.SettlementTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SettlementTransaction
	for _, tx := range s.txs {
		copied := *tx
		out = append(out, &copied)
	}
	return out
}

type staticReference struct {
	snap *types.ReferenceSnapshot
}

func (r *staticReference) Current() *types.ReferenceSnapshot { return r.snap }

type capturePublisher struct {
	mu     sync.Mutex
	events []*types.ClaimEvent
}

func (p *capturePublisher) PublishClaimEvent(ctx context.Context, event *types.ClaimEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func settlementSnapshot() *types.ReferenceSnapshot {
	return &types.ReferenceSnapshot{
		Version: 1,
		Policies: map[string]types.PayerPolicy{
			"policy-1": {
				ID:                "policy-1",
				SettlementAccount: "acct-payer-1",
			},
		},
	}
}

func approvedClaim() *types.Claim {
	return &types.Claim{
		ID:            "claim-1",
		PatientRef:    "patient-1",
		PayerPolicyID: "policy-1",
		BilledTotal:   9000,
		AllowedTotal:  7500,
		Status:        types.ClaimApproved,
	}
}

func newTestDispatcher(t *testing.T, store *memStore, caller *fakeCaller, maxRetries int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(
		store,
		&staticReference{snap: settlementSnapshot()},
		newTestLedgerClient(caller),
		NewLocalDispatchGuard(),
		&capturePublisher{},
		&monitoring.MetricsCollector{},
		logger.New("error"),
		DispatcherConfig{
			Currency:              "USDC",
			MaxRetries:            maxRetries,
			ConfirmTimeout:        2 * time.Second,
			PollInterval:          5 * time.Millisecond,
			RequiredConfirmations: 1,
			RetryPolicy:           fastRetryPolicy(),
		},
	)
	t.Cleanup(d.Shutdown)
	return d
}

func TestDispatcher_SettlesApprovedClaim(t *testing.T) {
	store := newMemStore(approvedClaim())
	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxPending},
			{Status: types.TxConfirmed, Confirmations: 1},
		},
	}
	d := newTestDispatcher(t, store, caller, 0)

	err := d.Dispatch(context.Background(), "claim-1")

	require.NoError(t, err)
	assert.Equal(t, types.ClaimSettling, store.claimStatus("claim-1"))

	require.Eventually(t, func() bool {
		return store.claimStatus("claim-1") == types.ClaimSettled
	}, 2*time.Second, 10*time.Millisecond)

	submit := caller.lastSubmit()
	assert.Equal(t, types.CentsToBaseUnits(7500), submit.amount)
	assert.Equal(t, "acct-payer-1", submit.recipient)
	assert.Equal(t, "claim-claim-1", submit.idempotencyKey)

	txs := store.allTxs()
	require.Len(t, txs, 1)
	assert.Equal(t, types.TxConfirmed, txs[0].Status)
	assert.NotEmpty(t, txs[0].ChainTxHash)
}

func TestDispatcher_SubmissionFailureLeavesClaimApproved(t *testing.T) {
	store := newMemStore(approvedClaim())
	caller := &fakeCaller{
		submitErrs: []error{
			types.NewTerminalError(types.ErrCodeLedgerRejected, "contract rejected transfer", nil),
		},
	}
	d := newTestDispatcher(t, store, caller, 0)

	err := d.Dispatch(context.Background(), "claim-1")

	require.Error(t, err)
	assert.Equal(t, types.ClaimApproved, store.claimStatus("claim-1"))

	txs := store.allTxs()
	require.Len(t, txs, 1)
	assert.Equal(t, types.TxFailed, txs[0].Status)
	assert.NotEmpty(t, txs[0].FailureReason)
}

func TestDispatcher_OnChainFailureMarksSettlementFailed(t *testing.T) {
	store := newMemStore(approvedClaim())
	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxFailed, FailureReason: "insufficient contract balance"},
		},
	}
	d := newTestDispatcher(t, store, caller, 0)

	require.NoError(t, d.Dispatch(context.Background(), "claim-1"))

	require.Eventually(t, func() bool {
		return store.claimStatus("claim-1") == types.ClaimSettlementFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_RetriesFailedSettlementUntilExhausted(t *testing.T) {
	store := newMemStore(approvedClaim())
	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxFailed, FailureReason: "insufficient contract balance"},
		},
	}
	d := newTestDispatcher(t, store, caller, 1)

	require.NoError(t, d.Dispatch(context.Background(), "claim-1"))

	// Initial submission plus one automatic retry, then the budget is spent.
	require.Eventually(t, func() bool {
		return caller.submitCount() == 2 && store.claimStatus("claim-1") == types.ClaimSettlementFailed
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, caller.submitCount())
	assert.Equal(t, types.ClaimSettlementFailed, store.claimStatus("claim-1"))

	claim, err := store.GetByID(context.Background(), "claim-1")
	require.NoError(t, err)
	assert.Equal(t, 2, claim.SettleAttempts)
}

func TestDispatcher_RejectsSettledClaim(t *testing.T) {
	claim := approvedClaim()
	claim.Status = types.ClaimSettled
	store := newMemStore(claim)
	d := newTestDispatcher(t, store, &fakeCaller{}, 0)

	err := d.Dispatch(context.Background(), "claim-1")

	require.Error(t, err)
	claimErr := err.(*types.ClaimError)
	assert.Equal(t, types.ErrCodeAlreadySettled, claimErr.Code)
}

func TestDispatcher_RejectsUndecidedClaim(t *testing.T) {
	claim := approvedClaim()
	claim.Status = types.ClaimPendingReview
	store := newMemStore(claim)
	d := newTestDispatcher(t, store, &fakeCaller{}, 0)

	err := d.Dispatch(context.Background(), "claim-1")

	require.Error(t, err)
	claimErr := err.(*types.ClaimError)
	assert.Equal(t, types.ErrCodeNotApproved, claimErr.Code)
}

func TestDispatcher_GuardBlocksConcurrentDispatch(t *testing.T) {
	store := newMemStore(approvedClaim())
	guard := NewLocalDispatchGuard()
	d := NewDispatcher(
		store,
		&staticReference{snap: settlementSnapshot()},
		newTestLedgerClient(&fakeCaller{}),
		guard,
		&capturePublisher{},
		&monitoring.MetricsCollector{},
		logger.New("error"),
		DispatcherConfig{Currency: "USDC", ConfirmTimeout: time.Second, PollInterval: 5 * time.Millisecond, RequiredConfirmations: 1},
	)
	t.Cleanup(d.Shutdown)

	acquired, err := guard.Acquire(context.Background(), "claim-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	err = d.Dispatch(context.Background(), "claim-1")

	require.Error(t, err)
	claimErr := err.(*types.ClaimError)
	assert.Equal(t, types.ErrCodeDispatchInFlight, claimErr.Code)
}

func TestDispatcher_RetryReusesIdempotencyKey(t *testing.T) {
	store := newMemStore(approvedClaim())
	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxFailed, FailureReason: "transfer reverted"},
		},
	}
	d := newTestDispatcher(t, store, caller, 0)

	require.NoError(t, d.Dispatch(context.Background(), "claim-1"))
	require.Eventually(t, func() bool {
		return store.claimStatus("claim-1") == types.ClaimSettlementFailed
	}, 2*time.Second, 10*time.Millisecond)

	// Manual re-dispatch after the failure: the chain-side key must be
	// identical so the contract can deduplicate.
	caller.mu.Lock()
	caller.statusSeq = []*types.TxStatusResult{{Status: types.TxConfirmed, Confirmations: 1}}
	caller.mu.Unlock()

	require.NoError(t, d.Dispatch(context.Background(), "claim-1"))
	require.Eventually(t, func() bool {
		return store.claimStatus("claim-1") == types.ClaimSettled
	}, 2*time.Second, 10*time.Millisecond)

	caller.mu.Lock()
	defer caller.mu.Unlock()
	require.Len(t, caller.submits, 2)
	assert.Equal(t, caller.submits[0].idempotencyKey, caller.submits[1].idempotencyKey)
}

func TestDispatcher_SweepFinalizesStuckSettlement(t *testing.T) {
	claim := approvedClaim()
	claim.Status = types.ClaimSettling
	claim.SettlementTxID = "tx-1"
	store := newMemStore(claim)
	store.CreateSettlementTx(context.Background(), &types.SettlementTransaction{
		ID:             "tx-1",
		ClaimID:        "claim-1",
		Amount:         types.CentsToBaseUnits(7500),
		Currency:       "USDC",
		RecipientAcct:  "acct-payer-1",
		IdempotencyKey: "claim-claim-1",
		ChainTxHash:    "0xstuck",
		Status:         types.TxPending,
		SubmittedAt:    time.Now().Add(-10 * time.Minute),
	})

	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxConfirmed, Confirmations: 2},
		},
	}
	d := newTestDispatcher(t, store, caller, 0)

	d.sweepOnce(context.Background(), time.Minute)

	assert.Equal(t, types.ClaimSettled, store.claimStatus("claim-1"))
	tx, err := store.GetSettlementTx(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, tx.Status)
	assert.Equal(t, 2, tx.Confirmations)
}
