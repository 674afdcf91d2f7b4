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
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/retry"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

type submitCall struct {
	amount         int64
	recipient      string
	idempotencyKey string
}

// fakeCaller is a scriptable ContractCaller
type fakeCaller struct {
	mu          sync.Mutex
	submits     []submitCall
	submitErrs  []error // consumed one per call; nil entry means success
	statusSeq   []*types.TxStatusResult
	statusCalls int
}

func (f *fakeCaller) SubmitTransfer(ctx context.Context, amount int64, recipient, key string) (*types.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submits = append(f.submits, submitCall{amount, recipient, key})
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.TxHandle{
		TxHash:         "0xhash-" + key,
		IdempotencyKey: key,
		SubmittedAt:    time.Now(),
	}, nil
}

func (f *fakeCaller) TransferStatus(ctx context.Context, handle *types.TxHandle) (*types.TxStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.statusSeq) == 0 {
		return &types.TxStatusResult{Status: types.TxPending}, nil
	}
	result := f.statusSeq[0]
	if len(f.statusSeq) > 1 {
		f.statusSeq = f.statusSeq[1:] // last entry is sticky
	}
	f.statusCalls++
	return result, nil
}

func (f *fakeCaller) EstimateFee(ctx context.Context, amount int64) (int64, error) {
	return amount / 1000, nil
}

func (f *fakeCaller) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeCaller) lastSubmit() submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[len(f.submits)-1]
}

func fastRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newTestLedgerClient(caller *fakeCaller) *LedgerClient {
	return NewLedgerClient(caller, fastRetryPolicy(), &monitoring.MetricsCollector{}, logger.New("error"))
}

func TestLedgerClient_SubmitTransfer(t *testing.T) {
	caller := &fakeCaller{}
	client := newTestLedgerClient(caller)

	handle, err := client.SubmitTransfer(context.Background(), 75000000, "acct-payer-1", "claim-abc")

	require.NoError(t, err)
	assert.Equal(t, "0xhash-claim-abc", handle.TxHash)
	assert.Equal(t, "claim-abc", handle.IdempotencyKey)
	assert.Equal(t, 1, caller.submitCount())
}

func TestLedgerClient_RetriesTransientErrors(t *testing.T) {
	caller := &fakeCaller{
		submitErrs: []error{
			types.NewTransientError(types.ErrCodeLedgerUnavailable, "rpc timeout", nil),
			types.NewTransientError(types.ErrCodeLedgerUnavailable, "rpc timeout", nil),
			nil,
		},
	}
	client := newTestLedgerClient(caller)

	handle, err := client.SubmitTransfer(context.Background(), 100, "acct", "claim-x")

	require.NoError(t, err)
	assert.NotNil(t, handle)
	assert.Equal(t, 3, caller.submitCount())
}

func TestLedgerClient_TerminalErrorNotRetried(t *testing.T) {
	rejected := types.NewTerminalError(types.ErrCodeLedgerRejected, "insufficient contract balance", nil)
	caller := &fakeCaller{submitErrs: []error{rejected}}
	client := newTestLedgerClient(caller)

	_, err := client.SubmitTransfer(context.Background(), 100, "acct", "claim-x")

	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeTerminal, types.ErrType(err))
	assert.Equal(t, 1, caller.submitCount(), "terminal errors must not be retried")
}

func TestLedgerClient_ExhaustsRetries(t *testing.T) {
	transient := types.NewTransientError(types.ErrCodeLedgerUnavailable, "rpc timeout", nil)
	caller := &fakeCaller{submitErrs: []error{transient, transient, transient}}
	client := newTestLedgerClient(caller)

	_, err := client.SubmitTransfer(context.Background(), 100, "acct", "claim-x")

	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, 3, caller.submitCount())
}

func TestLedgerClient_GetStatus(t *testing.T) {
	caller := &fakeCaller{
		statusSeq: []*types.TxStatusResult{
			{Status: types.TxConfirmed, Confirmations: 3},
		},
	}
	client := newTestLedgerClient(caller)

	result, err := client.GetStatus(context.Background(), &types.TxHandle{TxHash: "0xabc"})

	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, result.Status)
	assert.Equal(t, 3, result.Confirmations)
}

func TestLedgerClient_EstimateFee(t *testing.T) {
	client := newTestLedgerClient(&fakeCaller{})

	fee, err := client.EstimateFee(context.Background(), 75000000)

	require.NoError(t, err)
	assert.Equal(t, int64(75000), fee)
}
