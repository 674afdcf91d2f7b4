package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/config"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

func newTestCaller(endpoint string) *RPCContractCaller {
	return NewRPCContractCaller(&config.LedgerConfig{
		RPCEndpoint:     endpoint,
		ChannelName:     "settlement",
		ContractAddress: "0xcontract",
	}, logger.New("error"))
}

func TestRPCContractCaller_SubmitTransfer(t *testing.T) {
	var received rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]string{"tx_hash": "0xdeadbeef"},
		})
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	handle, err := caller.SubmitTransfer(context.Background(), 75000000, "acct-payer-1", "claim-abc")

	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", handle.TxHash)
	assert.Equal(t, "claim-abc", handle.IdempotencyKey)

	assert.Equal(t, "settlement", received.Channel)
	assert.Equal(t, "0xcontract", received.Contract)
	assert.Equal(t, "SubmitTransfer", received.Function)
	assert.Equal(t, "75000000", received.Args["amount"])
	assert.Equal(t, "acct-payer-1", received.Args["recipient"])
	assert.Equal(t, "claim-abc", received.Args["idempotency_key"])
}

func TestRPCContractCaller_TransferStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"status": "confirmed", "confirmations": 2},
		})
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	status, err := caller.TransferStatus(context.Background(), &types.TxHandle{TxHash: "0xabc"})

	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, status.Status)
	assert.Equal(t, 2, status.Confirmations)
}

func TestRPCContractCaller_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	_, err := caller.SubmitTransfer(context.Background(), 100, "acct", "key")

	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestRPCContractCaller_UnreachableEndpointIsTransient(t *testing.T) {
	caller := newTestCaller("http://127.0.0.1:1") // nothing listens here

	_, err := caller.SubmitTransfer(context.Background(), 100, "acct", "key")

	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestRPCContractCaller_RetryableProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": "BUSY", "message": "mempool full", "retryable": true},
		})
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	_, err := caller.SubmitTransfer(context.Background(), 100, "acct", "key")

	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestRPCContractCaller_RejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": "INSUFFICIENT_FUNDS", "message": "insufficient contract balance", "retryable": false},
		})
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	_, err := caller.SubmitTransfer(context.Background(), 100, "acct", "key")

	require.Error(t, err)
	assert.Equal(t, types.ErrorTypeTerminal, types.ErrType(err))
	claimErr := err.(*types.ClaimError)
	assert.Equal(t, types.ErrCodeLedgerRejected, claimErr.Code)
}

func TestRPCContractCaller_EstimateFee(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]int64{"fee": 42000},
		})
	}))
	defer server.Close()

	caller := newTestCaller(server.URL)
	fee, err := caller.EstimateFee(context.Background(), 75000000)

	require.NoError(t, err)
	assert.Equal(t, int64(42000), fee)
}
