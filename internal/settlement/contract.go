package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/config"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// RPCContractCaller drives the settlement contract through a JSON RPC
// endpoint. Signing, nonce sequencing, and fee estimation are the provider's
// concern; this caller only marshals the call and classifies failures.
type RPCContractCaller struct {
	endpoint string
	channel  string
	contract string
	client   *http.Client
	logger   *logger.Logger
}

// NewRPCContractCaller creates a contract caller for the configured ledger
func NewRPCContractCaller(cfg *config.LedgerConfig, log *logger.Logger) *RPCContractCaller {
	return &RPCContractCaller{
		endpoint: cfg.RPCEndpoint,
		channel:  cfg.ChannelName,
		contract: cfg.ContractAddress,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   log,
	}
}

type rpcRequest struct {
	Channel  string            `json:"channel"`
	Contract string            `json:"contract"`
	Function string            `json:"function"`
	Args     map[string]string `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SubmitTransfer submits a transfer instruction to the settlement contract
func (c *RPCContractCaller) SubmitTransfer(ctx context.Context, amount int64, recipientAccount, idempotencyKey string) (*types.TxHandle, error) {
	result, err := c.call(ctx, "SubmitTransfer", map[string]string{
		"amount":          fmt.Sprintf("%d", amount),
		"recipient":       recipientAccount,
		"idempotency_key": idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse transfer response: %w", err)
	}

	return &types.TxHandle{
		TxHash:         payload.TxHash,
		IdempotencyKey: idempotencyKey,
		SubmittedAt:    time.Now(),
	}, nil
}

// TransferStatus queries the contract for the state of a transfer
func (c *RPCContractCaller) TransferStatus(ctx context.Context, handle *types.TxHandle) (*types.TxStatusResult, error) {
	result, err := c.call(ctx, "TransferStatus", map[string]string{
		"tx_hash": handle.TxHash,
	})
	if err != nil {
		return nil, err
	}

	var status types.TxStatusResult
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// EstimateFee queries the provider for the network fee of a transfer
func (c *RPCContractCaller) EstimateFee(ctx context.Context, amount int64) (int64, error) {
	result, err := c.call(ctx, "EstimateFee", map[string]string{
		"amount": fmt.Sprintf("%d", amount),
	})
	if err != nil {
		return 0, err
	}

	var payload struct {
		Fee int64 `json:"fee"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return 0, fmt.Errorf("failed to parse fee response: %w", err)
	}
	return payload.Fee, nil
}

// call posts one contract call and classifies failures: network errors are
// transient, provider-flagged retryable errors are transient, everything
// else is a rejection surfaced without retry.
func (c *RPCContractCaller) call(ctx context.Context, function string, args map[string]string) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		Channel:  c.channel,
		Contract: c.contract,
		Function: function,
		Args:     args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build contract call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewTransientError(types.ErrCodeLedgerUnavailable,
			"ledger RPC endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, types.NewTransientError(types.ErrCodeLedgerUnavailable,
			fmt.Sprintf("ledger RPC returned status %d", resp.StatusCode), nil)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, types.NewTransientError(types.ErrCodeLedgerUnavailable,
			"failed to decode ledger RPC response", err)
	}

	if rpcResp.Error != nil {
		if rpcResp.Error.Retryable {
			return nil, types.NewTransientError(types.ErrCodeLedgerUnavailable,
				rpcResp.Error.Message, nil)
		}
		c.logger.WithFields(map[string]interface{}{
			"function": function,
			"code":     rpcResp.Error.Code,
		}).Warn("Ledger rejected contract call")
		return nil, types.NewTerminalError(types.ErrCodeLedgerRejected,
			rpcResp.Error.Message, map[string]interface{}{"code": rpcResp.Error.Code})
	}

	return rpcResp.Result, nil
}
