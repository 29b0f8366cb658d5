package ton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

type MintRequest struct {
	Wallet      string
	MetadataURL string
	QueryID     uint64
}

type MintReceipt struct {
	NFTAddress string `json:"nft_address"`
	TxHash     string `json:"tx_hash"`
}

type TxState string

const (
	TX_NOT_FOUND TxState = "not_found"
	TX_PENDING   TxState = "pending"
	TX_CONFIRMED TxState = "confirmed"
	TX_FAILED    TxState = "failed"
)

// MintClient submits NFT mints and answers questions about their outcome.
type MintClient interface {
	SubmitMint(ctx context.Context, req MintRequest) (*MintReceipt, error)
	// LookupMint returns nil, nil when no mint with queryID landed.
	LookupMint(ctx context.Context, queryID uint64) (*MintReceipt, error)
	TransactionState(ctx context.Context, txHash string) (TxState, error)
}

// Client talks JSON-RPC to a toncenter node for reads and to the collection's
// mint relay for writes. Both endpoints share the same API key.
// Writes are bounded only by the caller's context; ReadTimeout bounds each read.
type Client struct {
	RPCEndpoint   string
	RelayEndpoint string
	APIKey        string
	PollInterval  time.Duration
	ReadTimeout   time.Duration
	HTTP          *http.Client
}

func NewClient(rpcEndpoint, relayEndpoint, apiKey string) *Client {
	return &Client{
		RPCEndpoint:   rpcEndpoint,
		RelayEndpoint: relayEndpoint,
		APIKey:        apiKey,
		PollInterval:  2 * time.Second,
		ReadTimeout:   12 * time.Second,
		HTTP:          &http.Client{},
	}
}

func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.ReadTimeout)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func (c *Client) call(ctx context.Context, endpoint, method string, params any) (gjson.Result, error) {
	if endpoint == "" || c.HTTP == nil {
		return gjson.Result{}, &ChainError{Op: method, Message: "client not configured"}
	}
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ton rpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ton rpc: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	// once the request is on the wire the node may have acted on it
	var wrote atomic.Bool
	req = req.WithContext(httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { wrote.Store(true) },
	}))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if wrote.Load() || ctx.Err() != nil {
			return gjson.Result{}, fmt.Errorf("%s: %w: %w", method, ErrOutcomeUnknown, err)
		}
		return gjson.Result{}, &ChainError{Op: method, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w: %w", method, ErrOutcomeUnknown, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &ChainError{
			Op:        method,
			Code:      resp.StatusCode,
			Message:   gjson.GetBytes(body, "error").String(),
			Transient: transientCode(resp.StatusCode),
		}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ChainError{Op: method, Transient: true, Message: "invalid response body"}
	}
	parsed := gjson.ParseBytes(body)
	// JSON-RPC error object, or toncenter's {"ok": false, "error": "...", "code": n}
	if e := parsed.Get("error"); e.Exists() && e.Type != gjson.Null {
		code := int(parsed.Get("error.code").Int())
		msg := parsed.Get("error.message").String()
		if !e.IsObject() {
			code = int(parsed.Get("code").Int())
			msg = e.String()
		}
		return gjson.Result{}, &ChainError{Op: method, Code: code, Message: msg, Transient: transientCode(code)}
	}
	if ok := parsed.Get("ok"); ok.Exists() && !ok.Bool() {
		return gjson.Result{}, &ChainError{Op: method, Code: int(parsed.Get("code").Int()), Message: "request rejected"}
	}
	return parsed.Get("result"), nil
}

// SubmitMint sends the mint through the relay and waits for the transaction to
// settle. A deadline while waiting yields ErrOutcomeUnknown.
func (c *Client) SubmitMint(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	if !ValidateAddress(req.Wallet) {
		return nil, &ChainError{Op: "mintNft", Message: "invalid owner address"}
	}
	result, err := c.call(ctx, c.RelayEndpoint, "mintNft", map[string]any{
		"owner_address": req.Wallet,
		"content_uri":   req.MetadataURL,
		"query_id":      req.QueryID,
	})
	if err != nil {
		return nil, err
	}
	receipt := &MintReceipt{
		NFTAddress: result.Get("nft_address").String(),
		TxHash:     result.Get("tx_hash").String(),
	}
	if receipt.TxHash == "" || receipt.NFTAddress == "" {
		// accepted but unacknowledged: only a lookup by query id can tell
		return nil, fmt.Errorf("mintNft: incomplete receipt: %w", ErrOutcomeUnknown)
	}
	if err := c.waitConfirmed(ctx, receipt.TxHash); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) waitConfirmed(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		state, err := c.TransactionState(ctx, txHash)
		switch {
		case errors.Is(err, ErrOutcomeUnknown):
			return err
		case err != nil && !IsTransient(err):
			return err
		case state == TX_CONFIRMED:
			return nil
		case state == TX_FAILED:
			return &ChainError{Op: "getTransaction", Message: "mint transaction aborted: " + txHash}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w: %w", txHash, ErrOutcomeUnknown, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LookupMint asks the relay for the mint tagged with queryID and checks its transaction.
func (c *Client) LookupMint(ctx context.Context, queryID uint64) (*MintReceipt, error) {
	rctx, cancel := c.readContext(ctx)
	result, err := c.call(rctx, c.RelayEndpoint, "getMintByQueryId", map[string]any{
		"query_id": queryID,
	})
	cancel()
	if err != nil {
		return nil, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}
	receipt := &MintReceipt{
		NFTAddress: result.Get("nft_address").String(),
		TxHash:     result.Get("tx_hash").String(),
	}
	if receipt.TxHash == "" {
		return nil, fmt.Errorf("getMintByQueryId %d: no tx hash yet: %w", queryID, ErrOutcomeUnknown)
	}
	state, err := c.TransactionState(ctx, receipt.TxHash)
	if err != nil {
		return nil, err
	}
	switch state {
	case TX_CONFIRMED:
		return receipt, nil
	case TX_FAILED:
		return nil, nil
	}
	return nil, fmt.Errorf("getMintByQueryId %d: tx %s %s: %w", queryID, receipt.TxHash, state, ErrOutcomeUnknown)
}

func (c *Client) TransactionState(ctx context.Context, txHash string) (TxState, error) {
	tx, err := c.getTransaction(ctx, txHash)
	if errors.Is(err, ErrTxNotFound) {
		return TX_NOT_FOUND, nil
	}
	if err != nil {
		return "", err
	}
	return txState(tx), nil
}

func (c *Client) getTransaction(ctx context.Context, txHash string) (gjson.Result, error) {
	rctx, cancel := c.readContext(ctx)
	defer cancel()
	result, err := c.call(rctx, c.RPCEndpoint, "getTransaction", map[string]any{
		"hash": txHash,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return gjson.Result{}, ErrTxNotFound
	}
	return result, nil
}

func txState(tx gjson.Result) TxState {
	if tx.Get("description.aborted").Bool() {
		return TX_FAILED
	}
	exit := tx.Get("description.compute_ph.exit_code")
	if !exit.Exists() {
		return TX_PENDING
	}
	if exit.Int() != 0 {
		return TX_FAILED
	}
	return TX_CONFIRMED
}
