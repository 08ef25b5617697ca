package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ClientConfig configures the HTTP ledger gateway client
type ClientConfig struct {
	Endpoint   string        `json:"endpoint"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"`
}

// Client talks to a ledger gateway over HTTP.
// Only read calls are retried; transfers are never repeated by the client.
type Client struct {
	http   *resty.Client
	reads  *resty.Client
	logger *zap.Logger
}

type feeResponse struct {
	Fee uint64 `json:"fee"`
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

type transferRequest struct {
	Spender *Account `json:"spender,omitempty"`
	From    Account  `json:"from"`
	To      Account  `json:"to"`
	Amount  uint64   `json:"amount"`
}

type transferResponse struct {
	TxID uint64 `json:"tx_id"`
}

type errorResponse struct {
	Error    string         `json:"error"`
	Transfer *TransferError `json:"transfer_error,omitempty"`
}

// NewClient creates a ledger gateway client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	transfers := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	reads := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond)

	return &Client{http: transfers, reads: reads, logger: logger}
}

func (c *Client) Fee(ctx context.Context) (uint64, error) {
	var out feeResponse
	if err := c.get(ctx, "fee", "/fee", nil, &out); err != nil {
		return 0, err
	}
	return out.Fee, nil
}

func (c *Client) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	var out balanceResponse
	params := map[string]string{"account": account.String()}
	if err := c.get(ctx, "balance_of", "/balances", params, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) Allowance(ctx context.Context, owner, spender Account) (Allowance, error) {
	var out Allowance
	params := map[string]string{"owner": owner.String(), "spender": spender.String()}
	if err := c.get(ctx, "allowance", "/allowances", params, &out); err != nil {
		return Allowance{}, err
	}
	return out, nil
}

func (c *Client) Transfer(ctx context.Context, from, to Account, amount uint64) (uint64, error) {
	return c.transfer(ctx, "transfer", "/transfers", transferRequest{From: from, To: to, Amount: amount})
}

func (c *Client) TransferFrom(ctx context.Context, spender, from, to Account, amount uint64) (uint64, error) {
	req := transferRequest{Spender: &spender, From: from, To: to, Amount: amount}
	return c.transfer(ctx, "transfer_from", "/transfers/from", req)
}

func (c *Client) get(ctx context.Context, op, path string, params map[string]string, out interface{}) error {
	errBody := &errorResponse{}
	res, err := c.reads.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		SetError(errBody).
		Get(path)
	if err != nil {
		return &CallError{Actor: "ledger", Op: op, Err: err}
	}
	if res.IsError() {
		return &CallError{Actor: "ledger", Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode(), errBody.Error)}
	}
	return nil
}

func (c *Client) transfer(ctx context.Context, op, path string, body transferRequest) (uint64, error) {
	var out transferResponse
	errBody := &errorResponse{}
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(errBody).
		Post(path)
	if err != nil {
		c.logger.Error("Ledger call failed", zap.String("op", op), zap.Error(err))
		return 0, &CallError{Actor: "ledger", Op: op, Err: err}
	}
	if res.IsError() {
		if errBody.Transfer != nil {
			return 0, errBody.Transfer
		}
		if res.StatusCode() == http.StatusConflict || res.StatusCode() == http.StatusUnprocessableEntity {
			return 0, &TransferError{Kind: TransferGeneric, Message: errBody.Error}
		}
		return 0, &CallError{Actor: "ledger", Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode(), errBody.Error)}
	}

	c.logger.Debug("Ledger transfer completed",
		zap.String("op", op),
		zap.String("from", body.From.String()),
		zap.String("to", body.To.String()),
		zap.Uint64("amount", body.Amount),
		zap.Uint64("tx_id", out.TxID),
		zap.Duration("elapsed", time.Since(start)))
	return out.TxID, nil
}
