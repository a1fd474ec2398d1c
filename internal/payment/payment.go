// Package payment talks to the external payment gateway.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/retry"
)

// StatusDone is the gateway status of a captured payment.
const StatusDone = "DONE"

// CodeAlreadyProcessed is the gateway's refusal to confirm a payment that was
// already captured.
const CodeAlreadyProcessed = "ALREADY_PROCESSED_PAYMENT"

// ConfirmRequest asks the gateway to capture a payment.
type ConfirmRequest struct {
	PaymentKey string
	OrderToken string
	Amount     int64
}

// Result is the gateway's verdict. Code is the gateway's error code on a
// refusal. OrderToken is the order the payment was made for, when known.
type Result struct {
	Approved   bool
	Amount     int64
	Status     string
	Code       string
	Reason     string
	OrderToken string
}

// Gateway confirms payments and reads back their state.
type Gateway interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*Result, error)
	// Lookup reports a payment's current state. Approved means captured.
	Lookup(ctx context.Context, paymentKey string) (*Result, error)
}

// Options configures Client.
type Options struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
}

// Client is the HTTP gateway implementation.
type Client struct {
	http   *http.Client
	base   string
	auth   string
	policy retry.Policy
	log    *zap.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient builds a Client. hc may be nil.
func NewClient(opts Options, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{
		http: hc,
		base: strings.TrimRight(opts.BaseURL, "/"),
		auth: "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.SecretKey+":")),
		log:  log,
	}
	c.policy = retry.Policy{
		Retries:   opts.Retries,
		Timeout:   opts.Timeout,
		BaseDelay: opts.BaseDelay,
		Notify: func(err error, wait time.Duration) {
			c.log.Warn("payment gateway attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
		},
	}
	return c
}

type confirmBody struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type paymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// transientError marks a response worth retrying.
type transientError struct{ status int }

func (e *transientError) Error() string { return fmt.Sprintf("gateway status %d", e.status) }

// Confirm captures the payment. Network errors, timeouts, 429 and 5xx are
// retried; after the last attempt the error wraps errs.ErrGatewayUnavailable.
// Any other 4xx, or a status other than DONE, is a rejection.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	body, err := json.Marshal(confirmBody{PaymentKey: req.PaymentKey, OrderID: req.OrderToken, Amount: req.Amount})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodPost, "/v1/payments/confirm", body)
}

// Lookup fetches the payment's state with the same retry rules as Confirm.
func (c *Client) Lookup(ctx context.Context, paymentKey string) (*Result, error) {
	return c.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentKey), nil)
}

func (c *Client) call(ctx context.Context, method, path string, body []byte) (*Result, error) {
	var res *Result
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		r, err := c.once(ctx, method, path, body)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGatewayUnavailable, err)
	}
	if res.Approved && res.Status != StatusDone {
		res.Approved = false
		res.Reason = "status " + res.Status
	}
	return res, nil
}

func (c *Client) once(ctx context.Context, method, path string, body []byte) (*Result, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", c.auth)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{status: resp.StatusCode}
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		reason := e.Code
		if e.Message != "" {
			reason = strings.TrimSpace(reason + " " + e.Message)
		}
		if reason == "" {
			reason = resp.Status
		}
		return &Result{Approved: false, Code: e.Code, Reason: reason}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ok paymentResponse
		if err := json.Unmarshal(raw, &ok); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
		return &Result{Approved: true, Amount: ok.TotalAmount, Status: ok.Status, OrderToken: ok.OrderID}, nil
	default:
		return nil, errors.New("unexpected gateway status " + resp.Status)
	}
}
