package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config - параметры HTTP-клиента шлюза
type Config struct {
	BaseURL    string
	MerchantID string
	SecretKey  string
	ReturnURL  string
	CancelURL  string
	NotifyURL  string
	Timeout    time.Duration
	RPS        float64
	Burst      int
}

// Client - PaymentProcessor поверх HTTP API шлюза
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// =============================================================================
// API Methods
// =============================================================================

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("merchantId", c.cfg.MerchantID)
	form.Set("amount", FormatRands(req.Amount))
	form.Set("itemName", req.ItemName)
	form.Set("returnUrl", c.cfg.ReturnURL)
	form.Set("cancelUrl", c.cfg.CancelURL)
	form.Set("notifyUrl", c.cfg.NotifyURL)
	form.Set("reference", req.Reference)
	form.Set("buyerEmail", req.BuyerEmail)

	body, err := c.do(ctx, "checkout", http.MethodPost, "/checkout",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	session := &CheckoutSession{
		RedirectURL: res.Get("redirectUrl").String(),
		GatewayRef:  res.Get("gatewayRef").String(),
	}
	if session.RedirectURL == "" {
		return nil, &Error{Op: "checkout", Detail: "response has no redirectUrl"}
	}
	return session, nil
}

func (c *Client) VerifyCallback(body []byte) (*Callback, error) {
	if err := VerifySignature(c.cfg.SecretKey, body); err != nil {
		return nil, err
	}
	return parseCallback(body)
}

func (c *Client) ExecutePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"recipientBank": req.Bank,
		"amount":        FormatRands(req.Amount),
		"reference":     req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payout request: %w", err)
	}

	body, err := c.do(ctx, "payout", http.MethodPost, "/payout", "application/json", payload)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	result := &PayoutResult{
		PayoutRef: res.Get("payoutRef").String(),
		State:     PayoutState(res.Get("state").String()),
		Error:     res.Get("error").String(),
	}
	if result.State != PayoutAccepted && result.State != PayoutRejected {
		return nil, &Error{Op: "payout", Detail: "unexpected payout state " + string(result.State)}
	}
	return result, nil
}

func (c *Client) QueryPayout(ctx context.Context, payoutRef string) (*PayoutStatus, error) {
	body, err := c.do(ctx, "payout_status", http.MethodGet, "/payout/"+url.PathEscape(payoutRef), "", nil)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	return &PayoutStatus{
		State: PayoutState(res.Get("state").String()),
		Error: res.Get("error").String(),
	}, nil
}

func (c *Client) RefundPayment(ctx context.Context, req RefundRequest) error {
	payload, err := json.Marshal(map[string]string{
		"gatewayRef": req.GatewayRef,
		"amount":     FormatRands(req.Amount),
		"reference":  req.Reference,
	})
	if err != nil {
		return fmt.Errorf("marshal refund request: %w", err)
	}
	_, err = c.do(ctx, "refund", http.MethodPost, "/refund", "application/json", payload)
	return err
}

// do выполняет подписанный запрос и классифицирует ошибки
func (c *Client) do(ctx context.Context, op, method, path, contentType string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: op, Retryable: true, Err: err}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Merchant-Id", c.cfg.MerchantID)
	httpReq.Header.Set("X-Signature", Sign(c.cfg.SecretKey, payload))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordGatewayCall(op, duration, false)
		logger.HTTPLog(method, endpoint, 0, duration, err)
		return nil, &Error{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordGatewayCall(op, duration, false)
		return nil, &Error{Op: op, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordGatewayCall(op, duration, ok)
	if !ok {
		detail := gjson.GetBytes(body, "error").String()
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		gwErr := &Error{Op: op, StatusCode: resp.StatusCode, Retryable: retryableStatus(resp.StatusCode), Detail: detail}
		logger.HTTPLog(method, endpoint, resp.StatusCode, duration, gwErr)
		return nil, gwErr
	}
	logger.HTTPLog(method, endpoint, resp.StatusCode, duration, nil)
	return body, nil
}
