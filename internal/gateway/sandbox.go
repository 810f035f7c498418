package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Sandbox - детерминированный процессор в памяти (gateway.mode: sandbox).
// Выплаты принимаются и сразу считаются завершенными, если не задан сценарий.
type Sandbox struct {
	secret  string
	baseURL string

	mu            sync.Mutex
	payoutErrs    []error
	payoutResults []PayoutResult
	statuses      map[string]PayoutStatus
	payouts       []PayoutRequest
	refunds       []RefundRequest
	refundErrs    []error
	seq           int
}

func NewSandbox(secret, baseURL string) *Sandbox {
	return &Sandbox{
		secret:   secret,
		baseURL:  baseURL,
		statuses: make(map[string]PayoutStatus),
	}
}

func (s *Sandbox) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return &CheckoutSession{
		RedirectURL: fmt.Sprintf("%s/sandbox/checkout/%s", s.baseURL, req.Reference),
		GatewayRef:  "sbx_" + req.Reference,
	}, nil
}

func (s *Sandbox) VerifyCallback(body []byte) (*Callback, error) {
	if err := VerifySignature(s.secret, body); err != nil {
		return nil, err
	}
	return parseCallback(body)
}

func (s *Sandbox) ExecutePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.payoutErrs) > 0 {
		err := s.payoutErrs[0]
		s.payoutErrs = s.payoutErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.payouts = append(s.payouts, req)

	if len(s.payoutResults) > 0 {
		res := s.payoutResults[0]
		s.payoutResults = s.payoutResults[1:]
		return &res, nil
	}
	s.seq++
	ref := fmt.Sprintf("sbx_payout_%d", s.seq)
	if _, ok := s.statuses[ref]; !ok {
		s.statuses[ref] = PayoutStatus{State: PayoutCompleted}
	}
	return &PayoutResult{PayoutRef: ref, State: PayoutAccepted}, nil
}

func (s *Sandbox) QueryPayout(ctx context.Context, payoutRef string) (*PayoutStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[payoutRef]
	if !ok {
		return nil, &Error{Op: "payout_status", StatusCode: 404, Detail: "unknown payout " + payoutRef}
	}
	return &st, nil
}

func (s *Sandbox) RefundPayment(ctx context.Context, req RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refundErrs) > 0 {
		err := s.refundErrs[0]
		s.refundErrs = s.refundErrs[1:]
		if err != nil {
			return err
		}
	}
	s.refunds = append(s.refunds, req)
	return nil
}

// ---- сценарии ----

// FailPayouts ставит в очередь ошибки для следующих ExecutePayout (nil - успех)
func (s *Sandbox) FailPayouts(errs ...error) {
	s.mu.Lock()
	s.payoutErrs = append(s.payoutErrs, errs...)
	s.mu.Unlock()
}

// QueuePayoutResult задает ответ следующего ExecutePayout
func (s *Sandbox) QueuePayoutResult(res PayoutResult) {
	s.mu.Lock()
	s.payoutResults = append(s.payoutResults, res)
	s.mu.Unlock()
}

// SetPayoutStatus задает ответ QueryPayout
func (s *Sandbox) SetPayoutStatus(payoutRef string, st PayoutStatus) {
	s.mu.Lock()
	s.statuses[payoutRef] = st
	s.mu.Unlock()
}

func (s *Sandbox) FailRefunds(errs ...error) {
	s.mu.Lock()
	s.refundErrs = append(s.refundErrs, errs...)
	s.mu.Unlock()
}

func (s *Sandbox) Payouts() []PayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PayoutRequest(nil), s.payouts...)
}

func (s *Sandbox) Refunds() []RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefundRequest(nil), s.refunds...)
}

// Callback подписывает колбэк так, как это сделал бы шлюз
func (s *Sandbox) Callback(reference, status string, gross int64) []byte {
	return SignedCallback(s.secret, reference, "sbx_"+reference, status, gross)
}

// New выбирает реализацию по режиму
func New(mode string, cfg Config) PaymentProcessor {
	if mode == "live" {
		return NewClient(cfg)
	}
	return NewSandbox(cfg.SecretKey, cfg.BaseURL)
}
