package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Состояния оплаты в колбэке
const (
	CallbackPaid   = "paid"
	CallbackFailed = "failed"
)

// PayoutState - состояние выплаты на стороне шлюза
type PayoutState string

const (
	PayoutAccepted   PayoutState = "accepted"
	PayoutRejected   PayoutState = "rejected"
	PayoutPending    PayoutState = "pending"
	PayoutProcessing PayoutState = "processing"
	PayoutCompleted  PayoutState = "completed"
	PayoutFailed     PayoutState = "failed"
)

// CheckoutRequest - данные для страницы оплаты. Reference = id эскроу.
type CheckoutRequest struct {
	Reference  string
	Amount     int64
	ItemName   string
	BuyerEmail string
}

type CheckoutSession struct {
	RedirectURL string
	GatewayRef  string
}

// Callback - проверенный колбэк шлюза
type Callback struct {
	Reference   string
	GatewayRef  string
	Status      string
	GrossAmount int64
}

type BankDetails struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountHolder string `json:"accountHolder"`
}

type PayoutRequest struct {
	Bank      BankDetails
	Amount    int64
	Reference string
}

type PayoutResult struct {
	PayoutRef string
	State     PayoutState
	Error     string
}

type PayoutStatus struct {
	State PayoutState
	Error string
}

type RefundRequest struct {
	GatewayRef string
	Amount     int64
	Reference  string
}

// PaymentProcessor - внешний платежный провайдер
type PaymentProcessor interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	VerifyCallback(body []byte) (*Callback, error)
	ExecutePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	QueryPayout(ctx context.Context, payoutRef string) (*PayoutStatus, error)
	RefundPayment(ctx context.Context, req RefundRequest) error
}

// ErrInvalidSignature - подпись колбэка не совпала
var ErrInvalidSignature = errors.New("invalid callback signature")

// Error - ошибка вызова шлюза. Retryable: 5xx, 429 и транспортные ошибки.
type Error struct {
	Op         string
	StatusCode int
	Retryable  bool
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable - ошибку шлюза имеет смысл повторить
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= 500 || code == 429
}

// FormatRands - центы в десятичные ранды с двумя знаками
func FormatRands(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseRands - десятичные ранды в центы
func ParseRands(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return int64(math.Round(f * 100)), nil
}
