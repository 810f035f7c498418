package apperrors

import (
	"net/http"
)

// =========================================================================
// Фабрики доменных ошибок
// =========================================================================

// ErrNotFound - сущность отсутствует или не видна принципалу (404)
func ErrNotFound(domain, message string) *AppError {
	return New(CodeNotFound, domain, message, http.StatusNotFound)
}

// ErrConflict - конфликт версии строки, нужно перечитать и повторить (409)
func ErrConflict(err error, domain, message string) *AppError {
	return Wrap(err, CodeConflict, domain, message, http.StatusConflict)
}

// ErrIllegalTransition - машина состояний отказала в переходе (409)
func ErrIllegalTransition(domain string, from, to string) *AppError {
	return New(CodeIllegalTransition, domain, "Transition "+from+" -> "+to+" is not allowed", http.StatusConflict).
		WithDetails(map[string]string{"from": from, "to": to})
}

// ErrStaleState - ожидаемый статус не совпал с текущим (409)
func ErrStaleState(domain, expected, actual string) *AppError {
	return New(CodeStaleState, domain, "Entity state changed, re-read and retry", http.StatusConflict).
		WithDetails(map[string]string{"expected": expected, "actual": actual})
}

// ErrOutOfOrder - этап нельзя начать, пока предыдущие не приняты (409)
func ErrOutOfOrder(domain string, blockingOrdinal int) *AppError {
	return New(CodeOutOfOrder, domain, "Previous milestones must be approved first", http.StatusConflict).
		WithDetails(map[string]int{"blocking_ordinal": blockingOrdinal})
}

// GatewayError - ошибка платежного шлюза
func GatewayError(err error, retryable bool, detail string) *AppError {
	return Wrap(err, CodeGatewayError, "payment", "Payment provider error", http.StatusBadGateway).
		WithDetails(map[string]interface{}{"retryable": retryable, "detail": detail})
}

// Timeout - истек дедлайн запроса (504)
func Timeout(err error) *AppError {
	return Wrap(err, CodeTimeout, "system", "Request deadline exceeded", http.StatusGatewayTimeout)
}

// =========================================================================
// Предопределенные ПЕРЕМЕННЫЕ
// =========================================================================

var ErrRoleRequired = New(
	CodeUnauthorized,
	"auth",
	"Operation is not available for your role",
	http.StatusForbidden,
)

var ErrNotOwner = New(
	CodeUnauthorized,
	"auth",
	"You are not the designated actor for this operation",
	http.StatusForbidden,
)

var ErrRateLimited = New(
	CodeRateLimited,
	"request",
	"Too many requests",
	http.StatusTooManyRequests,
)

var ErrInvalidSignature = New(
	CodeGatewayError,
	"payment",
	"Callback signature mismatch",
	http.StatusBadRequest,
).WithDetails(map[string]interface{}{"retryable": false, "detail": "signature mismatch"})
