package apperrors

// ErrorCode - тип для кодов ошибок
type ErrorCode string

// Сквозные коды ошибок. Каждый код соответствует одному тегу, который видит клиент.
const (
	// Системные ошибки
	CodeInternalError ErrorCode = "INTERNAL_ERROR"

	// Доступ
	CodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	// Ошибки бизнес-логики
	CodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	CodeStaleState        ErrorCode = "STALE_STATE"
	CodeOutOfOrder        ErrorCode = "OUT_OF_ORDER"

	// Внешние системы
	CodeGatewayError ErrorCode = "GATEWAY_ERROR"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
)
