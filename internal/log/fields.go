package log

import (
	"errors"
	"net/http"

	"creatorbank/internal/core"
)

// Attribute keys shared across packages.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldUserID     = "user_id"
	FieldEarningID  = "earning_id"
	FieldPlatformID = "platform_id"
	FieldAmount     = "amount"
	FieldCurrency   = "currency"
	FieldTaxable    = "taxable"
	FieldTaxStatus  = "tax_status"
)

const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentEarnings = "earnings"
	ComponentTax      = "tax"
)

const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeConflict   = "conflict_error"
	ErrorTypeInternal   = "internal_error"
)

// ErrorType classifies err by the domain error kinds.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return ErrorTypeConflict
	default:
		return ErrorTypeInternal
	}
}

// ErrorAttrs returns the error message and its category.
func ErrorAttrs(err error) []any {
	return []any{FieldError, err.Error(), FieldErrorType, ErrorType(err)}
}

// EarningAttrs describes an earning. Amounts are logged as decimal strings.
func EarningAttrs(e core.Earning) []any {
	return []any{
		FieldEarningID, e.ID,
		FieldUserID, e.UserID,
		FieldPlatformID, e.PlatformID,
		FieldAmount, e.Amount.String(),
		FieldCurrency, e.Currency,
		FieldTaxable, e.IsTaxable,
		FieldTaxStatus, string(e.TaxStatus),
	}
}

func requestAttrs(r *http.Request, clientIP string) []any {
	return []any{
		FieldMethod, r.Method,
		FieldPath, r.URL.Path,
		FieldQuery, r.URL.RawQuery,
		FieldClientIP, clientIP,
	}
}
