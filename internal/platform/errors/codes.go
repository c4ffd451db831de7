// Package errors provides structured domain errors shared by the API layers.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInvalidRole      Code = "INVALID_ROLE"
	CodeInvalidFilter    Code = "INVALID_FILTER"
	CodeInvalidPageToken Code = "INVALID_PAGE_TOKEN"
	CodeInvalidBody      Code = "INVALID_BODY"
	CodeBodyTooLarge     Code = "BODY_TOO_LARGE"

	// Registration errors
	CodeUserAlreadyExists    Code = "USER_ALREADY_EXISTS"
	CodeInvalidDiscountCode  Code = "INVALID_DISCOUNT_CODE"
	CodeCurrentPasswordWrong Code = "CURRENT_PASSWORD_INCORRECT"
	CodeInvalidResetToken    Code = "INVALID_RESET_TOKEN"

	// Authentication errors
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeTokenRequired      Code = "TOKEN_REQUIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenRevoked       Code = "TOKEN_REVOKED"
	CodeTokenUserMissing   Code = "TOKEN_USER_MISSING"

	// Authorization errors
	CodeForbidden    Code = "FORBIDDEN"
	CodeCSRFRequired Code = "CSRF_REQUIRED"
	CodeCSRFInvalid  Code = "CSRF_INVALID"

	// Storage errors
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeTenantUnavailable Code = "TENANT_UNAVAILABLE"

	// Delivery errors
	CodeMailDelivery Code = "MAIL_DELIVERY_FAILED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// 400 - validation failures, bad input
	case CodeValidationFailed,
		CodeInvalidRole,
		CodeInvalidFilter,
		CodeInvalidPageToken,
		CodeInvalidBody,
		CodeInvalidDiscountCode,
		CodeCurrentPasswordWrong,
		CodeInvalidResetToken:
		return http.StatusBadRequest

	// 401 - missing or bad credentials
	case CodeInvalidCredentials,
		CodeTokenRequired,
		CodeTokenInvalid,
		CodeTokenExpired,
		CodeTokenRevoked,
		CodeTokenUserMissing:
		return http.StatusUnauthorized

	// 403 - authenticated but not allowed
	case CodeForbidden,
		CodeCSRFRequired,
		CodeCSRFInvalid:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	// 409 - unique resource constraint
	case CodeUserAlreadyExists,
		CodeAlreadyExists:
		return http.StatusConflict

	case CodeBodyTooLarge:
		return http.StatusRequestEntityTooLarge

	// 423 - lockout
	case CodeAccountLocked:
		return http.StatusLocked

	default:
		return http.StatusInternalServerError
	}
}
