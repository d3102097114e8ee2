// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Every
// error response carries one of these alongside the HTTP status:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "transaction not found"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Payments:
	ErrCodeInvalidAmount   = "invalid_amount"
	ErrCodeUnsupported     = "unsupported_platform"
	ErrCodeInitiateFailed  = "initiate_failed"
	ErrCodeQueryFailed     = "query_failed"
	ErrCodeListFailed      = "list_failed"
	ErrCodeExpireFailed    = "expire_failed"
	ErrCodeInvalidDateSpan = "invalid_date_range"
)
