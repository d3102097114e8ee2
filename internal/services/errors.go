// Package services holds the payment business logic: push initiation, status
// queries and callback reconciliation. This file centralizes the service-level
// error values so that callers can check them with errors.Is.
//
// Provider failures are not listed here; they are typed in package mpesa
// (AuthError, TransportError, ProviderRejection). Translation into HTTP status
// codes happens in the handler layer.
package services

import "errors"

var (
	// ErrTransactionNotFound indicates that no transaction matches the given
	// id or checkout request id for the caller.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPaymentRequestNotFound indicates that no payment request with the
	// given id belongs to the caller.
	ErrPaymentRequestNotFound = errors.New("payment request not found")

	// ErrMalformedCallback is recorded when a callback carries no
	// CheckoutRequestID.
	ErrMalformedCallback = errors.New("invalid callback data")

	// ErrAlreadyProcessed marks an idempotent no-op. It is reported to the
	// provider as success.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInvalidAmount is returned when the amount is not a positive number of
	// whole shillings.
	ErrInvalidAmount = errors.New("amount must be at least 1")

	// ErrStaleTransition is returned when a conditional status update matched
	// no row because another writer moved the transaction first.
	ErrStaleTransition = errors.New("transaction already moved to a terminal state")

	// ErrMissingLookup is returned by QueryStatus when neither a checkout
	// request id nor a transaction id was supplied.
	ErrMissingLookup = errors.New("checkout_request_id or transaction_id is required")
)
