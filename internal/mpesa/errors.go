package mpesa

import (
	"errors"
	"fmt"
)

// AuthError means an access token could not be obtained, either because the
// credentials were rejected or the OAuth endpoint was unreachable.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("mpesa auth: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("mpesa auth: status=%d body=%s", e.Status, e.Body)
	default:
		return "mpesa auth failed"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError covers network failures and unexpected non-2xx responses
// that do not carry a provider error envelope.
type TransportError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mpesa %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("mpesa %s: status=%d body=%s", e.Endpoint, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderRejection is a well-formed refusal from the provider, such as an
// invalid shortcode or a request that is still being processed.
type ProviderRejection struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderRejection) Error() string {
	return fmt.Sprintf("mpesa %s rejected: %s (code=%s)", e.Endpoint, e.Message, e.Code)
}

// ErrorCodeStillProcessing is returned by the query endpoint while the
// customer has not yet answered the prompt.
const ErrorCodeStillProcessing = "500.001.1001"

// IsStillProcessing reports whether err is the provider's "still being
// processed" rejection.
func IsStillProcessing(err error) bool {
	var pr *ProviderRejection
	return errors.As(err, &pr) && pr.Code == ErrorCodeStillProcessing
}

// Describe returns the message a caller should see for err.
func Describe(err error) string {
	var (
		pr *ProviderRejection
		ae *AuthError
		te *TransportError
	)
	switch {
	case errors.As(err, &pr):
		if pr.Message != "" {
			return pr.Message
		}
		return "payment request rejected by provider"
	case errors.As(err, &ae):
		return "Failed to get M-Pesa access token"
	case errors.As(err, &te):
		return "M-Pesa service unavailable: " + te.Error()
	case err != nil:
		return err.Error()
	}
	return ""
}
