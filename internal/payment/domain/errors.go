package domain

import "errors"

// Sentinel errors shared by all adapters. Callers branch with errors.Is; the
// ProviderError wrapper adds per-call detail without losing the class.
var (
	ErrInvalidConfig     = errors.New("invalid_config")
	ErrProviderNotFound  = errors.New("provider_not_found")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrEventIgnored      = errors.New("event_ignored")
	ErrMissingCredential = errors.New("missing_credential")

	// ErrProviderUnavailable covers timeouts, 5xx and rate limits. Work
	// stays non-terminal and the reconciliation sweep retries it.
	ErrProviderUnavailable = errors.New("provider_unavailable")
	// ErrPaymentDeclined is a definitive rejection (declined card,
	// insufficient funds, revoked consent). Never retried within a cycle.
	ErrPaymentDeclined = errors.New("payment_declined")
	// ErrDuplicateRequest signals the provider deduplicated our idempotency
	// key. Treated as success/no-op by callers.
	ErrDuplicateRequest = errors.New("duplicate_request")
	ErrOrderNotFound    = errors.New("order_not_found")
)

// ProviderError wraps a provider API failure with its raw code/message while
// keeping errors.Is matching against the sentinel class.
type ProviderError struct {
	Class   error
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Class.Error() + ": " + e.Message
	}
	return e.Class.Error() + ": " + e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Class }

// NewProviderError builds a classified provider failure.
func NewProviderError(class error, code, message string) error {
	return &ProviderError{Class: class, Code: code, Message: message}
}

// Retryable reports whether err is worth retrying on a later pass.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
