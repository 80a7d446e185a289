package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so callers can classify failures with errors.Is without knowing the
// brokerage or storage technology behind them.
var (
	// General Errors
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")
	ErrConfiguration   = errors.New("invalid or missing configuration")

	// Transient brokerage errors: retried inside a monitor's loop, never
	// fatal to the monitor, but the retry still consumes timeout budget.
	ErrBrokerUnavailable = errors.New("brokerage API is unavailable")
	ErrConnectionFailed  = errors.New("failed to connect to the brokerage")
	ErrRateLimited       = errors.New("API rate limit exceeded")

	// Terminal brokerage errors: the brokerage rejected the request for
	// business reasons. Never retried automatically.
	ErrBrokerRejection      = errors.New("order rejected by the brokerage")
	ErrInsufficientFunds    = errors.New("insufficient buying power for order")
	ErrAuthenticationFailed = errors.New("brokerage authentication failed (check API keys)")
	ErrOrderNotFound        = errors.New("order not found at the brokerage")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Persistence errors: the store is unavailable. A state transition must
	// not be acted on externally until its write succeeds.
	ErrPersistence = errors.New("strategy store unavailable")
)

// IsTransient reports whether the error is worth retrying within a
// monitor's timeout budget.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRateLimited)
}
