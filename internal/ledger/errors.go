package ledger

import "errors"

// Error kinds for all core operations. Every failure wraps exactly one of
// these sentinels so callers can branch with errors.Is — e.g. retry on
// ErrInsufficientBacking (the pool may grow) but not on ErrInvalidState
// (terminal policy, duplicate event key).
var (
	// ErrInvalidInput: zero amounts, empty identifiers, nil identities.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound: unknown policy ID or event key.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized: caller lacks the required capability or identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState: operation on a terminal or paused entity, duplicate
	// event key, or a time window that has not elapsed yet.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds: withdrawal/claim exceeds available balance,
	// or an allowance is exhausted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientBacking: capital ratio not met at policy creation.
	ErrInsufficientBacking = errors.New("insufficient backing")
)

// Kind returns a stable short name for the error's taxonomy kind, for use in
// metric labels and API error codes. Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientBacking):
		return "insufficient_backing"
	default:
		return "internal"
	}
}

// Retryable reports whether the failure may succeed on a later attempt with
// no other intervention. Only backing shortfalls qualify: the pool can grow
// as capital providers deposit.
func Retryable(err error) bool {
	return errors.Is(err, ErrInsufficientBacking)
}
