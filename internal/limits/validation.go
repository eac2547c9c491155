package limits

// ValidationState classifies a pending transaction after validation.
type ValidationState int

const (
	// ValidationUninitialized means the transaction has not been
	// validated yet.
	ValidationUninitialized ValidationState = iota
	// ValidationCanExecute means every check passed.
	ValidationCanExecute
	// ValidationInsufficientFunds means the amount exceeds the
	// actionable balance.
	ValidationInsufficientFunds
	// ValidationBelowMinimumLimit means the amount is under the
	// effective floor.
	ValidationBelowMinimumLimit
	// ValidationOverSilverTierLimit means the amount exceeds the
	// ceiling and the user is not fully verified.
	ValidationOverSilverTierLimit
	// ValidationOverGoldTierLimit means the amount exceeds the ceiling
	// even for a fully verified user.
	ValidationOverGoldTierLimit
	// ValidationUnknownError means validation could not complete, e.g.
	// limits were missing when they were needed.
	ValidationUnknownError
)

func (s ValidationState) String() string {
	switch s {
	case ValidationUninitialized:
		return "uninitialized"
	case ValidationCanExecute:
		return "can_execute"
	case ValidationInsufficientFunds:
		return "insufficient_funds"
	case ValidationBelowMinimumLimit:
		return "below_minimum_limit"
	case ValidationOverSilverTierLimit:
		return "over_silver_tier_limit"
	case ValidationOverGoldTierLimit:
		return "over_gold_tier_limit"
	case ValidationUnknownError:
		return "unknown_error"
	}
	return "unknown"
}

// ValidationError is a recoverable, user-facing validation failure.
// It never carries transport errors; those propagate as plain errors.
type ValidationError struct {
	State ValidationState
}

func (e *ValidationError) Error() string {
	return "transaction validation failed: " + e.State.String()
}

// NewValidationError wraps a state as an error.
func NewValidationError(state ValidationState) *ValidationError {
	return &ValidationError{State: state}
}
