package market

import (
	"errors"
	"fmt"

	"github.com/xraph/market/settlement"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("market: not found")
	ErrAlreadyExists = errors.New("market: already exists")
	ErrInvalidInput  = errors.New("market: invalid input")
	ErrUnauthorized  = errors.New("market: caller is not the owner")

	// Product errors
	ErrProductNotFound       = fmt.Errorf("%w: product does not exist", ErrNotFound)
	ErrInactiveProduct       = errors.New("market: product is not active")
	ErrSelfTradeForbidden    = errors.New("market: seller cannot buy own product")
	ErrInsufficientInventory = errors.New("market: not enough quantity")
	ErrInsufficientPayment   = errors.New("market: not enough payment sent")

	// Fee errors
	ErrNothingToWithdraw = errors.New("market: no fees to withdraw")

	// Execution errors
	ErrReentrancy         = errors.New("market: reentrant call")
	ErrArithmeticOverflow = errors.New("market: arithmetic overflow")
	ErrSettlementFailed   = errors.New("market: settlement failed")
	ErrLockTimeout        = errors.New("market: timed out waiting for ledger lock")
	ErrNotStarted         = errors.New("market: ledger not started")

	// Store errors
	ErrStoreNotReady = errors.New("market: store not ready")
)

// ValidationError represents a malformed argument. It unwraps to
// ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("market: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Reason codes returned by Reason. They are stable and safe to expose to
// API clients.
const (
	ReasonOK                    = ""
	ReasonInvalidInput          = "INVALID_INPUT"
	ReasonNotFound              = "NOT_FOUND"
	ReasonAlreadyExists         = "ALREADY_EXISTS"
	ReasonInactiveProduct       = "INACTIVE_PRODUCT"
	ReasonSelfTradeForbidden    = "SELF_TRADE_FORBIDDEN"
	ReasonInsufficientInventory = "INSUFFICIENT_INVENTORY"
	ReasonInsufficientPayment   = "INSUFFICIENT_PAYMENT"
	ReasonUnauthorized          = "UNAUTHORIZED"
	ReasonNothingToWithdraw     = "NOTHING_TO_WITHDRAW"
	ReasonReentrancy            = "REENTRANCY"
	ReasonArithmeticOverflow    = "ARITHMETIC_OVERFLOW"
	ReasonSettlementFailed      = "SETTLEMENT_FAILED"
	ReasonLockTimeout           = "LOCK_TIMEOUT"
	ReasonNotStarted            = "NOT_STARTED"
	ReasonStoreNotReady         = "STORE_NOT_READY"
	ReasonInternal              = "INTERNAL"
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, ReasonInvalidInput},
	{ErrNotFound, ReasonNotFound},
	{ErrAlreadyExists, ReasonAlreadyExists},
	{ErrInactiveProduct, ReasonInactiveProduct},
	{ErrSelfTradeForbidden, ReasonSelfTradeForbidden},
	{ErrInsufficientInventory, ReasonInsufficientInventory},
	{ErrInsufficientPayment, ReasonInsufficientPayment},
	{ErrUnauthorized, ReasonUnauthorized},
	{ErrNothingToWithdraw, ReasonNothingToWithdraw},
	{ErrReentrancy, ReasonReentrancy},
	{ErrArithmeticOverflow, ReasonArithmeticOverflow},
	{ErrSettlementFailed, ReasonSettlementFailed},
	{ErrLockTimeout, ReasonLockTimeout},
	{ErrNotStarted, ReasonNotStarted},
	{ErrStoreNotReady, ReasonStoreNotReady},
}

// Reason maps err to a stable reason code. nil maps to ReasonOK and
// unrecognised errors to ReasonInternal.
func Reason(err error) string {
	if err == nil {
		return ReasonOK
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ReasonInternal
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStateError returns true if the operation was rejected by a check
// against current ledger state rather than by a malformed argument.
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInactiveProduct) ||
		errors.Is(err, ErrSelfTradeForbidden) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNothingToWithdraw)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, settlement.ErrInsufficientFunds)
}
