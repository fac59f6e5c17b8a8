package ecash

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Kind tags an error with one of the seven classes of §7.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindTransport     Kind = "transport"
	KindOraclePolicy  Kind = "oracle_policy"
	KindState         Kind = "state"
	KindInconsistency Kind = "inconsistency"
	KindCritical      Kind = "critical"
	KindTimeout       Kind = "timeout"
)

// Error is the coordinator's single error type. Every error surfaced above
// the Operation Coordinator boundary (§7 "propagation policy") is wrapped
// into one of these so callers can switch on Kind/Code without parsing
// strings.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error

	// Stack is only populated for KindCritical errors, where an operator
	// may need to reconcile out-of-band and wants to know exactly where
	// the failure happened.
	Stack string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a plain (non-critical) tagged error, wrapping cause with
// xerrors so %w-style chains survive errors.Is/As across package
// boundaries.
func New(kind Kind, code, msg string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = xerrors.Errorf("%s: %w", msg, cause)
	}
	return &Error{Kind: kind, Code: code, Message: msg, Cause: wrapped}
}

// NewCritical builds a KindCritical error and captures a stack trace via
// go-errors/errors, since Critical-class failures (§7: mint acted but the
// ledger commit failed) require out-of-band manual reconciliation and the
// stack is often the only hint of which commit step was in flight.
func NewCritical(code, msg string, cause error) *Error {
	if cause == nil {
		cause = fmt.Errorf("%s", msg)
	}
	stacked := goerrors.Wrap(cause, 1)
	return &Error{
		Kind:    KindCritical,
		Code:    code,
		Message: msg,
		Cause:   stacked,
		Stack:   string(stacked.Stack()),
	}
}

// Error codes referenced directly by spec.md.
const (
	CodeProofStateInconsistency   = "PROOF_STATE_INCONSISTENCY"
	CodeCriticalDBFailureAfterMint = "CRITICAL_DB_FAILURE_AFTER_MINT_SUCCESS"
	CodeWalletNotFound             = "WALLET_NOT_FOUND"
	CodePendingCapExceeded          = "PENDING_CAP_EXCEEDED"
	CodeAmountOutOfRange            = "AMOUNT_OUT_OF_RANGE"
	CodeInvalidUserKey              = "INVALID_USER_KEY"
	CodeIllegalTransition           = "ILLEGAL_TRANSITION"
	CodeInsufficientFunds           = "INSUFFICIENT_FUNDS"
	CodePollingTimeout              = "POLLING_TIMEOUT"
)

// IsCritical reports whether err (or something it wraps) is a Critical-class
// Error. Critical errors must never be retried automatically (§7).
func IsCritical(err error) bool {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind == KindCritical
	}
	return false
}
