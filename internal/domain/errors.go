package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the top-level failure category surfaced to the UI
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindConnectivity        ErrorKind = "ConnectivityError"
	KindProvider            ErrorKind = "ProviderError"
	KindStorage             ErrorKind = "StorageError"
	KindContract            ErrorKind = "ContractError"
	KindVerificationWarning ErrorKind = "VerificationWarning"
	KindTimeout             ErrorKind = "Timeout"
	KindRunInProgress       ErrorKind = "RunAlreadyInProgress"
	KindCancelled           ErrorKind = "Cancelled"
)

// Reason narrows an ErrorKind to the concrete cause
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInvalidConfig         Reason = "InvalidConfig"
	ReasonSignerUnavailable     Reason = "SignerUnavailable"
	ReasonWrongNetwork          Reason = "WrongNetwork"
	ReasonConnectionTimeout     Reason = "ConnectionTimeout"
	ReasonInferenceProvider     Reason = "InferenceProviderError"
	ReasonMalformedInference    Reason = "MalformedInferenceResponse"
	ReasonStorageUpload         Reason = "StorageUploadFailed"
	ReasonRootMismatch          Reason = "RootMismatch"
	ReasonNotFound              Reason = "NotFound"
	ReasonProofInvalid          Reason = "ProofInvalid"
	ReasonContractRejected      Reason = "ContractRejected"
	ReasonInsufficientFunds     Reason = "InsufficientFunds"
	ReasonUserRejectedSignature Reason = "UserRejectedSignature"
	ReasonTransactionPending    Reason = "TransactionPending"
	ReasonAttestationFailed     Reason = "AttestationFailed"
	ReasonUserCancelled         Reason = "UserCancelled"
)

// Error is the typed failure returned by the arena clients and the saga
type Error struct {
	Kind    ErrorKind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Reason != ReasonNone {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error with a formatted message
func NewError(kind ErrorKind, reason Reason, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and reason to an underlying error
func WrapError(kind ErrorKind, reason Reason, err error, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// FromContext converts context errors into a Timeout or Cancelled error and
// otherwise wraps err with the fallback kind and reason. Typed errors pass through.
func FromContext(err error, kind ErrorKind, reason Reason, message string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, reason, err, message)
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(KindCancelled, ReasonUserCancelled, err, message)
	}
	return WrapError(kind, reason, err, message)
}

// KindOf returns the kind of a typed error, or "" for untyped errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of a typed error
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// IsKind returns true if err is a typed error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsReason returns true if err is a typed error with the given reason
func IsReason(err error, reason Reason) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason == reason
	}
	return false
}

// IsTimeout returns true for Timeout errors
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// IsNotFound returns true when the requested object does not exist
func IsNotFound(err error) bool {
	return IsReason(err, ReasonNotFound)
}
