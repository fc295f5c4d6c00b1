package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Pair with NewSubSystemError for subsystem-specific codes.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrDeclined     = fmt.Errorf("declined by user")
)

// Wizard engine sentinels.
var (
	// ErrGateRejected marks a recoverable validation failure: the user must
	// change input and the current step stays unchanged.
	ErrGateRejected = fmt.Errorf("step gate rejected transition")
	// ErrAuthorityUnavailable marks a failed remote call. Callers degrade to a
	// safe default instead of blocking.
	ErrAuthorityUnavailable = fmt.Errorf("authority unavailable")
	// ErrBoundsViolation is a programming error: a step index outside 1..N.
	ErrBoundsViolation = fmt.Errorf("step index out of bounds")
	// ErrInconsistentState is returned when the structural self-check of the
	// session fails before configuration validation.
	ErrInconsistentState = fmt.Errorf("session state is inconsistent")

	ErrTransitionInFlight = fmt.Errorf("another transition is in flight")
	ErrOperationInFlight  = fmt.Errorf("operation already in flight")
	ErrWriterClaimed      = fmt.Errorf("state writer already claimed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrSealing            = fmt.Errorf("secret sealing failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Controller.Next")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "versioning"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Unavailable wraps err so that errors.Is(err, ErrAuthorityUnavailable) holds
// while keeping the transport error in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAuthorityUnavailable, err)
}

// ErrorCode is a machine-parseable error category for logs and the HTTP API.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeDeclined           ErrorCode = "DECLINED"
	CodeGateRejected       ErrorCode = "GATE_REJECTED"
	CodeAuthorityDown      ErrorCode = "AUTHORITY_UNAVAILABLE"
	CodeBoundsViolation    ErrorCode = "BOUNDS_VIOLATION"
	CodeInconsistentState  ErrorCode = "INCONSISTENT_STATE"
	CodeTransitionInFlight ErrorCode = "TRANSITION_IN_FLIGHT"
	CodeOperationInFlight  ErrorCode = "OPERATION_IN_FLIGHT"
	CodeWriterClaimed      ErrorCode = "WRITER_CLAIMED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeSealing            ErrorCode = "SEALING"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeVersionNotFound    ErrorCode = "VERSION_NOT_FOUND"
	CodeCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	CodeOperationNotFound  ErrorCode = "OPERATION_NOT_FOUND"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Order matters only for errors that wrap several sentinels; ErrorCodeOf
// checks the most specific ones first.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrBoundsViolation, CodeBoundsViolation},
	{ErrInconsistentState, CodeInconsistentState},
	{ErrGateRejected, CodeGateRejected},
	{ErrTransitionInFlight, CodeTransitionInFlight},
	{ErrOperationInFlight, CodeOperationInFlight},
	{ErrWriterClaimed, CodeWriterClaimed},
	{ErrAuthorityUnavailable, CodeAuthorityDown},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrSealing, CodeSealing},
	{ErrDeclined, CodeDeclined},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrTimeout, CodeTimeout},
}

type subSystemKey struct {
	subsystem string
	sentinel  error
}

var subSystemCodeMap = map[subSystemKey]ErrorCode{
	{"versioning", ErrNotFound}: CodeVersionNotFound,
	{"checkpoint", ErrNotFound}: CodeCheckpointNotFound,
	{"operation", ErrNotFound}:  CodeOperationNotFound,
}

// ErrorCodeOf returns the ErrorCode for err. Subsystem-tagged DomainErrors are
// resolved first, then the sentinel chain. Returns CodeUnknown for nil or
// unrecognised errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var de *DomainError
	if errors.As(err, &de) && de.SubSystem != "" {
		for key, code := range subSystemCodeMap {
			if key.subsystem == de.SubSystem && errors.Is(de.Err, key.sentinel) {
				return code
			}
		}
	}

	for _, entry := range errorCodeMap {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}
