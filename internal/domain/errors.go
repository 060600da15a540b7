package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared with the ambient layers.
var (
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
)

// Relay sentinels. Connection-scoped errors (handshake, serialization,
// network) terminate only the task that produced them.
var (
	ErrHandshakeMismatch = fmt.Errorf("ipc handshake mismatch")
	ErrSerialization     = fmt.Errorf("serialization failed")
	ErrDeserialization   = fmt.Errorf("deserialization failed")
	ErrNetwork           = fmt.Errorf("network error")
	ErrMessageTooLarge   = fmt.Errorf("ipc message too large")
	ErrUpstreamHTTP      = fmt.Errorf("upstream http error")
	ErrMissingCredential = fmt.Errorf("missing credential")
	ErrRegistryClosed    = fmt.Errorf("task registry closed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Sender.Invoke")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
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

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsConnectionScoped reports whether err belongs to the class of failures that
// end a single IPC connection without affecting the accept loop.
func IsConnectionScoped(err error) bool {
	return errors.Is(err, ErrHandshakeMismatch) ||
		errors.Is(err, ErrDeserialization) ||
		errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrMessageTooLarge)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for logs and monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeHandshakeMismatch ErrorCode = "HANDSHAKE_MISMATCH"
	CodeSerialization     ErrorCode = "SERIALIZATION"
	CodeDeserialization   ErrorCode = "DESERIALIZATION"
	CodeNetwork           ErrorCode = "NETWORK"
	CodeMessageTooLarge   ErrorCode = "MESSAGE_TOO_LARGE"
	CodeUpstreamHTTP      ErrorCode = "UPSTREAM_HTTP"
	CodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	CodeRegistryClosed    ErrorCode = "REGISTRY_CLOSED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Ordered lookup in ErrorCodeOf uses errorCodePriority so that an error
// wrapping several sentinels (e.g. upstream + rate limit) resolves to the
// most specific one.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:      CodeInvalidInput,
	ErrTimeout:           CodeTimeout,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrHandshakeMismatch: CodeHandshakeMismatch,
	ErrSerialization:     CodeSerialization,
	ErrDeserialization:   CodeDeserialization,
	ErrNetwork:           CodeNetwork,
	ErrMessageTooLarge:   CodeMessageTooLarge,
	ErrUpstreamHTTP:      CodeUpstreamHTTP,
	ErrMissingCredential: CodeMissingCredential,
	ErrRegistryClosed:    CodeRegistryClosed,
}

var errorCodePriority = []error{
	ErrRateLimit,
	ErrAuthInvalid,
	ErrMissingCredential,
	ErrHandshakeMismatch,
	ErrMessageTooLarge,
	ErrSerialization,
	ErrDeserialization,
	ErrRegistryClosed,
	ErrUpstreamHTTP,
	ErrNetwork,
	ErrTimeout,
	ErrDecryption,
	ErrConfigLoad,
	ErrInvalidInput,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range errorCodePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
