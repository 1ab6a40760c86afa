package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("backend error")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")

	// Auth / REST errors.
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not logged in")
	ErrTokenExpired     = fmt.Errorf("auth token expired")
	ErrForbidden        = fmt.Errorf("forbidden: insufficient permissions")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrCircuitOpen      = fmt.Errorf("backend circuit open")

	// Stream / turn errors.
	ErrStreamFailed    = fmt.Errorf("chat stream failed")
	ErrStreamTruncated = fmt.Errorf("chat stream closed before end-of-stream marker")
	ErrNoStreamBody    = fmt.Errorf("chat stream has no body")
	ErrTurnInFlight    = fmt.Errorf("another turn is already streaming")
	ErrTurnCancelled   = fmt.Errorf("turn cancelled")
	ErrConversationEnd = fmt.Errorf("conversation closed")

	// History cache errors.
	ErrHistoryStore = fmt.Errorf("history store failed")

	// Preview errors.
	ErrPreviewProbe = fmt.Errorf("preview probe failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "API.GetFiles")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "project", "stream"); used for ErrorCode dispatch
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

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for logs and CLI exit reporting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	CodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeStreamFailed       ErrorCode = "STREAM_FAILED"
	CodeStreamTruncated    ErrorCode = "STREAM_TRUNCATED"
	CodeNoStreamBody       ErrorCode = "NO_STREAM_BODY"
	CodeTurnInFlight       ErrorCode = "TURN_IN_FLIGHT"
	CodeTurnCancelled      ErrorCode = "TURN_CANCELLED"
	CodeConversationEnd    ErrorCode = "CONVERSATION_CLOSED"
	CodeHistoryStore       ErrorCode = "HISTORY_STORE"
	CodePreviewProbe       ErrorCode = "PREVIEW_PROBE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeProjectNotFound ErrorCode = "PROJECT_NOT_FOUND"
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeMemberNotFound  ErrorCode = "MEMBER_NOT_FOUND"
	CodeMemberDuplicate ErrorCode = "MEMBER_DUPLICATE"
	CodeProjectInvalid  ErrorCode = "PROJECT_INVALID"
	CodeMemberInvalid   ErrorCode = "MEMBER_INVALID"

	// Category error codes, the fallback when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "BACKEND_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrEncryption:         CodeEncryption,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrNotAuthenticated:   CodeNotAuthenticated,
	ErrTokenExpired:       CodeTokenExpired,
	ErrForbidden:          CodeForbidden,
	ErrRateLimit:          CodeRateLimit,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrStreamFailed:       CodeStreamFailed,
	ErrStreamTruncated:    CodeStreamTruncated,
	ErrNoStreamBody:       CodeNoStreamBody,
	ErrTurnInFlight:       CodeTurnInFlight,
	ErrTurnCancelled:      CodeTurnCancelled,
	ErrConversationEnd:    CodeConversationEnd,
	ErrHistoryStore:       CodeHistoryStore,
	ErrPreviewProbe:       CodePreviewProbe,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"project": CodeProjectNotFound,
		"file":    CodeFileNotFound,
		"member":  CodeMemberNotFound,
	},
	ErrDuplicate: {
		"member": CodeMemberDuplicate,
	},
	ErrInvalidInput: {
		"project": CodeProjectInvalid,
		"member":  CodeMemberInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels first so category sentinels only act as fallbacks.
	var fallback ErrorCode = CodeUnknown
	for sentinel, code := range errorCodeMap {
		if !errors.Is(err, sentinel) {
			continue
		}
		if isCategorySentinel(sentinel) {
			fallback = code
			continue
		}
		return code
	}
	return fallback
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code,
// also when the sentinel is wrapped.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		for sentinel, subsysMap := range subSystemCodeMap {
			if !errors.Is(e.Err, sentinel) {
				continue
			}
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

func isCategorySentinel(err error) bool {
	switch err {
	case ErrNotFound, ErrDuplicate, ErrTimeout, ErrLimitReached,
		ErrPermissionDenied, ErrInvalidInput, ErrProviderError:
		return true
	}
	return false
}
