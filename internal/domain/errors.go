package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Pair them with NewSubSystemError so ErrorCodeOf can
// resolve a subsystem-specific code.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the gateway.
var (
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrInvalidRoutingKey = fmt.Errorf("invalid routing key")
	ErrUnknownInstance   = fmt.Errorf("unknown instance")
	ErrNotAuthorized     = fmt.Errorf("sender not authorized")
	ErrDeliveryFailed    = fmt.Errorf("message delivery failed")
	ErrBusClosed         = fmt.Errorf("event bus closed")
	ErrMemoryStore       = fmt.Errorf("memory store failed")
	ErrMemoryUnavailable = fmt.Errorf("memory backend unavailable")
	ErrMemoryDelete      = fmt.Errorf("memory delete failed")
	ErrToolServer        = fmt.Errorf("tool server unhealthy")

	// Resilience errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Runtime.Start")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "instance", "memory"); used for ErrorCode dispatch
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
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrMemoryUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeInvalidRoutingKey  ErrorCode = "INVALID_ROUTING_KEY"
	CodeUnknownInstance    ErrorCode = "UNKNOWN_INSTANCE"
	CodeNotAuthorized      ErrorCode = "NOT_AUTHORIZED"
	CodeDeliveryFailed     ErrorCode = "DELIVERY_FAILED"
	CodeBusClosed          ErrorCode = "BUS_CLOSED"
	CodeMemoryStore        ErrorCode = "MEMORY_STORE"
	CodeMemoryUnavailable  ErrorCode = "MEMORY_UNAVAILABLE"
	CodeMemoryDelete       ErrorCode = "MEMORY_DELETE"
	CodeToolServer         ErrorCode = "TOOL_SERVER"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeInstanceNotFound   ErrorCode = "INSTANCE_NOT_FOUND"
	CodeInstanceDuplicate  ErrorCode = "INSTANCE_DUPLICATE"
	CodeInstanceDisabled   ErrorCode = "INSTANCE_DISABLED"
	CodeMemoryNotFound     ErrorCode = "MEMORY_NOT_FOUND"
	CodeToolServerNotFound ErrorCode = "TOOL_SERVER_NOT_FOUND"
	CodeToolServerDup      ErrorCode = "TOOL_SERVER_DUPLICATE"
	CodeExportFileNotFound ErrorCode = "EXPORT_FILE_NOT_FOUND"
	CodeExportFileInvalid  ErrorCode = "EXPORT_FILE_INVALID"
	CodeLLMTimeout         ErrorCode = "LLM_TIMEOUT"

	// Category fallbacks.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrConfigLoad:        CodeConfigLoad,
	ErrInvalidRoutingKey: CodeInvalidRoutingKey,
	ErrUnknownInstance:   CodeUnknownInstance,
	ErrNotAuthorized:     CodeNotAuthorized,
	ErrDeliveryFailed:    CodeDeliveryFailed,
	ErrBusClosed:         CodeBusClosed,
	ErrMemoryStore:       CodeMemoryStore,
	ErrMemoryUnavailable: CodeMemoryUnavailable,
	ErrMemoryDelete:      CodeMemoryDelete,
	ErrToolServer:        CodeToolServer,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific codes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"instance": CodeInstanceNotFound,
		"memory":   CodeMemoryNotFound,
		"tool":     CodeToolServerNotFound,
		"export":   CodeExportFileNotFound,
	},
	ErrDuplicate: {
		"instance": CodeInstanceDuplicate,
		"tool":     CodeToolServerDup,
	},
	ErrDisabled: {
		"instance": CodeInstanceDisabled,
	},
	ErrInvalidInput: {
		"export": CodeExportFileInvalid,
	},
	ErrTimeout: {
		"llm": CodeLLMTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// DomainErrors carrying a SubSystem are resolved through subSystemCodeMap first.
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

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
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
