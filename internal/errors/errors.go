package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message string
	// UserVisible 表示该错误需要直接提示给终端用户。
	UserVisible bool
	Severity    Severity
	// Fatal 为 false 时调用方只记录日志，不中断后续流程。
	Fatal bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeEventFailure          Code = "EVENT_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeUserRejected        Code = "USER_REJECTED"
	CodeNetworkMismatch     Code = "NETWORK_MISMATCH"
	CodeInvalidDraft        Code = "INVALID_DRAFT"
	CodeTransactionFailed   Code = "TRANSACTION_FAILED"
	CodeTransactionInFlight Code = "TRANSACTION_IN_FLIGHT"
	CodeNotConnected        Code = "NOT_CONNECTED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Fatal: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Fatal: true},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Fatal: true},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Fatal: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Fatal: true},
		CodeEventFailure:          {Message: "event publish failure", Severity: SeverityWarning, Fatal: false},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Fatal: true},
		CodeProviderUnavailable: {
			Message:     "wallet provider not available, please install a wallet",
			UserVisible: true,
			Severity:    SeverityWarning,
			Fatal:       true,
		},
		CodeUserRejected: {
			Message:     "request rejected by user",
			UserVisible: true,
			Severity:    SeverityInfo,
			Fatal:       true,
		},
		CodeNetworkMismatch: {
			Message:  "active chain does not match expected network",
			Severity: SeverityWarning,
			Fatal:    false,
		},
		CodeInvalidDraft: {
			Message:     "invalid transaction draft",
			UserVisible: true,
			Severity:    SeverityInfo,
			Fatal:       true,
		},
		CodeTransactionFailed: {
			Message:     "transaction failed",
			UserVisible: true,
			Severity:    SeverityWarning,
			Fatal:       true,
		},
		CodeTransactionInFlight: {
			Message:     "another transaction is still pending",
			UserVisible: true,
			Severity:    SeverityInfo,
			Fatal:       true,
		},
		CodeNotConnected: {
			Message:     "wallet not connected",
			UserVisible: true,
			Severity:    SeverityInfo,
			Fatal:       true,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型，保留原始错误作为 cause。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Cause 返回被包裹的原始错误。
func (e *Error) Cause() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode 判断错误链中是否包含指定错误码。
func IsCode(err error, code Code) bool {
	return stdErrors.Is(err, New(code, ""))
}

// UserVisible 判断错误是否需要提示给用户。
func UserVisible(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).UserVisible
	}
	return false
}

// Fatal 判断错误是否需要中断当前流程；nil 返回 false，未登记的错误视为致命。
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Fatal
	}
	return AttributesOf(CodeUnknown).Fatal
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
