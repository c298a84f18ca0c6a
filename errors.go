package portlink

import (
	"github.com/portlink/go-portlink/internal/core/engine"
	"github.com/portlink/go-portlink/pkg/types"
)

// 引擎哨兵错误（用 errors.Is 判别）
var (
	// ErrTypeRegistered 消息类型已显式注册
	ErrTypeRegistered = engine.ErrTypeRegistered

	// ErrTypeNotFound 消息类型不存在
	ErrTypeNotFound = engine.ErrTypeNotFound

	// ErrSystemType 不允许操作内部系统类型
	ErrSystemType = engine.ErrSystemType

	// ErrAlreadyResponded 单次响应器被第二次调用
	ErrAlreadyResponded = engine.ErrAlreadyResponded

	// ErrNoResponseExpected 请求不期待响应
	ErrNoResponseExpected = engine.ErrNoResponseExpected
)

// 协议错误码（结构化错误随响应跨端传递）
const (
	CodeInvalidProtocol   = types.CodeInvalidProtocol
	CodeMissingField      = types.CodeMissingField
	CodeTypeMismatch      = types.CodeTypeMismatch
	CodeSchemaMismatch    = types.CodeSchemaMismatch
	CodePayloadTooLarge   = types.CodePayloadTooLarge
	CodeRateLimitExceeded = types.CodeRateLimitExceeded
	CodeOriginRejected    = types.CodeOriginRejected
	CodeTargetNotFound    = types.CodeTargetNotFound
	CodeTargetClosed      = types.CodeTargetClosed
	CodeHandshakeFailed   = types.CodeHandshakeFailed
	CodeConnectionLost    = types.CodeConnectionLost
	CodeConnectionClosed  = types.CodeConnectionClosed
	CodeResponseTimeout   = types.CodeResponseTimeout
	CodeNoHandler         = types.CodeNoHandler
	CodeHandlerError      = types.CodeHandlerError
	CodeDuplicateResponse = types.CodeDuplicateResponse
	CodeEngineDestroyed   = types.CodeEngineDestroyed
)

// CodeOf 提取错误中的协议错误码，非协议错误返回空串
func CodeOf(err error) ErrorCode {
	return types.CodeOf(err)
}

// NewError 构造结构化协议错误
func NewError(code ErrorCode, message string) *Error {
	return types.NewError(code, message)
}
