// Package types 定义 PortLink 公共类型
//
// 包含错误码体系、连接状态、断开原因与系统事件名称。
// 这些类型是协议的一部分，会出现在线上报文中，修改需保持向后兼容。
package types

import (
	"errors"
	"fmt"
	"time"
)

// ════════════════════════════════════════════════════════════════════════════
//                              错误码
// ════════════════════════════════════════════════════════════════════════════

// ErrorCode 协议错误码
//
// 错误码随错误响应报文传输，两端必须使用相同的取值。
type ErrorCode string

const (
	// CodeInvalidProtocol 报文不符合协议格式
	CodeInvalidProtocol ErrorCode = "INVALID_PROTOCOL"

	// CodeMissingField 报文缺少必需字段
	CodeMissingField ErrorCode = "MISSING_FIELD"

	// CodeTypeMismatch 报文字段类型错误
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeSchemaMismatch 负载不满足已注册的 Schema
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// CodePayloadTooLarge 负载超过大小限制
	CodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// CodeRateLimitExceeded 超过速率限制
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeOriginRejected 来源不在允许列表中
	CodeOriginRejected ErrorCode = "ORIGIN_REJECTED"

	// CodeTargetNotFound 目标不存在或未连接
	CodeTargetNotFound ErrorCode = "TARGET_NOT_FOUND"

	// CodeTargetClosed 目标传输句柄已失效
	CodeTargetClosed ErrorCode = "TARGET_CLOSED"

	// CodeHandshakeFailed 握手失败
	CodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"

	// CodeConnectionLost 连接意外丢失（心跳超时、传输死亡）
	CodeConnectionLost ErrorCode = "CONNECTION_LOST"

	// CodeConnectionClosed 连接已正常关闭
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"

	// CodeResponseTimeout 等待响应超时（重试耗尽）
	CodeResponseTimeout ErrorCode = "RESPONSE_TIMEOUT"

	// CodeNoHandler 消息类型没有注册处理器
	CodeNoHandler ErrorCode = "NO_HANDLER"

	// CodeHandlerError 处理器执行出错
	CodeHandlerError ErrorCode = "HANDLER_ERROR"

	// CodeDuplicateResponse 同一请求收到第二个响应
	CodeDuplicateResponse ErrorCode = "DUPLICATE_RESPONSE"

	// CodeEngineDestroyed 引擎已销毁
	CodeEngineDestroyed ErrorCode = "ENGINE_DESTROYED"
)

// ════════════════════════════════════════════════════════════════════════════
//                              协议错误
// ════════════════════════════════════════════════════════════════════════════

// Error 带错误码的协议错误
//
// 既用于本地返回给调用方，也用于构造错误响应报文。
// Details 仅承载可 JSON 序列化的诊断信息。
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError 创建协议错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf 创建带格式化消息的协议错误
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail 附加一条诊断信息并返回自身
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf 提取错误的协议错误码
//
// 非协议错误返回空字符串。
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接状态
// ════════════════════════════════════════════════════════════════════════════

// ConnectionState 目标连接状态
type ConnectionState string

const (
	// StateDisconnected 未连接
	StateDisconnected ConnectionState = "disconnected"

	// StateConnecting 握手进行中
	StateConnecting ConnectionState = "connecting"

	// StateConnected 已连接
	StateConnected ConnectionState = "connected"

	// StateDisconnecting 正在优雅断开
	StateDisconnecting ConnectionState = "disconnecting"
)

// DisconnectReason 断开原因
type DisconnectReason string

const (
	// ReasonLocal 本端主动断开
	ReasonLocal DisconnectReason = "local_disconnect"

	// ReasonRemote 对端请求断开
	ReasonRemote DisconnectReason = "remote_disconnect"

	// ReasonHeartbeatTimeout 连续心跳丢失达到阈值
	ReasonHeartbeatTimeout DisconnectReason = "heartbeat_timeout"

	// ReasonTransportDead 传输句柄已失效
	ReasonTransportDead DisconnectReason = "transport_dead"

	// ReasonShutdown 引擎销毁
	ReasonShutdown DisconnectReason = "shutdown"
)

// ════════════════════════════════════════════════════════════════════════════
//                              系统事件
// ════════════════════════════════════════════════════════════════════════════

// SystemEvent 系统事件名称
type SystemEvent string

const (
	EventConnected        SystemEvent = "connected"
	EventDisconnected     SystemEvent = "disconnected"
	EventConnectionLost   SystemEvent = "connection-lost"
	EventStateChanged     SystemEvent = "connection-state-changed"
	EventHeartbeatMissed  SystemEvent = "heartbeat-missed"
	EventError            SystemEvent = "error"
	EventTimeout          SystemEvent = "timeout"
	EventMessageSent      SystemEvent = "message-sent"
	EventMessageReceived  SystemEvent = "message-received"
	EventResponseSent     SystemEvent = "response-sent"
	EventResponseReceived SystemEvent = "response-received"
	EventHandshakeStart   SystemEvent = "handshake-start"
	EventHandshakeDone    SystemEvent = "handshake-complete"
	EventHandshakeFailed  SystemEvent = "handshake-failed"
)

// SystemNotification 系统事件通知
type SystemNotification struct {
	// Event 事件名称
	Event SystemEvent

	// TargetID 相关目标（可能为空）
	TargetID string

	// Timestamp 事件发生时间
	Timestamp time.Time

	// Data 事件附加数据
	Data map[string]any
}
