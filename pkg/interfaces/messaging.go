// Package interfaces 定义 PortLink 内部接口
package interfaces

import (
	"context"
	"time"

	"github.com/portlink/go-portlink/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              入站消息
// ════════════════════════════════════════════════════════════════════════════

// Message 交付给应用处理器的入站请求
type Message struct {
	// ID 请求的消息 ID
	ID string

	// Type 消息类型名称
	Type string

	// Payload 已通过 Schema 校验的负载
	Payload any

	// Sender 发送方实例 ID
	Sender string

	// Origin 发送方来源（已通过允许列表检查）
	Origin string

	// ExpectsResponse 发送方是否在等待响应
	ExpectsResponse bool
}

// Responder 单次响应器
//
// 每个期待响应的请求恰好拥有一个 Responder。Respond 和 Reject
// 合计只允许调用一次，第二次调用返回错误（编程错误，需要修复
// 调用方而不是忽略）。
type Responder interface {
	// Respond 发送成功响应
	Respond(payload any) error

	// Reject 发送失败响应
	Reject(perr *types.Error) error

	// Responded 是否已经响应过
	Responded() bool
}

// MessageHandler 应用消息处理器
//
// 返回的错误会被转换为错误响应（如果还欠一个响应）并通过
// error 系统事件上报，不会中断同一消息的其他处理器。
type MessageHandler func(ctx context.Context, msg *Message, respond Responder) error

// SystemHandler 系统事件处理器
type SystemHandler func(n types.SystemNotification)

// Unsubscribe 取消订阅函数
type Unsubscribe func()

// ════════════════════════════════════════════════════════════════════════════
//                              引擎接口
// ════════════════════════════════════════════════════════════════════════════

// SendOptions 单次发送的可选参数
type SendOptions struct {
	// TargetID 目标 ID；为空时发往唯一已连接目标
	TargetID string

	// Timeout 本次调用的超时覆盖；0 表示使用类型或引擎默认值
	Timeout time.Duration

	// Retries 本次调用的重试覆盖；-1 表示使用类型或引擎默认值
	Retries int

	// ExpectsResponse 是否等待响应
	ExpectsResponse bool
}

// Engine 消息引擎接口
//
// 所有方法在 Destroy 之后调用都会返回 ENGINE_DESTROYED 错误。
type Engine interface {
	// Register 注册消息类型（Schema 与超时/重试覆盖）
	Register(msgType string, opts TypeOptions) error

	// Unregister 注销消息类型
	Unregister(msgType string) error

	// On 订阅某类型的入站请求，返回取消订阅函数
	On(msgType string, handler MessageHandler) (Unsubscribe, error)

	// OnSystem 订阅系统事件，返回取消订阅函数
	OnSystem(event types.SystemEvent, handler SystemHandler) (Unsubscribe, error)

	// Send 发送请求；期待响应时阻塞直到响应、超时或 ctx 取消
	Send(ctx context.Context, msgType string, payload any, opts SendOptions) (any, error)

	// Broadcast 向所有已连接目标广播（不期待响应）
	Broadcast(msgType string, payload any) error

	// Connect 与句柄对应的对端握手并登记为目标
	Connect(ctx context.Context, handle TargetHandle, targetID string) error

	// Disconnect 优雅断开目标
	Disconnect(ctx context.Context, targetID string) error

	// ConnectedTargets 返回当前已连接目标 ID 列表
	ConnectedTargets() []string

	// IsConnected 判断目标是否已连接
	IsConnected(targetID string) bool

	// Destroy 同步销毁引擎：取消所有计时器、拒绝所有挂起请求、
	// 断开所有目标（不通知对端）
	Destroy() error
}

// TypeOptions 消息类型注册选项
type TypeOptions struct {
	// Schema 负载校验规则（可选）
	Schema *Schema

	// Timeout 该类型的响应超时覆盖（0 表示无覆盖）
	Timeout time.Duration

	// Retries 该类型的重试覆盖（-1 表示无覆盖）
	Retries int
}

// ════════════════════════════════════════════════════════════════════════════
//                              Schema
// ════════════════════════════════════════════════════════════════════════════

// Schema 负载结构校验规则
//
// 一个受限的结构化校验语言：类型、必需字段、枚举、正则、数值范围。
// 嵌套通过 Properties/Items 表达，校验深度有上限。
type Schema struct {
	// Type 期望类型: object / array / string / number / integer / boolean / null
	Type string `json:"type,omitempty"`

	// Required 必需字段名（仅 object）
	Required []string `json:"required,omitempty"`

	// Properties 字段子 Schema（仅 object）
	Properties map[string]*Schema `json:"properties,omitempty"`

	// Items 元素子 Schema（仅 array）
	Items *Schema `json:"items,omitempty"`

	// Enum 允许的取值集合
	Enum []any `json:"enum,omitempty"`

	// Pattern 正则约束（仅 string，RE2 语法）
	Pattern string `json:"pattern,omitempty"`

	// Minimum / Maximum 数值范围（仅 number/integer）
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// MinLength / MaxLength 字符串长度范围
	MinLength *int `json:"minLength,omitempty"`
	MaxLength *int `json:"maxLength,omitempty"`
}
