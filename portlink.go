package portlink

import (
	"context"

	"github.com/portlink/go-portlink/internal/core/engine"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.3.0"

// ProtocolVersion 线上协议版本（兼容性只比较主版本号）
const ProtocolVersion = wire.Version

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "PortLink " + Version + " (protocol " + ProtocolVersion + ")"
	if GitCommit != "" {
		info += " commit " + GitCommit[:min(8, len(GitCommit))]
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

// 公开 API 使用的类型，别名到内部定义处
type (
	// Message 交付给处理器的入站请求
	Message = interfaces.Message

	// Responder 单次响应器
	Responder = interfaces.Responder

	// MessageHandler 应用消息处理器
	MessageHandler = interfaces.MessageHandler

	// SystemHandler 系统事件处理器
	SystemHandler = interfaces.SystemHandler

	// Unsubscribe 取消订阅函数
	Unsubscribe = interfaces.Unsubscribe

	// SendOptions 单次发送的可选参数
	SendOptions = interfaces.SendOptions

	// TypeOptions 消息类型注册选项
	TypeOptions = interfaces.TypeOptions

	// Schema 负载结构校验规则
	Schema = interfaces.Schema

	// Transport 传输适配器接口
	Transport = interfaces.Transport

	// TargetHandle 传输层的不透明目标句柄
	TargetHandle = interfaces.TargetHandle

	// SystemEvent 系统事件名
	SystemEvent = types.SystemEvent

	// SystemNotification 系统事件通知
	SystemNotification = types.SystemNotification

	// Error 结构化协议错误
	Error = types.Error

	// ErrorCode 协议错误码
	ErrorCode = types.ErrorCode
)

// ════════════════════════════════════════════════════════════════════════════
//                              引擎
// ════════════════════════════════════════════════════════════════════════════

// Engine 消息引擎
//
// 对 internal/core/engine 的薄封装：选项归一成配置后创建引擎，
// 方法一一转发。零值不可用，必须通过 New 创建。
type Engine struct {
	svc *engine.Service
}

// New 创建消息引擎
//
// 至少需要 WithTransport、WithOrigin 与 WithAllowedOrigins。
func New(opts ...Option) (*Engine, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	cfg, err := o.buildConfig()
	if err != nil {
		return nil, err
	}

	svc, err := engine.New(cfg, o.transport, o.clock, o.promRegistry)
	if err != nil {
		return nil, err
	}
	return &Engine{svc: svc}, nil
}

// InstanceID 返回本端实例 ID
func (e *Engine) InstanceID() string { return e.svc.InstanceID() }

// Register 注册消息类型（Schema 与超时/重试覆盖）
func (e *Engine) Register(msgType string, opts TypeOptions) error {
	return e.svc.Register(msgType, opts)
}

// Unregister 注销消息类型
func (e *Engine) Unregister(msgType string) error {
	return e.svc.Unregister(msgType)
}

// On 订阅某类型的入站请求，返回取消订阅函数
func (e *Engine) On(msgType string, handler MessageHandler) (Unsubscribe, error) {
	return e.svc.On(msgType, handler)
}

// OnSystem 订阅系统事件，返回取消订阅函数
func (e *Engine) OnSystem(event SystemEvent, handler SystemHandler) (Unsubscribe, error) {
	return e.svc.OnSystem(event, handler)
}

// Send 发送请求
//
// opts.ExpectsResponse 为 true 时阻塞直到响应、超时或 ctx 取消，
// 返回响应负载；否则发出即返回。
func (e *Engine) Send(ctx context.Context, msgType string, payload any, opts SendOptions) (any, error) {
	return e.svc.Send(ctx, msgType, payload, opts)
}

// Request 发送请求并等待响应（Send 的便捷形式）
func (e *Engine) Request(ctx context.Context, msgType string, payload any) (any, error) {
	return e.svc.Send(ctx, msgType, payload, SendOptions{ExpectsResponse: true, Retries: -1})
}

// Notify 发送不期待响应的请求（Send 的便捷形式）
func (e *Engine) Notify(ctx context.Context, msgType string, payload any) error {
	_, err := e.svc.Send(ctx, msgType, payload, SendOptions{Retries: -1})
	return err
}

// Broadcast 向所有已连接目标广播（不期待响应）
func (e *Engine) Broadcast(msgType string, payload any) error {
	return e.svc.Broadcast(msgType, payload)
}

// Connect 与句柄对应的对端握手并登记为目标
func (e *Engine) Connect(ctx context.Context, handle TargetHandle, targetID string) error {
	return e.svc.Connect(ctx, handle, targetID)
}

// Disconnect 优雅断开目标
func (e *Engine) Disconnect(ctx context.Context, targetID string) error {
	return e.svc.Disconnect(ctx, targetID)
}

// ConnectedTargets 返回当前已连接目标 ID 列表
func (e *Engine) ConnectedTargets() []string { return e.svc.ConnectedTargets() }

// IsConnected 判断目标是否已连接
func (e *Engine) IsConnected(targetID string) bool { return e.svc.IsConnected(targetID) }

// Destroy 同步销毁引擎
//
// 取消所有计时器、拒绝所有挂起请求、断开所有目标（不通知对端）。
// 销毁后任何方法调用都返回 ENGINE_DESTROYED。
func (e *Engine) Destroy() error { return e.svc.Destroy() }

// 确保 Engine 满足公开接口
var _ interfaces.Engine = (*Engine)(nil)
