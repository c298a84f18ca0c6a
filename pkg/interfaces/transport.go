// Package interfaces 定义 PortLink 内部接口
//
// 引擎只通过本包中的接口与外部协作者交互，具体实现
// （传输适配器、应用处理器）由使用方提供。
package interfaces

// TargetHandle 传输层目的句柄
//
// 对引擎而言是不透明的：引擎只负责保存并在发送时原样交还给
// 传输适配器。具体类型由适配器定义（连接对象、窗口引用等）。
type TargetHandle any

// ReceiveFunc 入站消息回调
//
// 传输适配器在收到原始报文时调用，origin 是适配器验证过的
// 发送方来源，handle 是发送方的句柄（如果适配器能够提供）。
type ReceiveFunc func(raw []byte, origin string, handle TargetHandle)

// Transport 传输适配器接口
//
// 适配器提供一个单向、尽力而为的跨上下文投递原语。
// 引擎不假设投递成功、有序或恰好一次。
type Transport interface {
	// Send 尝试向句柄投递一份序列化报文
	//
	// originHint 是期望的接收方来源；适配器若能约束投递目标的
	// 来源（如 postMessage 语义）必须使用它，不能约束时可忽略。
	// 返回错误仅表示本地发送失败，返回 nil 不代表送达。
	Send(raw []byte, handle TargetHandle, originHint string) error

	// SetReceiver 注册入站消息回调
	//
	// 只允许一个接收者，后注册的覆盖先注册的。
	SetReceiver(fn ReceiveFunc)

	// ResolveOrigin 解析句柄的来源（如果可知）
	ResolveOrigin(handle TargetHandle) (string, bool)

	// IsAlive 探测句柄是否仍然有效（窗口未关闭、连接未断开）
	IsAlive(handle TargetHandle) bool

	// Close 关闭句柄对应的通道
	Close(handle TargetHandle) error
}
