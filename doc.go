// Package portlink 在一个不可靠的单向发送原语之上提供可靠的
// 点对点消息能力。
//
// 底层传输只需要实现 interfaces.Transport 的四个方法：发送字节、
// 上报入站字节、解析对端来源、探测句柄存活。引擎在其上提供：
//
//   - 请求/响应关联：每个请求携带全局唯一 ID，响应按 ID 回到
//     发起方，超时由计时器兜底
//   - 连接生命周期：握手建立可信来源，心跳检测静默死亡的对端，
//     两阶段优雅断开
//   - 安全层：来源允许列表、负载清洗、大小限制、Schema 校验、
//     固定窗口限流
//   - 广播与系统事件订阅
//
// 最小用法：
//
//	eng, err := portlink.New(
//		portlink.WithOrigin("https://app.example.com"),
//		portlink.WithAllowedOrigins("https://peer.example.com"),
//		portlink.WithTransport(tr),
//	)
//	if err != nil { ... }
//	defer eng.Destroy()
//
//	eng.On("user/get", func(ctx context.Context, msg *portlink.Message, r portlink.Responder) error {
//		return r.Respond(map[string]any{"name": "alice"})
//	})
//
// 引擎不持有任何全局状态，同一进程可以创建多个互不相干的实例。
package portlink
