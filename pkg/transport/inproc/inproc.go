// Package inproc 提供进程内传输适配器
//
// 用 channel 模拟一条不可靠网络链路：同方向消息保序、跨方向
// 无序，链路可以随时单方面关闭。主要用于测试与示例，也适合
// 同进程内两个引擎实例互联。
package inproc

import (
	"errors"
	"sync"

	"github.com/portlink/go-portlink/pkg/interfaces"
)

// 错误定义
var (
	// ErrClosed 链路或端点已关闭
	ErrClosed = errors.New("inproc: link is closed")

	// ErrBacklog 对端积压已满
	ErrBacklog = errors.New("inproc: peer backlog is full")
)

// directionBuffer 单方向积压上限
const directionBuffer = 64

// Endpoint 进程内传输端点
//
// 每个端点归属一个来源。端点之间通过 Dial 建链，一个端点可以
// 同时持有多条链路。
type Endpoint struct {
	origin string

	mu       sync.RWMutex
	receiver interfaces.ReceiveFunc
	closed   bool
}

// 确保 Endpoint 实现传输接口
var _ interfaces.Transport = (*Endpoint)(nil)

// NewEndpoint 创建端点
func NewEndpoint(origin string) *Endpoint {
	return &Endpoint{origin: origin}
}

// Origin 返回端点来源
func (e *Endpoint) Origin() string { return e.origin }

// SetReceiver 设置入站回调
func (e *Endpoint) SetReceiver(fn interfaces.ReceiveFunc) {
	e.mu.Lock()
	e.receiver = fn
	e.mu.Unlock()
}

// Shutdown 关闭端点，之后所有经过它的链路都视为死亡
func (e *Endpoint) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// deliver 把一条消息交给端点的接收回调
func (e *Endpoint) deliver(raw []byte, origin string, handle interfaces.TargetHandle) {
	e.mu.RLock()
	fn := e.receiver
	closed := e.closed
	e.mu.RUnlock()

	if closed || fn == nil {
		return
	}
	fn(raw, origin, handle)
}

// isClosed 端点是否已关闭
func (e *Endpoint) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// ════════════════════════════════════════════════════════════════════════════
//                              链路
// ════════════════════════════════════════════════════════════════════════════

// link 两个端点之间的双向链路
type link struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}

	// 两个方向各自的泵
	ab, ba *direction
}

// direction 链路的一个方向
type direction struct {
	from, to *Endpoint
	handle   *Handle // 接收方视角的回程句柄
	ch       chan []byte
}

// Handle 链路一端持有的目标句柄
type Handle struct {
	link   *link
	local  *Endpoint
	remote *Endpoint
	out    *direction
}

// Dial 与另一个端点建链
//
// 返回本端持有的句柄，可直接交给引擎的 Connect。对端在收到
// 首条消息时通过回程句柄认识本端。
func (e *Endpoint) Dial(remote *Endpoint) *Handle {
	l := &link{done: make(chan struct{})}

	local := &Handle{link: l, local: e, remote: remote}
	back := &Handle{link: l, local: remote, remote: e}

	l.ab = &direction{from: e, to: remote, handle: back, ch: make(chan []byte, directionBuffer)}
	l.ba = &direction{from: remote, to: e, handle: local, ch: make(chan []byte, directionBuffer)}
	local.out = l.ab
	back.out = l.ba

	go l.pump(l.ab)
	go l.pump(l.ba)

	return local
}

// pump 方向泵：保证同方向消息按发送顺序交付
func (l *link) pump(d *direction) {
	for {
		select {
		case <-l.done:
			// 链路关闭前已入链的消息尽力送完（优雅断开的 ack
			// 就在这条路径上）
			for {
				select {
				case raw := <-d.ch:
					d.to.deliver(raw, d.from.origin, d.handle)
				default:
					return
				}
			}
		case raw := <-d.ch:
			d.to.deliver(raw, d.from.origin, d.handle)
		}
	}
}

// close 关闭链路（幂等）
func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

// isClosed 链路是否已关闭
func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ════════════════════════════════════════════════════════════════════════════
//                              Transport 实现
// ════════════════════════════════════════════════════════════════════════════

// Send 把字节送入句柄对应的方向
func (e *Endpoint) Send(raw []byte, handle interfaces.TargetHandle, originHint string) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return errors.New("inproc: foreign handle")
	}
	if h.link.isClosed() || e.isClosed() || h.remote.isClosed() {
		return ErrClosed
	}

	// 调用方持有的字节在投递后可能被复用，入链前拷贝
	buf := make([]byte, len(raw))
	copy(buf, raw)

	select {
	case h.out.ch <- buf:
		return nil
	default:
		return ErrBacklog
	}
}

// ResolveOrigin 返回句柄对端的来源
func (e *Endpoint) ResolveOrigin(handle interfaces.TargetHandle) (string, bool) {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return "", false
	}
	return h.remote.origin, true
}

// IsAlive 判断句柄是否仍可用
func (e *Endpoint) IsAlive(handle interfaces.TargetHandle) bool {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return false
	}
	return !h.link.isClosed() && !h.remote.isClosed() && !e.isClosed()
}

// Close 关闭句柄对应的链路（双向）
func (e *Endpoint) Close(handle interfaces.TargetHandle) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return errors.New("inproc: foreign handle")
	}
	h.link.close()
	return nil
}
