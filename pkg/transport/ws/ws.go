// Package ws 提供 WebSocket 传输适配器
//
// 基于 gorilla/websocket。一个 Adapter 可以同时承载多条连接：
// 每条连接绑定一个来源（服务端取握手请求的 Origin 头，客户端
// 由拨号方声明），读循环把入站帧交给引擎的接收回调。
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
)

var logger = log.Logger("transport/ws")

// 错误定义
var (
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("ws: connection is closed")

	// ErrForeignHandle 句柄不是本适配器签发的
	ErrForeignHandle = errors.New("ws: foreign handle")
)

// writeTimeout 单帧写超时
const writeTimeout = 10 * time.Second

// closeGrace 关闭帧发出后等待对端的窗口
const closeGrace = time.Second

// Adapter WebSocket 传输适配器
type Adapter struct {
	mu       sync.RWMutex
	receiver interfaces.ReceiveFunc
}

// 确保 Adapter 实现传输接口
var _ interfaces.Transport = (*Adapter)(nil)

// NewAdapter 创建适配器
func NewAdapter() *Adapter {
	return &Adapter{}
}

// SetReceiver 设置入站回调
func (a *Adapter) SetReceiver(fn interfaces.ReceiveFunc) {
	a.mu.Lock()
	a.receiver = fn
	a.mu.Unlock()
}

// Conn 一条 WebSocket 连接
//
// gorilla 的连接不允许并发写，writeMu 串行化所有出站帧。
type Conn struct {
	ws     *websocket.Conn
	origin string

	writeMu sync.Mutex
	closed  atomic.Bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              建链
// ════════════════════════════════════════════════════════════════════════════

// Dial 以客户端身份建立连接
//
// localOrigin 写入握手请求的 Origin 头，对端以此做允许列表检查。
// remoteOrigin 是我们认定的对端来源，用于 ResolveOrigin。
func (a *Adapter) Dial(ctx context.Context, url, localOrigin, remoteOrigin string) (*Conn, error) {
	header := http.Header{}
	if localOrigin != "" {
		header.Set("Origin", localOrigin)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return a.bind(ws, remoteOrigin), nil
}

// Accept 以服务端身份接受一条已升级的连接
//
// 来源取握手请求的 Origin 头。升级本身由调用方完成（Upgrader
// 的跨域策略属于 HTTP 层，不在这里越权决定）。
func (a *Adapter) Accept(ws *websocket.Conn, r *http.Request) *Conn {
	return a.bind(ws, r.Header.Get("Origin"))
}

// bind 绑定连接并启动读循环
func (a *Adapter) bind(ws *websocket.Conn, origin string) *Conn {
	c := &Conn{ws: ws, origin: origin}
	go a.readLoop(c)
	return c
}

// readLoop 连接读循环
//
// 读错误（对端关闭、网络断开）终止循环并标记连接死亡，由引擎
// 的心跳或下一次发送发现。
func (a *Adapter) readLoop(c *Conn) {
	defer c.markClosed()

	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				logger.Debug("读循环退出", "origin", c.origin, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		a.mu.RLock()
		fn := a.receiver
		a.mu.RUnlock()
		if fn != nil {
			fn(raw, c.origin, c)
		}
	}
}

// markClosed 标记连接死亡并释放底层套接字
func (c *Conn) markClosed() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.ws.Close()
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Transport 实现
// ════════════════════════════════════════════════════════════════════════════

// Send 发送一帧
func (a *Adapter) Send(raw []byte, handle interfaces.TargetHandle, originHint string) error {
	c, ok := handle.(*Conn)
	if !ok || c == nil {
		return ErrForeignHandle
	}
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

// ResolveOrigin 返回连接绑定的对端来源
func (a *Adapter) ResolveOrigin(handle interfaces.TargetHandle) (string, bool) {
	c, ok := handle.(*Conn)
	if !ok || c == nil || c.origin == "" {
		return "", false
	}
	return c.origin, true
}

// IsAlive 判断连接是否仍可用
func (a *Adapter) IsAlive(handle interfaces.TargetHandle) bool {
	c, ok := handle.(*Conn)
	return ok && c != nil && !c.closed.Load()
}

// Close 关闭连接
//
// 尽力发送关闭帧后释放套接字。
func (a *Adapter) Close(handle interfaces.TargetHandle) error {
	c, ok := handle.(*Conn)
	if !ok || c == nil {
		return ErrForeignHandle
	}
	if c.closed.Load() {
		return nil
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(closeGrace))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.markClosed()
	return nil
}
