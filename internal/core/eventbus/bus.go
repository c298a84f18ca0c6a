// Package eventbus 实现系统事件总线
//
// 按事件名订阅，每个订阅持有独立的缓冲通道与投递 goroutine：
// 慢的订阅者只会丢自己的事件（带计数告警），不会阻塞引擎。
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
)

var logger = log.Logger("core/eventbus")

// ErrClosed 事件总线已关闭
var ErrClosed = errors.New("eventbus closed")

// subscriberBuffer 每个订阅的事件缓冲大小
const subscriberBuffer = 16

// Bus 系统事件总线
type Bus struct {
	mu     sync.Mutex
	closed bool
	nextID uint64

	// subs 事件名 -> 订阅集合
	subs map[types.SystemEvent]map[uint64]*subscription
}

// subscription 单个订阅
type subscription struct {
	ch        chan types.SystemNotification
	done      chan struct{}
	closeOnce sync.Once
	dropCount atomic.Int64
}

// close 结束投递循环（取消订阅与总线关闭都会走到这里）
func (s *subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// New 创建事件总线
func New() *Bus {
	return &Bus{
		subs: make(map[types.SystemEvent]map[uint64]*subscription),
	}
}

// Subscribe 订阅一个系统事件
//
// handler 在订阅自己的 goroutine 上被调用，返回取消订阅函数。
// handler 内的 panic 被捕获并记录，不影响其他订阅。
func (b *Bus) Subscribe(event types.SystemEvent, handler func(types.SystemNotification)) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	b.nextID++
	id := b.nextID
	sub := &subscription{
		ch:   make(chan types.SystemNotification, subscriberBuffer),
		done: make(chan struct{}),
	}
	if b.subs[event] == nil {
		b.subs[event] = make(map[uint64]*subscription)
	}
	b.subs[event][id] = sub
	b.mu.Unlock()

	go sub.deliverLoop(event, handler)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[event]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.subs, event)
				}
			}
			b.mu.Unlock()
			sub.close()
		})
	}
	return unsubscribe, nil
}

// Emit 发布一个系统事件
//
// 不阻塞：订阅者缓冲满时丢弃并计数。总线关闭后 Emit 是空操作。
func (b *Bus) Emit(n types.SystemNotification) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	set := b.subs[n.Event]
	targets := make([]*subscription, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- n:
		default:
			if dropped := sub.dropCount.Add(1); dropped%100 == 1 {
				logger.Warn("订阅者处理过慢，事件被丢弃",
					"event", string(n.Event), "dropped", dropped)
			}
		}
	}
}

// Close 关闭总线并结束所有投递 goroutine
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscription
	for _, set := range b.subs {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[types.SystemEvent]map[uint64]*subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}

// deliverLoop 订阅的投递循环
func (s *subscription) deliverLoop(event types.SystemEvent, handler func(types.SystemNotification)) {
	for {
		select {
		case <-s.done:
			return
		case n := <-s.ch:
			invoke(event, handler, n)
		}
	}
}

// invoke 调用处理器并捕获 panic
func invoke(event types.SystemEvent, handler func(types.SystemNotification), n types.SystemNotification) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("系统事件处理器 panic", "event", string(event), "panic", r)
		}
	}()
	handler(n)
}
