// Package security 实现安全校验层
package security

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/portlink/go-portlink/pkg/types"
)

// GlobalRateKey 无目标上下文时使用的全局限流键
const GlobalRateKey = "__global__"

// Limiter 固定窗口速率限制器
//
// 每个键独立维护一个一秒窗口的计数器，超出预算即拒绝（快速
// 失败），窗口滚动后重置。窗口按需惰性创建。
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	budget  int
	windows map[string]*rateWindow
}

// rateWindow 单个键的计数窗口
type rateWindow struct {
	start time.Time
	count int
}

// NewLimiter 创建速率限制器
//
// budget 是每个键每秒允许的消息数。
func NewLimiter(clk clock.Clock, budget int) *Limiter {
	return &Limiter{
		clock:   clk,
		budget:  budget,
		windows: make(map[string]*rateWindow),
	}
}

// Allow 检查并记账一次发送
//
// 预算耗尽返回 RATE_LIMIT_EXCEEDED。
func (l *Limiter) Allow(key string) error {
	if key == "" {
		key = GlobalRateKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= time.Second {
		l.windows[key] = &rateWindow{start: now, count: 1}
		return nil
	}

	if w.count >= l.budget {
		return types.NewErrorf(types.CodeRateLimitExceeded,
			"rate limit of %d msg/s exceeded for %q", l.budget, key).
			WithDetail("budget", l.budget)
	}
	w.count++
	return nil
}

// Forget 丢弃某个键的窗口（目标被移除时调用）
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}
