// Package lifecycle 实现连接生命周期状态机
//
// 覆盖三个阶段：握手（init/ack 建立可信来源）、心跳（周期 ping
// 检测静默死亡的对端）、断开（两阶段优雅断开或故障直接拆除）。
//
// 状态迁移：
//
//	Disconnected → Connecting → Connected → Disconnecting → Disconnected
//
// 心跳失败或传输死亡时 Connected 直接迁移到 Disconnected。
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/portlink/go-portlink/config"
	"github.com/portlink/go-portlink/internal/core/eventbus"
	"github.com/portlink/go-portlink/internal/core/metrics"
	"github.com/portlink/go-portlink/internal/core/registry"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

var logger = log.Logger("core/lifecycle")

// Core 生命周期状态机对关联引擎的依赖
//
// 通过接口解耦：状态机只需要"发一个系统请求并等响应"和
// "目标没了，清理挂起状态"两个能力。
type Core interface {
	// SendSystem 发送系统请求并等待响应信封
	//
	// 走关联引擎的挂起表，但绕过应用层的清洗/限流/Schema 管线。
	SendSystem(ctx context.Context, targetID, msgType string, payload any, timeout time.Duration) (*wire.Response, error)

	// TargetRemoved 目标被移除后的回调
	//
	// 引擎在这里拒绝发往该目标的挂起请求并清理限流窗口。
	TargetRemoved(targetID string, perr *types.Error)
}

// Manager 连接生命周期管理器
type Manager struct {
	cfg       *config.Config
	clock     clock.Clock
	transport interfaces.Transport
	registry  *registry.Registry
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	core      Core

	origin   string
	instance string

	mu         sync.Mutex
	heartbeats map[string]*heartbeatRunner
	closed     bool
}

// New 创建生命周期管理器
func New(
	cfg *config.Config,
	clk clock.Clock,
	transport interfaces.Transport,
	reg *registry.Registry,
	bus *eventbus.Bus,
	m *metrics.Metrics,
	core Core,
	origin, instance string,
) *Manager {
	return &Manager{
		cfg:        cfg,
		clock:      clk,
		transport:  transport,
		registry:   reg,
		bus:        bus,
		metrics:    m,
		core:       core,
		origin:     origin,
		instance:   instance,
		heartbeats: make(map[string]*heartbeatRunner),
	}
}

// StopAll 停止所有心跳并拆除所有目标（不通知对端）
//
// 引擎销毁时调用。
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.closed = true
	runners := make([]*heartbeatRunner, 0, len(m.heartbeats))
	for _, r := range m.heartbeats {
		runners = append(runners, r)
	}
	m.heartbeats = make(map[string]*heartbeatRunner)
	m.mu.Unlock()

	for _, r := range runners {
		r.stop()
	}

	for _, id := range m.registry.AllIDs() {
		m.Teardown(id, types.ReasonShutdown)
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              拆除
// ════════════════════════════════════════════════════════════════════════════

// Teardown 本地拆除一个目标
//
// 幂等：目标不存在时为空操作。停止心跳、关闭传输通道、从注册表
// 移除、拒绝该目标的挂起请求，并发出状态事件。不通知对端——
// 需要通知的路径（优雅断开）在调用前自行完成通知。
func (m *Manager) Teardown(targetID string, reason types.DisconnectReason) {
	m.stopHeartbeat(targetID)

	t, ok := m.registry.Get(targetID)
	if !ok {
		return
	}

	oldState := t.State
	_, _ = m.registry.SetState(targetID, types.StateDisconnected)

	if err := m.transport.Close(t.Handle); err != nil {
		logger.Debug("关闭传输通道失败", "targetID", targetID, "error", err)
	}
	_ = m.registry.Remove(targetID)

	code := types.CodeConnectionClosed
	if reason == types.ReasonHeartbeatTimeout || reason == types.ReasonTransportDead {
		code = types.CodeConnectionLost
	}
	m.core.TargetRemoved(targetID, types.NewErrorf(code, "target %s disconnected (%s)", targetID, reason))

	m.metrics.ConnectedTargets.Set(float64(len(m.registry.ConnectedIDs())))

	m.emitState(targetID, oldState, types.StateDisconnected)
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventDisconnected,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Data:      map[string]any{"reason": string(reason)},
	})

	logger.Info("目标已断开", "targetID", targetID, "reason", string(reason))
}

// emitState 发出状态变更事件
func (m *Manager) emitState(targetID string, from, to types.ConnectionState) {
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventStateChanged,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Data: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
	})
}

// newTargetID 生成目标 ID
func newTargetID() string {
	return "target-" + uuid.New().String()[:8]
}
