// Package lifecycle 实现连接生命周期状态机
package lifecycle

import (
	"context"
	"errors"

	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// heartbeatRunner 单个目标的心跳循环
type heartbeatRunner struct {
	targetID string
	done     chan struct{}
	stopOnce func()
}

// stop 停止心跳循环（幂等）
func (r *heartbeatRunner) stop() {
	r.stopOnce()
}

// startHeartbeat 为目标启动心跳循环
//
// 连接建立后由握手发起方调用。预热延迟后按固定间隔发送 ping，
// 每个 ping 携带独立超时。连续丢失达到阈值即本地断开。
func (m *Manager) startHeartbeat(targetID string) {
	if !m.cfg.Heartbeat.Enabled {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, exists := m.heartbeats[targetID]; exists {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	var closed bool
	runner := &heartbeatRunner{
		targetID: targetID,
		done:     done,
	}
	runner.stopOnce = func() {
		m.mu.Lock()
		if !closed {
			closed = true
			close(done)
		}
		m.mu.Unlock()
	}
	m.heartbeats[targetID] = runner
	m.mu.Unlock()

	go m.heartbeatLoop(runner)
}

// stopHeartbeat 停止目标的心跳循环
func (m *Manager) stopHeartbeat(targetID string) {
	m.mu.Lock()
	runner, ok := m.heartbeats[targetID]
	if ok {
		delete(m.heartbeats, targetID)
	}
	m.mu.Unlock()

	if ok {
		runner.stop()
	}
}

// heartbeatLoop 心跳循环体
func (m *Manager) heartbeatLoop(r *heartbeatRunner) {
	hb := m.cfg.Heartbeat

	// 预热延迟：给对端留出初始化时间
	warmup := m.clock.Timer(hb.WarmupDelay.Std())
	select {
	case <-r.done:
		warmup.Stop()
		return
	case <-warmup.C:
	}

	ticker := m.clock.Ticker(hb.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if !m.pingOnce(r) {
				return
			}
		}
	}
}

// pingOnce 发送一次 ping 并按结果更新计数
//
// 返回 false 表示连接已被拆除，循环应当退出。
func (m *Manager) pingOnce(r *heartbeatRunner) bool {
	targetID := r.targetID
	hb := m.cfg.Heartbeat

	t, ok := m.registry.Get(targetID)
	if !ok || t.State != types.StateConnected {
		return false
	}

	// 传输句柄已死（窗口关闭、连接断开）直接拆除
	if !m.transport.IsAlive(t.Handle) {
		logger.Warn("传输句柄已失效", "targetID", log.TruncateID(targetID, 12))
		m.connectionLost(targetID, types.ReasonTransportDead)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), hb.Timeout.Std())
	resp, err := m.core.SendSystem(ctx, targetID, wire.TypePing, map[string]any{"kind": "sys/ping"}, hb.Timeout.Std())
	cancel()

	if err == nil {
		// pong 只记在实例 ID 匹配的目标上：第三方代答不能
		// 维持别人的连接
		if t.InstanceID != "" && resp.Sender != t.InstanceID {
			logger.Warn("pong 实例 ID 不匹配，按丢失处理",
				"targetID", log.TruncateID(targetID, 12),
				"sender", log.TruncateID(resp.Sender, 12))
			err = types.NewError(types.CodeInvalidProtocol, "pong sender mismatch")
		}
	}

	if err == nil {
		_ = m.registry.HeartbeatOK(targetID)
		return true
	}

	// 任何失败都计一次心跳丢失
	missed, merr := m.registry.HeartbeatMissed(targetID)
	if merr != nil {
		return false
	}
	m.metrics.HeartbeatsMissed.Inc()
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventHeartbeatMissed,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Data:      map[string]any{"missed": missed, "maxMissed": hb.MaxMissed},
	})
	logger.Debug("心跳丢失", "targetID", log.TruncateID(targetID, 12), "missed", missed)

	// 本地发送失败与响应超时分开计数：传输层持续报错说明
	// 通道本身已坏，不必等到心跳阈值
	if !errors.Is(err, context.DeadlineExceeded) && types.CodeOf(err) != types.CodeResponseTimeout {
		failures, ferr := m.registry.SendFailed(targetID)
		if ferr == nil && failures >= hb.MaxFailures {
			m.connectionLost(targetID, types.ReasonTransportDead)
			return false
		}
	}

	if missed >= hb.MaxMissed {
		m.connectionLost(targetID, types.ReasonHeartbeatTimeout)
		return false
	}
	return true
}

// connectionLost 心跳或传输判定连接丢失
//
// 先发 connection-lost 事件再拆除。
func (m *Manager) connectionLost(targetID string, reason types.DisconnectReason) {
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventConnectionLost,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Data:      map[string]any{"reason": string(reason)},
	})
	logger.Warn("连接丢失", "targetID", log.TruncateID(targetID, 12), "reason", string(reason))
	m.Teardown(targetID, reason)
}

// HandlePing 处理对端的 ping 请求
func (m *Manager) HandlePing(req *wire.Request, respond func(any) error) {
	// 对端有活动就刷新活动时间
	if t, ok := m.registry.FindByInstance(req.Sender); ok {
		m.registry.MarkActivity(t.ID)
	}
	if err := respond(map[string]any{"kind": "sys/pong"}); err != nil {
		logger.Debug("发送 pong 失败", "sender", log.TruncateID(req.Sender, 12), "error", err)
	}
}
