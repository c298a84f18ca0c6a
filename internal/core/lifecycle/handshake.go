// Package lifecycle 实现连接生命周期状态机
package lifecycle

import (
	"context"

	"github.com/portlink/go-portlink/internal/core/security"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// ack 负载的 kind 标记
const ackKind = "sys/handshake_ack"

// Connect 以发起方身份建立连接
//
// 登记目标（Connecting）、发送 HANDSHAKE_INIT 并等待 ack。
// ack 到达前由握手超时兜底；超时或失败时释放全部局部状态，
// Connect 返回 HANDSHAKE_FAILED。成功后目标进入 Connected
// 并启动心跳（发起方持有心跳计划）。
func (m *Manager) Connect(ctx context.Context, handle interfaces.TargetHandle, targetID string) (string, error) {
	if targetID == "" {
		targetID = newTargetID()
	}

	origin, _ := m.transport.ResolveOrigin(handle)

	if _, err := m.registry.Add(targetID, handle, origin); err != nil {
		return targetID, types.NewErrorf(types.CodeHandshakeFailed, "target %s already registered", targetID)
	}

	m.emitState(targetID, types.StateDisconnected, types.StateConnecting)
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventHandshakeStart,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
	})

	logger.Debug("发送握手请求", "targetID", targetID, "origin", origin)

	resp, err := m.core.SendSystem(ctx, targetID, wire.TypeHandshakeInit, map[string]any{
		"instanceId": m.instance,
		"origin":     m.origin,
	}, m.cfg.HandshakeTimeout.Std())
	if err != nil {
		m.failHandshake(targetID, err)
		return targetID, types.NewErrorf(types.CodeHandshakeFailed,
			"handshake with %s failed: %v", targetID, err)
	}

	peerInstance, ackOrigin := parseAck(resp)
	if peerInstance == "" {
		m.failHandshake(targetID, nil)
		return targetID, types.NewErrorf(types.CodeHandshakeFailed,
			"handshake with %s failed: malformed ack", targetID)
	}

	// 出站寻址用的来源以传输层解析结果为准，ack 里声明的来源
	// 只在传输层无法解析时补位，且必须是允许列表里的具体来源
	// （ValidateOrigin 拒绝空串与通配）
	peerOrigin := origin
	if peerOrigin == "" {
		if err := security.ValidateOrigin(ackOrigin, m.cfg.AllowedOrigins); err != nil {
			m.failHandshake(targetID, err)
			return targetID, types.NewErrorf(types.CodeHandshakeFailed,
				"handshake with %s failed: unusable peer origin %q", targetID, ackOrigin)
		}
		peerOrigin = ackOrigin
	}

	_ = m.registry.SetPeer(targetID, peerOrigin, peerInstance)
	m.completeHandshake(targetID, types.StateConnecting)

	// 发起方持有心跳计划
	m.startHeartbeat(targetID)

	return targetID, nil
}

// HandleInit 以接受方身份处理对端的握手请求
//
// 把观察到的来源记为该目标的可信来源，回复 ack。目标 ID 取
// 对端实例 ID；同一对端重新握手视为重连，更新句柄与来源。
func (m *Manager) HandleInit(req *wire.Request, origin string, handle interfaces.TargetHandle, respond func(any) error) {
	targetID := req.Sender

	m.bus.Emit(types.SystemNotification{
		Event:     types.EventHandshakeStart,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
	})

	prevState := types.StateDisconnected
	if existing, ok := m.registry.Get(targetID); ok {
		// 重连：丢弃旧的连接状态
		prevState = existing.State
		m.stopHeartbeat(targetID)
		_ = m.registry.Remove(targetID)
	}

	if _, err := m.registry.Add(targetID, handle, origin); err != nil {
		logger.Warn("握手登记失败", "targetID", log.TruncateID(targetID, 8), "error", err)
		return
	}
	_ = m.registry.SetPeer(targetID, origin, req.Sender)

	if err := respond(map[string]any{
		"kind":       ackKind,
		"instanceId": m.instance,
		"origin":     m.origin,
	}); err != nil {
		logger.Warn("发送握手 ack 失败", "targetID", log.TruncateID(targetID, 8), "error", err)
		m.registry.Remove(targetID)
		m.bus.Emit(types.SystemNotification{
			Event:     types.EventHandshakeFailed,
			TargetID:  targetID,
			Timestamp: m.clock.Now(),
			Data:      map[string]any{"error": err.Error()},
		})
		return
	}

	m.completeHandshake(targetID, prevState)
}

// completeHandshake 把目标置为 Connected 并发出事件
func (m *Manager) completeHandshake(targetID string, from types.ConnectionState) {
	_, _ = m.registry.SetState(targetID, types.StateConnected)
	m.metrics.ConnectedTargets.Set(float64(len(m.registry.ConnectedIDs())))

	m.emitState(targetID, from, types.StateConnected)
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventHandshakeDone,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
	})
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventConnected,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
	})

	logger.Info("握手完成", "targetID", log.TruncateID(targetID, 12))
}

// failHandshake 握手失败，释放局部状态
func (m *Manager) failHandshake(targetID string, cause error) {
	t, ok := m.registry.Get(targetID)
	if ok {
		_ = m.registry.Remove(targetID)
		_ = m.transport.Close(t.Handle)
	}
	m.core.TargetRemoved(targetID, types.NewErrorf(types.CodeHandshakeFailed, "handshake with %s failed", targetID))

	data := map[string]any{}
	if cause != nil {
		data["error"] = cause.Error()
	}
	m.bus.Emit(types.SystemNotification{
		Event:     types.EventHandshakeFailed,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Data:      data,
	})
	m.emitState(targetID, types.StateConnecting, types.StateDisconnected)

	logger.Warn("握手失败", "targetID", log.TruncateID(targetID, 12), "error", cause)
}

// parseAck 解析 ack 负载
func parseAck(resp *wire.Response) (instanceID, origin string) {
	payload, ok := resp.Payload.(map[string]any)
	if !ok {
		return "", ""
	}
	if kind, _ := payload["kind"].(string); kind != ackKind {
		return "", ""
	}
	instanceID, _ = payload["instanceId"].(string)
	origin, _ = payload["origin"].(string)
	return instanceID, origin
}
