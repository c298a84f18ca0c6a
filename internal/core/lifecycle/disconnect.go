// Package lifecycle 实现连接生命周期状态机
package lifecycle

import (
	"context"

	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// Disconnect 优雅断开一个目标（发起方）
//
// 进入 Disconnecting、立即停止心跳，在一个短的固定窗口内尝试
// 通知对端（通知失败只记日志，不阻止断开），然后无条件执行
// 本地拆除。
func (m *Manager) Disconnect(ctx context.Context, targetID string) error {
	t, ok := m.registry.Get(targetID)
	if !ok {
		return types.NewErrorf(types.CodeTargetNotFound, "target %q is not registered", targetID)
	}

	oldState := t.State
	_, _ = m.registry.SetState(targetID, types.StateDisconnecting)
	m.emitState(targetID, oldState, types.StateDisconnecting)

	m.stopHeartbeat(targetID)

	// 尽力通知对端，窗口固定且短
	notifyCtx, cancel := context.WithTimeout(ctx, m.cfg.DisconnectNotifyTimeout.Std())
	_, err := m.core.SendSystem(notifyCtx, targetID, wire.TypeDisconnect, map[string]any{
		"reason": string(types.ReasonLocal),
	}, m.cfg.DisconnectNotifyTimeout.Std())
	cancel()
	if err != nil {
		logger.Warn("断开通知未送达", "targetID", log.TruncateID(targetID, 12), "error", err)
	}

	m.Teardown(targetID, types.ReasonLocal)
	return nil
}

// HandleDisconnect 处理对端发起的断开请求
//
// 先确认收到，再执行与主动断开相同的本地拆除（不再回头通知
// 对端），原因记为 remote_disconnect。
func (m *Manager) HandleDisconnect(req *wire.Request, handle interfaces.TargetHandle, respond func(any) error) {
	t, ok := m.registry.FindByInstance(req.Sender)
	if !ok {
		// 不认识的对端，确认后忽略
		_ = respond(map[string]any{"ok": true})
		return
	}

	if err := respond(map[string]any{"ok": true}); err != nil {
		logger.Debug("断开确认发送失败", "targetID", log.TruncateID(t.ID, 12), "error", err)
	}

	m.stopHeartbeat(t.ID)
	m.Teardown(t.ID, types.ReasonRemote)
}
