// Package engine 实现请求/响应关联引擎
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/portlink/go-portlink/internal/core/registry"
	"github.com/portlink/go-portlink/internal/core/security"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型注册
// ════════════════════════════════════════════════════════════════════════════

// Register 显式注册消息类型
func (s *Service) Register(msgType string, opts interfaces.TypeOptions) error {
	if err := s.checkDestroyed(); err != nil {
		return err
	}
	return s.msgTypes.register(msgType, opts)
}

// Unregister 注销消息类型
func (s *Service) Unregister(msgType string) error {
	if err := s.checkDestroyed(); err != nil {
		return err
	}
	return s.msgTypes.unregister(msgType)
}

// On 订阅某类型的入站请求
func (s *Service) On(msgType string, handler interfaces.MessageHandler) (interfaces.Unsubscribe, error) {
	if err := s.checkDestroyed(); err != nil {
		return nil, err
	}
	if wire.IsSystemType(msgType) {
		return nil, fmt.Errorf("%w: %s", ErrSystemType, msgType)
	}
	unsub := s.msgTypes.addHandler(msgType, handler)
	return interfaces.Unsubscribe(unsub), nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              发送
// ════════════════════════════════════════════════════════════════════════════

// Send 发送请求
//
// 管线：解析目标 → 清洗 → 大小检查 → 速率限制（按解析后的
// 目标记账）→ Schema 校验 → 构造信封 → 经传输适配器发出。
// 期待响应时阻塞直到响应、超时或 ctx 取消。
func (s *Service) Send(ctx context.Context, msgType string, payload any, opts interfaces.SendOptions) (any, error) {
	if err := s.checkDestroyed(); err != nil {
		return nil, err
	}
	if wire.IsSystemType(msgType) {
		return nil, fmt.Errorf("%w: %s", ErrSystemType, msgType)
	}

	typeOpts, _, _ := s.msgTypes.snapshot(msgType)
	s.msgTypes.ensure(msgType)

	target, err := s.resolveTarget(opts.TargetID)
	if err != nil {
		return nil, err
	}

	clean, err := s.validateOutbound(payload, target.ID, typeOpts.Schema)
	if err != nil {
		return nil, err
	}

	req := wire.NewRequest(s.origin, s.instance, msgType, clean, opts.ExpectsResponse, target.ID)

	if !opts.ExpectsResponse {
		if err := s.sendToTarget(req, target); err != nil {
			return nil, err
		}
		return nil, nil
	}

	timeout := s.effectiveTimeout(typeOpts.Timeout, opts.Timeout)
	retries := s.effectiveRetries(typeOpts.Retries, opts.Retries)

	// 登记与发送在同一个同步步骤内完成
	p, err := s.registerPending(req, target.ID, timeout, retries)
	if err != nil {
		return nil, err
	}
	if err := s.sendToTarget(req, target); err != nil {
		s.removePending(req.ID)
		return nil, err
	}

	return s.await(ctx, p)
}

// Broadcast 向所有已连接目标广播
//
// 同一管线、同一个信封，逐目标尽力投递：单个目标失败只记日志
// 与失败计数，不回滚也不阻塞其他目标。
func (s *Service) Broadcast(msgType string, payload any) error {
	if err := s.checkDestroyed(); err != nil {
		return err
	}
	if wire.IsSystemType(msgType) {
		return fmt.Errorf("%w: %s", ErrSystemType, msgType)
	}

	typeOpts, _, _ := s.msgTypes.snapshot(msgType)
	s.msgTypes.ensure(msgType)

	clean, err := s.validateOutbound(payload, "", typeOpts.Schema)
	if err != nil {
		return err
	}

	req := wire.NewRequest(s.origin, s.instance, msgType, clean, false, "")

	for _, id := range s.registry.ConnectedIDs() {
		target, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if err := s.sendToTarget(req, target); err != nil {
			logger.Warn("广播目标投递失败",
				"targetID", log.TruncateID(id, 12), "type", msgType, "error", err)
		}
	}
	return nil
}

// SendSystem 发送系统请求并等待响应信封
//
// 生命周期状态机专用：绕过清洗/限流/Schema，不重试，目标不要求
// 处于 Connected 状态（握手与断开阶段都要用）。
func (s *Service) SendSystem(ctx context.Context, targetID, msgType string, payload any, timeout time.Duration) (*wire.Response, error) {
	target, ok := s.registry.Get(targetID)
	if !ok {
		return nil, types.NewErrorf(types.CodeTargetNotFound, "target %q is not registered", targetID)
	}

	req := wire.NewRequest(s.origin, s.instance, msgType, payload, true, targetID)

	p, err := s.registerPending(req, targetID, timeout, 0)
	if err != nil {
		return nil, err
	}
	if err := s.sendToTarget(req, target); err != nil {
		s.removePending(req.ID)
		return nil, err
	}

	select {
	case <-ctx.Done():
		s.removePending(req.ID)
		return nil, ctx.Err()
	case r := <-p.result:
		if r.err != nil {
			return nil, r.err
		}
		if !r.resp.Success {
			if r.resp.Error != nil {
				return nil, r.resp.Error
			}
			return nil, types.NewError(types.CodeInvalidProtocol, "failed response without error")
		}
		return r.resp, nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              管线内部
// ════════════════════════════════════════════════════════════════════════════

// validateOutbound 出站验证管线
func (s *Service) validateOutbound(payload any, targetID string, schema *interfaces.Schema) (any, error) {
	clean := security.Sanitize(payload)

	if err := security.CheckPayloadSize(clean, s.cfg.MaxPayloadSize); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(targetID); err != nil {
			s.metrics.RateLimited.Inc()
			return nil, err
		}
	}

	if err := security.ValidateSchema(clean, schema); err != nil {
		return nil, err
	}
	return clean, nil
}

// resolveTarget 解析发送目标
//
// 指定 ID 时目标必须已连接；未指定时取唯一已连接目标，多个时
// 取其中任意一个，一个都没有则快速失败。
func (s *Service) resolveTarget(targetID string) (*registry.Target, error) {
	if targetID != "" {
		t, ok := s.registry.Get(targetID)
		if !ok {
			return nil, types.NewErrorf(types.CodeTargetNotFound, "target %q is not registered", targetID)
		}
		if t.State != types.StateConnected {
			return nil, types.NewErrorf(types.CodeTargetClosed, "target %q is %s", targetID, t.State)
		}
		return t, nil
	}

	if id, ok := s.registry.SoleConnected(); ok {
		t, _ := s.registry.Get(id)
		return t, nil
	}
	ids := s.registry.ConnectedIDs()
	if len(ids) == 0 {
		return nil, types.NewError(types.CodeTargetNotFound, "no connected target")
	}
	t, _ := s.registry.Get(ids[0])
	return t, nil
}

// sendToTarget 经传输适配器投递一个请求信封
//
// 出站永远指向目标的具体来源，不使用通配。
func (s *Service) sendToTarget(req *wire.Request, target *registry.Target) error {
	raw, err := wire.Encode(req)
	if err != nil {
		return types.NewErrorf(types.CodeInvalidProtocol, "encode request: %v", err)
	}

	if err := s.transport.Send(raw, target.Handle, target.Origin); err != nil {
		_, _ = s.registry.SendFailed(target.ID)
		return types.NewErrorf(types.CodeTargetClosed,
			"send to %q failed: %v", target.ID, err)
	}

	s.registry.SendOK(target.ID)
	s.metrics.MessagesSent.WithLabelValues(req.Type).Inc()
	s.bus.Emit(types.SystemNotification{
		Event:     types.EventMessageSent,
		TargetID:  target.ID,
		Timestamp: s.clock.Now(),
		Data:      map[string]any{"type": req.Type, "messageId": req.ID},
	})
	return nil
}

// await 挂起调用方直到请求了结
func (s *Service) await(ctx context.Context, p *pendingRequest) (any, error) {
	select {
	case <-ctx.Done():
		s.removePending(p.id)
		return nil, ctx.Err()
	case r := <-p.result:
		if r.err != nil {
			return nil, r.err
		}
		if !r.resp.Success {
			if r.resp.Error != nil {
				return nil, r.resp.Error
			}
			return nil, types.NewError(types.CodeInvalidProtocol, "failed response without error")
		}
		return r.resp.Payload, nil
	}
}

// effectiveTimeout 超时解析：类型覆盖 → 调用覆盖 → 引擎默认
func (s *Service) effectiveTimeout(typeTimeout, callTimeout time.Duration) time.Duration {
	if typeTimeout > 0 {
		return typeTimeout
	}
	if callTimeout > 0 {
		return callTimeout
	}
	return s.cfg.Timeout.Std()
}

// effectiveRetries 重试解析：类型覆盖 → 调用覆盖 → 引擎默认
func (s *Service) effectiveRetries(typeRetries, callRetries int) int {
	if typeRetries >= 0 {
		return typeRetries
	}
	if callRetries >= 0 {
		return callRetries
	}
	return s.cfg.Retries
}
