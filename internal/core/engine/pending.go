// Package engine 实现请求/响应关联引擎
package engine

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// pendingResult 挂起请求的了结结果
type pendingResult struct {
	resp *wire.Response
	err  error
}

// pendingRequest 一个在途的、期待响应的请求
//
// 由引擎独占持有：创建与发送在同一个同步步骤内完成，了结的
// 四条路径（匹配响应、重试耗尽、目标断开、引擎销毁）都先把
// 记录从挂起表摘除再投递结果，保证恰好了结一次。
type pendingRequest struct {
	id       string
	msgType  string
	targetID string
	timeout  time.Duration

	// retriesLeft 剩余重试次数；attempts 已经历的等待轮次
	retriesLeft int
	attempts    int

	// timer 唯一的等待计时器，重试只是重新武装它
	timer *clock.Timer

	sentAt time.Time
	result chan pendingResult
}

// deliver 投递结果（每条记录恰好调用一次）
func (p *pendingRequest) deliver(r pendingResult) {
	p.result <- r
}

// registerPending 登记挂起请求并武装计时器
func (s *Service) registerPending(req *wire.Request, targetID string, timeout time.Duration, retries int) (*pendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, types.NewError(types.CodeEngineDestroyed, "engine has been destroyed")
	}

	p := &pendingRequest{
		id:          req.ID,
		msgType:     req.Type,
		targetID:    targetID,
		timeout:     timeout,
		retriesLeft: retries,
		attempts:    1,
		sentAt:      s.clock.Now(),
		result:      make(chan pendingResult, 1),
	}
	p.timer = s.clock.AfterFunc(timeout, func() { s.onTimeout(req.ID) })
	s.pending[req.ID] = p
	s.metrics.PendingRequests.Set(float64(len(s.pending)))
	return p, nil
}

// removePending 摘除挂起请求（不投递结果）
func (s *Service) removePending(id string) (*pendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	delete(s.pending, id)
	p.timer.Stop()
	s.metrics.PendingRequests.Set(float64(len(s.pending)))
	return p, true
}

// onTimeout 等待计时器到期
//
// 还有重试预算时重新武装计时器延长等待（不重发报文：同一 ID
// 至多一次在途关联，原始报文可能仍在路上）；预算耗尽则以
// RESPONSE_TIMEOUT 拒绝调用方。
func (s *Service) onTimeout(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	if p.retriesLeft > 0 {
		p.retriesLeft--
		p.attempts++
		p.timer.Reset(p.timeout)
		s.mu.Unlock()

		s.metrics.Retries.Inc()
		logger.Debug("等待超时，重新武装计时器",
			"id", log.TruncateID(id, 8), "type", p.msgType, "attempt", p.attempts)
		return
	}

	delete(s.pending, id)
	s.metrics.PendingRequests.Set(float64(len(s.pending)))
	s.mu.Unlock()

	s.metrics.Timeouts.Inc()
	perr := types.NewErrorf(types.CodeResponseTimeout,
		"no response for %s after %d attempt(s) of %s", p.msgType, p.attempts, p.timeout).
		WithDetail("messageId", p.id).
		WithDetail("timeout", p.timeout.String()).
		WithDetail("attempts", p.attempts)

	s.bus.Emit(types.SystemNotification{
		Event:     types.EventTimeout,
		TargetID:  p.targetID,
		Timestamp: s.clock.Now(),
		Data: map[string]any{
			"messageId": p.id,
			"type":      p.msgType,
			"attempts":  p.attempts,
		},
	})
	logger.Warn("请求超时", "id", log.TruncateID(id, 8), "type", p.msgType, "attempts", p.attempts)

	p.deliver(pendingResult{err: perr})
}

// resolvePending 用入站响应了结挂起请求
func (s *Service) resolvePending(resp *wire.Response) {
	s.mu.Lock()
	p, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
		p.timer.Stop()
		s.answered.Add(resp.RequestID, s.clock.Now())
		s.metrics.PendingRequests.Set(float64(len(s.pending)))
		s.mu.Unlock()

		s.metrics.ResponsesReceived.Inc()
		s.bus.Emit(types.SystemNotification{
			Event:     types.EventResponseReceived,
			TargetID:  p.targetID,
			Timestamp: s.clock.Now(),
			Data:      map[string]any{"requestId": resp.RequestID},
		})
		p.deliver(pendingResult{resp: resp})
		return
	}

	// 没有挂起记录：区分重复响应与无主响应
	_, answered := s.answered.Get(resp.RequestID)
	s.mu.Unlock()

	if answered {
		// 同一请求的第二个响应是协议异常，大声失败
		perr := types.NewErrorf(types.CodeDuplicateResponse,
			"second response for request %s", resp.RequestID).
			WithDetail("requestId", resp.RequestID)
		s.metrics.Rejected.WithLabelValues("duplicate_response").Inc()
		s.emitError("", perr)
		logger.Error("收到重复响应", "requestId", log.TruncateID(resp.RequestID, 8), "sender", log.TruncateID(resp.Sender, 12))
		return
	}

	s.metrics.Rejected.WithLabelValues("unmatched_response").Inc()
	logger.Warn("丢弃无主响应", "requestId", log.TruncateID(resp.RequestID, 8))
}

// rejectPendingForTarget 拒绝发往某目标的全部挂起请求
func (s *Service) rejectPendingForTarget(targetID string, perr *types.Error) {
	s.mu.Lock()
	var drained []*pendingRequest
	for id, p := range s.pending {
		if p.targetID == targetID {
			drained = append(drained, p)
			delete(s.pending, id)
		}
	}
	if len(drained) > 0 {
		s.metrics.PendingRequests.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()

	for _, p := range drained {
		p.timer.Stop()
		p.deliver(pendingResult{err: perr})
	}
}
