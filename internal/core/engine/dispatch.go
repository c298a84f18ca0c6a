// Package engine 实现请求/响应关联引擎
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/portlink/go-portlink/internal/core/security"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

// ════════════════════════════════════════════════════════════════════════════
//                              入站分发
// ════════════════════════════════════════════════════════════════════════════

// handleInbound 传输适配器的接收回调
//
// 非本协议流量静默丢弃；来源不在允许列表的请求回以
// ORIGIN_REJECTED 错误响应；响应信封交给挂起表了结；系统请求
// 交给生命周期状态机；应用请求走 Schema 校验后分发给处理器。
func (s *Service) handleInbound(raw []byte, origin string, handle interfaces.TargetHandle) {
	if s.checkDestroyed() != nil {
		return
	}
	if !wire.IsProtocolMessage(raw) {
		// 共享信道上的外来流量，不惊动任何人
		return
	}

	if wire.IsResponse(raw) {
		s.handleResponse(raw, origin)
		return
	}
	if wire.IsRequest(raw) {
		s.handleRequest(raw, origin, handle)
		return
	}

	s.metrics.Rejected.WithLabelValues("invalid_envelope").Inc()
	logger.Debug("丢弃无法判别的协议报文", "origin", origin)
}

// handleResponse 处理入站响应信封
func (s *Service) handleResponse(raw []byte, origin string) {
	resp, err := wire.DecodeResponse(raw)
	if err != nil {
		s.metrics.Rejected.WithLabelValues("invalid_response").Inc()
		logger.Warn("丢弃畸形响应", "origin", origin, "error", err)
		return
	}

	if err := s.checkInboundOrigin(origin); err != nil {
		s.metrics.Rejected.WithLabelValues("origin").Inc()
		logger.Warn("丢弃来源被拒的响应", "origin", origin, "requestId", log.TruncateID(resp.RequestID, 8))
		return
	}

	if t, ok := s.registry.FindByInstance(resp.Sender); ok {
		s.registry.MarkActivity(t.ID)
	}
	s.resolvePending(resp)
}

// handleRequest 处理入站请求信封
func (s *Service) handleRequest(raw []byte, origin string, handle interfaces.TargetHandle) {
	req, err := wire.DecodeRequest(raw)
	if err != nil {
		s.metrics.Rejected.WithLabelValues("invalid_request").Inc()
		logger.Warn("入站请求结构非法", "origin", origin, "error", err)
		// 尽力告知发送方：能恢复出消息 ID 才回错误响应
		s.rejectRaw(raw, handle, origin, asProtocolError(err))
		return
	}

	if err := s.checkInboundOrigin(origin); err != nil {
		perr := asProtocolError(err)
		s.metrics.Rejected.WithLabelValues("origin").Inc()
		s.emitError("", perr)
		logger.Warn("拒绝来源不被允许的请求",
			"origin", origin, "type", req.Type, "id", log.TruncateID(req.ID, 8))
		if req.ExpectsResponse {
			s.sendResponse(wire.NewErrorResponse(s.origin, s.instance, req.ID, perr), handle, origin)
		}
		return
	}

	if t, ok := s.registry.FindByInstance(req.Sender); ok {
		s.registry.MarkActivity(t.ID)
	}

	s.metrics.MessagesReceived.WithLabelValues(req.Type).Inc()
	s.bus.Emit(types.SystemNotification{
		Event:     types.EventMessageReceived,
		Timestamp: s.clock.Now(),
		Data:      map[string]any{"type": req.Type, "messageId": req.ID, "sender": req.Sender},
	})

	if wire.IsSystemType(req.Type) {
		s.dispatchSystem(req, origin, handle)
		return
	}

	s.dispatchRequest(req, origin, handle, len(raw))
}

// dispatchSystem 系统请求分发给生命周期状态机
func (s *Service) dispatchSystem(req *wire.Request, origin string, handle interfaces.TargetHandle) {
	respond := func(payload any) error {
		return s.sendResponse(wire.NewResponse(s.origin, s.instance, req.ID, payload), handle, origin)
	}

	switch req.Type {
	case wire.TypeHandshakeInit:
		s.lifecycle.HandleInit(req, origin, handle, respond)
	case wire.TypePing:
		s.lifecycle.HandlePing(req, respond)
	case wire.TypeDisconnect:
		s.lifecycle.HandleDisconnect(req, handle, respond)
	default:
		logger.Warn("未知系统消息类型", "type", req.Type)
	}
}

// dispatchRequest 应用请求分发
//
// 处理器可能反过来调用 Send 并等待响应，所以不能占着传输层的
// 接收路径，整段分发放到独立 goroutine。
func (s *Service) dispatchRequest(req *wire.Request, origin string, handle interfaces.TargetHandle, rawSize int) {
	reject := func(perr *types.Error) {
		if req.ExpectsResponse {
			s.sendResponse(wire.NewErrorResponse(s.origin, s.instance, req.ID, perr), handle, origin)
		}
	}

	if rawSize > s.cfg.MaxPayloadSize {
		s.metrics.Rejected.WithLabelValues("payload_size").Inc()
		reject(types.NewErrorf(types.CodePayloadTooLarge,
			"message of %d bytes exceeds limit of %d", rawSize, s.cfg.MaxPayloadSize).
			WithDetail("size", rawSize).
			WithDetail("limit", s.cfg.MaxPayloadSize))
		return
	}

	// 入站同样限流：按发送方实例记账，防止单个对端刷满本端
	if s.limiter != nil {
		if err := s.limiter.Allow(req.Sender); err != nil {
			s.metrics.RateLimited.Inc()
			reject(asProtocolError(err))
			return
		}
	}

	typeOpts, handlers, _ := s.msgTypes.snapshot(req.Type)

	if err := security.ValidateSchema(req.Payload, typeOpts.Schema); err != nil {
		s.metrics.Rejected.WithLabelValues("schema").Inc()
		logger.Warn("入站负载未通过 Schema 校验",
			"type", req.Type, "id", log.TruncateID(req.ID, 8), "error", err)
		reject(asProtocolError(err))
		return
	}

	if len(handlers) == 0 {
		if req.ExpectsResponse {
			reject(types.NewErrorf(types.CodeNoHandler, "no handler for type %q", req.Type).
				WithDetail("type", req.Type))
		} else {
			logger.Debug("无处理器的入站消息", "type", req.Type)
		}
		return
	}

	msg := &interfaces.Message{
		ID:              req.ID,
		Type:            req.Type,
		Payload:         req.Payload,
		Sender:          req.Sender,
		Origin:          origin,
		ExpectsResponse: req.ExpectsResponse,
	}

	var rsp interfaces.Responder
	if req.ExpectsResponse {
		rsp = &responder{engine: s, requestID: req.ID, targetID: req.Target, handle: handle, origin: origin}
	} else {
		rsp = noResponder{}
	}

	go s.runHandlers(msg, rsp, handlers)
}

// runHandlers 按注册顺序执行处理器
//
// 单个处理器报错或 panic 不影响后续处理器。处理器报错时如果还
// 欠发送方一个响应，用 HANDLER_ERROR 补上。
func (s *Service) runHandlers(msg *interfaces.Message, rsp interfaces.Responder, handlers []handlerEntry) {
	ctx := context.Background()

	for _, h := range handlers {
		if err := s.invokeHandler(ctx, h.fn, msg, rsp); err != nil {
			s.metrics.HandlerErrors.Inc()
			perr := types.NewErrorf(types.CodeHandlerError, "handler for %q failed: %v", msg.Type, err).
				WithDetail("type", msg.Type)
			s.emitError("", perr)
			logger.Error("处理器执行失败", "type", msg.Type, "id", log.TruncateID(msg.ID, 8), "error", err)

			if msg.ExpectsResponse && !rsp.Responded() {
				if rerr := rsp.Reject(perr); rerr != nil {
					logger.Debug("错误响应发送失败", "id", log.TruncateID(msg.ID, 8), "error", rerr)
				}
			}
		}
	}
}

// invokeHandler 执行单个处理器并吸收 panic
func (s *Service) invokeHandler(ctx context.Context, fn interfaces.MessageHandler, msg *interfaces.Message, rsp interfaces.Responder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, msg, rsp)
}

// ════════════════════════════════════════════════════════════════════════════
//                              入站内部
// ════════════════════════════════════════════════════════════════════════════

// checkInboundOrigin 校验入站报文的来源
//
// 只信任传输层观察到的来源。适配器给不出可验证的来源时按拒绝
// 处理；信封里声明的来源字段由对端随意填写，不参与判定。
func (s *Service) checkInboundOrigin(observed string) error {
	return security.ValidateOrigin(observed, s.cfg.AllowedOrigins)
}

// sendResponse 发出响应信封
func (s *Service) sendResponse(resp *wire.Response, handle interfaces.TargetHandle, origin string) error {
	raw, err := wire.Encode(resp)
	if err != nil {
		return types.NewErrorf(types.CodeInvalidProtocol, "encode response: %v", err)
	}
	if err := s.transport.Send(raw, handle, origin); err != nil {
		return types.NewErrorf(types.CodeTargetClosed, "send response failed: %v", err)
	}

	s.metrics.ResponsesSent.Inc()
	s.bus.Emit(types.SystemNotification{
		Event:     types.EventResponseSent,
		Timestamp: s.clock.Now(),
		Data:      map[string]any{"requestId": resp.RequestID, "success": resp.Success},
	})
	return nil
}

// rejectRaw 对无法完整解码的请求尽力回错误响应
//
// 宽松地只取 id 与 expectsResponse 两个字段；取不到 id 就只能
// 丢弃。
func (s *Service) rejectRaw(raw []byte, handle interfaces.TargetHandle, origin string, perr *types.Error) {
	var loose struct {
		ID              string `json:"id"`
		ExpectsResponse bool   `json:"expectsResponse"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil || loose.ID == "" || !loose.ExpectsResponse {
		return
	}
	s.sendResponse(wire.NewErrorResponse(s.origin, s.instance, loose.ID, perr), handle, origin)
}

// asProtocolError 把任意错误规整为结构化协议错误
func asProtocolError(err error) *types.Error {
	var perr *types.Error
	if e, ok := err.(*types.Error); ok {
		perr = e
	} else {
		perr = types.NewErrorf(types.CodeInvalidProtocol, "%v", err)
	}
	return perr
}

// ════════════════════════════════════════════════════════════════════════════
//                              响应器
// ════════════════════════════════════════════════════════════════════════════

// responder 单次响应器
//
// Respond 与 Reject 合计只允许成功一次，第二次调用返回
// ErrAlreadyResponded 并大声记录（这是需要修复的编程错误）。
type responder struct {
	engine    *Service
	requestID string
	targetID  string
	handle    interfaces.TargetHandle
	origin    string
	responded atomic.Bool
}

var _ interfaces.Responder = (*responder)(nil)

// Respond 发送成功响应
func (r *responder) Respond(payload any) error {
	if !r.responded.CompareAndSwap(false, true) {
		logger.Error("对同一请求重复响应", "requestId", log.TruncateID(r.requestID, 8))
		return ErrAlreadyResponded
	}
	clean := security.Sanitize(payload)
	if err := security.CheckPayloadSize(clean, r.engine.cfg.MaxPayloadSize); err != nil {
		// 名额已占用：响应负载超限转为错误响应，不留悬空请求
		return r.sendError(asProtocolError(err))
	}
	return r.engine.sendResponse(
		wire.NewResponse(r.engine.origin, r.engine.instance, r.requestID, clean), r.handle, r.origin)
}

// Reject 发送失败响应
func (r *responder) Reject(perr *types.Error) error {
	if !r.responded.CompareAndSwap(false, true) {
		logger.Error("对同一请求重复响应", "requestId", log.TruncateID(r.requestID, 8))
		return ErrAlreadyResponded
	}
	return r.sendError(perr)
}

// Responded 是否已经响应过
func (r *responder) Responded() bool {
	return r.responded.Load()
}

func (r *responder) sendError(perr *types.Error) error {
	return r.engine.sendResponse(
		wire.NewErrorResponse(r.engine.origin, r.engine.instance, r.requestID, perr), r.handle, r.origin)
}

// noResponder 不期待响应的请求使用的占位响应器
type noResponder struct{}

var _ interfaces.Responder = noResponder{}

func (noResponder) Respond(any) error         { return ErrNoResponseExpected }
func (noResponder) Reject(*types.Error) error { return ErrNoResponseExpected }
func (noResponder) Responded() bool           { return false }
