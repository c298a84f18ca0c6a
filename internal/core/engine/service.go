// Package engine 实现请求/响应关联引擎
//
// 引擎是应用代码直接驱动的编排层：出站消息经过清洗、大小检查、
// 速率限制、Schema 校验后构造信封发出；期待响应的请求登记到
// 挂起表，由响应、重试计时器或销毁来了结。入站报文经安全层
// 检查后分发给挂起表（响应）、生命周期状态机（系统请求）或
// 应用处理器（普通请求）。
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/portlink/go-portlink/config"
	"github.com/portlink/go-portlink/internal/core/eventbus"
	"github.com/portlink/go-portlink/internal/core/lifecycle"
	"github.com/portlink/go-portlink/internal/core/metrics"
	"github.com/portlink/go-portlink/internal/core/registry"
	"github.com/portlink/go-portlink/internal/core/security"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/types"
)

var logger = log.Logger("core/engine")

// 错误定义
var (
	// ErrNilTransport 传输适配器为 nil
	ErrNilTransport = errors.New("engine: transport is nil")

	// ErrTypeRegistered 消息类型已显式注册
	ErrTypeRegistered = errors.New("engine: message type already registered")

	// ErrTypeNotFound 消息类型不存在
	ErrTypeNotFound = errors.New("engine: message type not found")

	// ErrSystemType 不允许操作内部系统类型
	ErrSystemType = errors.New("engine: system message types are reserved")

	// ErrAlreadyResponded 单次响应器被第二次调用
	ErrAlreadyResponded = errors.New("engine: request already responded")

	// ErrNoResponseExpected 请求不期待响应
	ErrNoResponseExpected = errors.New("engine: request does not expect a response")
)

// answeredTTL 已应答请求 ID 的记忆窗口
//
// 窗口内再次出现同 ID 的响应判为 DUPLICATE_RESPONSE（大声失败），
// 窗口外或从未见过的 ID 按警告丢弃。
const answeredTTL = 5 * time.Minute

// answeredCap 已应答 ID 缓存容量
const answeredCap = 4096

// Service 关联引擎
type Service struct {
	cfg       *config.Config
	transport interfaces.Transport
	clock     clock.Clock
	registry  *registry.Registry
	limiter   *security.Limiter
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Manager
	msgTypes  *typeRegistry

	origin   string
	instance string

	mu        sync.Mutex
	destroyed bool
	pending   map[string]*pendingRequest
	answered  *lru.LRU[string, time.Time]
}

// 确保 Service 满足生命周期状态机的依赖
var _ lifecycle.Core = (*Service)(nil)

// 确保 Service 实现引擎接口
var _ interfaces.Engine = (*Service)(nil)

// New 创建关联引擎
//
// cfg 必须已通过 Validate。promReg 为 nil 时指标注册到私有
// 注册表。创建即接管 transport 的接收回调。
func New(cfg *config.Config, transport interfaces.Transport, clk clock.Clock, promReg prometheus.Registerer) (*Service, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if clk == nil {
		clk = clock.New()
	}

	instance := cfg.InstanceID
	if instance == "" {
		instance = uuid.New().String()
	}

	s := &Service{
		cfg:       cfg,
		transport: transport,
		clock:     clk,
		registry:  registry.New(clk),
		bus:       eventbus.New(),
		metrics:   metrics.New(promReg),
		msgTypes:  newTypeRegistry(),
		origin:    cfg.Origin,
		instance:  instance,
		pending:   make(map[string]*pendingRequest),
		answered:  lru.NewLRU[string, time.Time](answeredCap, nil, answeredTTL),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = security.NewLimiter(clk, cfg.RateLimit.MessagesPerSecond)
	}
	s.lifecycle = lifecycle.New(cfg, clk, transport, s.registry, s.bus, s.metrics, s, s.origin, instance)

	transport.SetReceiver(s.handleInbound)

	logger.Info("引擎已创建", "instance", log.TruncateID(instance, 12), "origin", s.origin)
	return s, nil
}

// InstanceID 返回本端实例 ID
func (s *Service) InstanceID() string {
	return s.instance
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接管理
// ════════════════════════════════════════════════════════════════════════════

// Connect 与句柄对应的对端握手
func (s *Service) Connect(ctx context.Context, handle interfaces.TargetHandle, targetID string) error {
	if err := s.checkDestroyed(); err != nil {
		return err
	}
	_, err := s.lifecycle.Connect(ctx, handle, targetID)
	return err
}

// Disconnect 优雅断开目标
func (s *Service) Disconnect(ctx context.Context, targetID string) error {
	if err := s.checkDestroyed(); err != nil {
		return err
	}
	return s.lifecycle.Disconnect(ctx, targetID)
}

// ConnectedTargets 返回当前已连接目标 ID 列表
func (s *Service) ConnectedTargets() []string {
	return s.registry.ConnectedIDs()
}

// IsConnected 判断目标是否已连接
func (s *Service) IsConnected(targetID string) bool {
	return s.registry.IsConnected(targetID)
}

// ════════════════════════════════════════════════════════════════════════════
//                              系统事件
// ════════════════════════════════════════════════════════════════════════════

// OnSystem 订阅系统事件
func (s *Service) OnSystem(event types.SystemEvent, handler interfaces.SystemHandler) (interfaces.Unsubscribe, error) {
	if err := s.checkDestroyed(); err != nil {
		return nil, err
	}
	unsub, err := s.bus.Subscribe(event, func(n types.SystemNotification) { handler(n) })
	if err != nil {
		return nil, err
	}
	return interfaces.Unsubscribe(unsub), nil
}

// emitError 发出 error 系统事件
func (s *Service) emitError(targetID string, perr *types.Error) {
	s.bus.Emit(types.SystemNotification{
		Event:     types.EventError,
		TargetID:  targetID,
		Timestamp: s.clock.Now(),
		Data: map[string]any{
			"code":    string(perr.Code),
			"message": perr.Message,
		},
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              销毁
// ════════════════════════════════════════════════════════════════════════════

// Destroy 同步销毁引擎
//
// 取消所有计时器、以 ENGINE_DESTROYED 拒绝所有挂起请求、不通知
// 对端直接断开所有目标。销毁后任何公开方法都大声失败。
func (s *Service) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return s.destroyedError()
	}
	s.destroyed = true

	drained := make([]*pendingRequest, 0, len(s.pending))
	for _, p := range s.pending {
		drained = append(drained, p)
	}
	s.pending = make(map[string]*pendingRequest)
	s.mu.Unlock()

	perr := types.NewError(types.CodeEngineDestroyed, "engine destroyed")
	for _, p := range drained {
		p.timer.Stop()
		p.deliver(pendingResult{err: perr})
	}
	s.metrics.PendingRequests.Set(0)

	s.lifecycle.StopAll()
	s.bus.Close()

	logger.Info("引擎已销毁", "instance", log.TruncateID(s.instance, 12))
	return nil
}

// checkDestroyed 销毁后的调用防护
func (s *Service) checkDestroyed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return s.destroyedError()
	}
	return nil
}

// destroyedError 构造销毁错误（同时大声记录，这是编程错误）
func (s *Service) destroyedError() error {
	err := types.NewError(types.CodeEngineDestroyed, "engine has been destroyed")
	logger.Error("在已销毁的引擎上调用方法")
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              lifecycle.Core 实现
// ════════════════════════════════════════════════════════════════════════════

// TargetRemoved 目标移除后的清理
func (s *Service) TargetRemoved(targetID string, perr *types.Error) {
	s.rejectPendingForTarget(targetID, perr)
	if s.limiter != nil {
		s.limiter.Forget(targetID)
	}
}
