// Package registry 实现多目标注册表
//
// 为每个远端目标维护身份、传输句柄、连接状态与存活计数。
// 注册表只被引擎自身的事件处理路径修改，对外提供快照式读取。
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/types"
)

// 错误定义
var (
	// ErrTargetExists 目标已注册
	ErrTargetExists = errors.New("registry: target already registered")

	// ErrTargetNotFound 目标不存在
	ErrTargetNotFound = errors.New("registry: target not found")
)

// ════════════════════════════════════════════════════════════════════════════
//                              目标记录
// ════════════════════════════════════════════════════════════════════════════

// Target 一个远端目标
type Target struct {
	// ID 目标标识
	ID string

	// Handle 传输句柄
	Handle interfaces.TargetHandle

	// Origin 握手时确认的可信来源
	Origin string

	// InstanceID 对端实例 ID（握手时获知）
	InstanceID string

	// State 连接状态
	State types.ConnectionState

	// LastActivity 最近一次收到对端任何报文的时间
	LastActivity time.Time

	// LastHeartbeat 最近一次成功心跳的时间
	LastHeartbeat time.Time

	// MissedHeartbeats 连续丢失的心跳数
	MissedHeartbeats int

	// SendFailures 连续本地发送失败数
	SendFailures int
}

// clone 返回记录的浅拷贝
func (t *Target) clone() *Target {
	c := *t
	return &c
}

// ════════════════════════════════════════════════════════════════════════════
//                              注册表
// ════════════════════════════════════════════════════════════════════════════

// Registry 目标注册表
type Registry struct {
	mu      sync.RWMutex
	clock   clock.Clock
	targets map[string]*Target
}

// New 创建注册表
func New(clk clock.Clock) *Registry {
	return &Registry{
		clock:   clk,
		targets: make(map[string]*Target),
	}
}

// Add 登记一个新目标（初始状态 Connecting）
//
// 同 ID 重复登记返回 ErrTargetExists。
func (r *Registry) Add(id string, handle interfaces.TargetHandle, origin string) (*Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[id]; exists {
		return nil, ErrTargetExists
	}

	t := &Target{
		ID:           id,
		Handle:       handle,
		Origin:       origin,
		State:        types.StateConnecting,
		LastActivity: r.clock.Now(),
	}
	r.targets[id] = t
	return t.clone(), nil
}

// Remove 移除目标
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[id]; !exists {
		return ErrTargetNotFound
	}
	delete(r.targets, id)
	return nil
}

// Get 读取目标快照
func (r *Registry) Get(id string) (*Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// SetState 变更目标状态，返回旧状态
func (r *Registry) SetState(id string, state types.ConnectionState) (types.ConnectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return "", ErrTargetNotFound
	}
	old := t.State
	t.State = state
	return old, nil
}

// SetPeer 握手完成后记录对端身份与可信来源
func (r *Registry) SetPeer(id, origin, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return ErrTargetNotFound
	}
	t.Origin = origin
	t.InstanceID = instanceID
	return nil
}

// MarkActivity 记录对端活动
func (r *Registry) MarkActivity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[id]; ok {
		t.LastActivity = r.clock.Now()
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              存活计数
// ════════════════════════════════════════════════════════════════════════════

// HeartbeatMissed 心跳丢失一次，返回当前连续丢失数
func (r *Registry) HeartbeatMissed(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return 0, ErrTargetNotFound
	}
	t.MissedHeartbeats++
	return t.MissedHeartbeats, nil
}

// HeartbeatOK 心跳成功，连续丢失数归零
func (r *Registry) HeartbeatOK(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return ErrTargetNotFound
	}
	t.MissedHeartbeats = 0
	t.LastHeartbeat = r.clock.Now()
	t.LastActivity = t.LastHeartbeat
	return nil
}

// SendFailed 本地发送失败一次，返回连续失败数
func (r *Registry) SendFailed(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return 0, ErrTargetNotFound
	}
	t.SendFailures++
	return t.SendFailures, nil
}

// SendOK 本地发送成功，连续失败数归零
func (r *Registry) SendOK(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[id]; ok {
		t.SendFailures = 0
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询
// ════════════════════════════════════════════════════════════════════════════

// ConnectedIDs 返回所有已连接目标的 ID
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.targets))
	for id, t := range r.targets {
		if t.State == types.StateConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllIDs 返回所有目标的 ID（不论状态）
func (r *Registry) AllIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected 判断目标是否处于已连接状态
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[id]
	return ok && t.State == types.StateConnected
}

// SoleConnected 当且仅当恰有一个已连接目标时返回其 ID
//
// Send 未指定目标时用它解析默认目标。
func (r *Registry) SoleConnected() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := ""
	for id, t := range r.targets {
		if t.State != types.StateConnected {
			continue
		}
		if found != "" {
			return "", false
		}
		found = id
	}
	return found, found != ""
}

// Count 目标总数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// FindByInstance 按对端实例 ID 查找目标
//
// 心跳 pong 只记在实例 ID 匹配的目标上，防止第三方代答。
func (r *Registry) FindByInstance(instanceID string) (*Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.targets {
		if t.InstanceID != "" && t.InstanceID == instanceID {
			return t.clone(), true
		}
	}
	return nil, false
}
