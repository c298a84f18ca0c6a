// Package config 提供统一的配置管理
//
// 配置按关注点分节（心跳、速率限制），每节提供默认值与校验。
// 引擎不读取任何全局状态：所有行为都由显式传入的 Config 决定。
package config

import (
	"fmt"
	"time"
)

// ════════════════════════════════════════════════════════════════════════════
//                              顶层配置
// ════════════════════════════════════════════════════════════════════════════

// Config 引擎配置
type Config struct {
	// InstanceID 本端实例 ID；为空时自动生成
	InstanceID string `json:"instance_id"`

	// Origin 本端来源，会写入出站信封
	Origin string `json:"origin"`

	// AllowedOrigins 来源允许列表（协议+主机+端口精确匹配）
	//
	// 必填。"*" 仅对入站检查生效，出站发送始终指向具体来源；
	// 生产环境不应使用通配。
	AllowedOrigins []string `json:"allowed_origins"`

	// Timeout 默认响应超时
	// 默认值: 5s
	Timeout Duration `json:"timeout"`

	// Retries 默认重试次数
	//
	// 重试不重发报文，只重新武装等待计时器（同一 ID 至多一次
	// 在途关联）。默认值: 1
	Retries int `json:"retries"`

	// HandshakeTimeout 握手超时
	// 默认值: 5s
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// DisconnectNotifyTimeout 优雅断开时等待通知送达的窗口
	// 默认值: 1s
	DisconnectNotifyTimeout Duration `json:"disconnect_notify_timeout"`

	// MaxPayloadSize 负载大小上限（序列化后字节数）
	// 默认值: 1 MiB
	MaxPayloadSize int `json:"max_payload_size"`

	// Heartbeat 心跳配置
	Heartbeat HeartbeatConfig `json:"heartbeat"`

	// RateLimit 速率限制配置
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// DefaultConfig 返回默认配置
//
// AllowedOrigins 无默认值，必须由调用方提供。
func DefaultConfig() *Config {
	return &Config{
		Timeout:                 Duration(5 * time.Second),
		Retries:                 1,
		HandshakeTimeout:        Duration(5 * time.Second),
		DisconnectNotifyTimeout: Duration(1 * time.Second),
		MaxPayloadSize:          1 << 20,
		Heartbeat:               DefaultHeartbeatConfig(),
		RateLimit:               DefaultRateLimitConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("config: allowed_origins is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0")
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must be >= 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: handshake_timeout must be > 0")
	}
	if c.DisconnectNotifyTimeout <= 0 {
		return fmt.Errorf("config: disconnect_notify_timeout must be > 0")
	}
	if c.MaxPayloadSize < 1 {
		return fmt.Errorf("config: max_payload_size must be >= 1")
	}
	if err := c.Heartbeat.Validate(); err != nil {
		return err
	}
	return c.RateLimit.Validate()
}

// ════════════════════════════════════════════════════════════════════════════
//                              心跳配置
// ════════════════════════════════════════════════════════════════════════════

// HeartbeatConfig 心跳配置
//
// 连接建立后由握手发起方按 Interval 周期发送 ping，每个 ping
// 携带独立的 Timeout。连续丢失 MaxMissed 个 pong 判定连接丢失。
type HeartbeatConfig struct {
	// Enabled 是否启用心跳
	// 默认值: true
	Enabled bool `json:"enabled"`

	// Interval 发送间隔
	// 默认值: 10s
	Interval Duration `json:"interval"`

	// Timeout 单次 ping 的响应超时
	// 默认值: 3s
	Timeout Duration `json:"timeout"`

	// WarmupDelay 连接建立后首个 ping 前的预热延迟
	// 默认值: 2s
	WarmupDelay Duration `json:"warmup_delay"`

	// MaxMissed 连续丢失阈值，达到后自动断开
	// 默认值: 3
	MaxMissed int `json:"max_missed"`

	// MaxFailures 连续发送失败阈值（本地 send 出错，而非超时）
	// 默认值: 5
	MaxFailures int `json:"max_failures"`
}

// DefaultHeartbeatConfig 返回默认的心跳配置
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enabled:     true,
		Interval:    Duration(10 * time.Second),
		Timeout:     Duration(3 * time.Second),
		WarmupDelay: Duration(2 * time.Second),
		MaxMissed:   3,
		MaxFailures: 5,
	}
}

// Validate 验证心跳配置的有效性
func (c *HeartbeatConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("heartbeat: interval must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("heartbeat: timeout must be > 0")
	}
	if c.MaxMissed < 1 {
		return fmt.Errorf("heartbeat: max_missed must be >= 1")
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("heartbeat: max_failures must be >= 1")
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              速率限制配置
// ════════════════════════════════════════════════════════════════════════════

// RateLimitConfig 速率限制配置
//
// 固定窗口计数：每个目标每秒最多 MessagesPerSecond 条消息，
// 超出即拒绝，窗口滚动后重置。
type RateLimitConfig struct {
	// Enabled 是否启用速率限制
	// 默认值: true
	Enabled bool `json:"enabled"`

	// MessagesPerSecond 每秒消息预算
	// 默认值: 100
	MessagesPerSecond int `json:"messages_per_second"`
}

// DefaultRateLimitConfig 返回默认的速率限制配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		MessagesPerSecond: 100,
	}
}

// Validate 验证速率限制配置的有效性
func (c *RateLimitConfig) Validate() error {
	if c.Enabled && c.MessagesPerSecond < 1 {
		return fmt.Errorf("rate_limit: messages_per_second must be >= 1")
	}
	return nil
}
