package portlink

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/portlink/go-portlink/config"
	"github.com/portlink/go-portlink/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	cfg *config.Config

	transport    interfaces.Transport
	clock        clock.Clock
	promRegistry prometheus.Registerer
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		cfg: config.DefaultConfig(),
	}
}

// buildConfig 归一化并校验配置
func (o *options) buildConfig() (*config.Config, error) {
	if o.transport == nil {
		return nil, fmt.Errorf("portlink: WithTransport is required")
	}
	if o.cfg.Origin == "" {
		return nil, fmt.Errorf("portlink: WithOrigin is required")
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	return o.cfg, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              必需选项
// ════════════════════════════════════════════════════════════════════════════

// WithTransport 设置传输适配器（必需）
func WithTransport(tr interfaces.Transport) Option {
	return func(o *options) error {
		if tr == nil {
			return fmt.Errorf("portlink: transport must not be nil")
		}
		o.transport = tr
		return nil
	}
}

// WithOrigin 设置本端来源（必需），写入所有出站信封
func WithOrigin(origin string) Option {
	return func(o *options) error {
		o.cfg.Origin = origin
		return nil
	}
}

// WithAllowedOrigins 设置来源允许列表（必需）
//
// 入站报文的来源必须精确匹配列表中的某一项（协议+主机+端口）。
// "*" 放行任意可解析来源，仅应在开发环境使用。
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) error {
		if len(origins) == 0 {
			return fmt.Errorf("portlink: at least one allowed origin is required")
		}
		o.cfg.AllowedOrigins = origins
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              行为选项
// ════════════════════════════════════════════════════════════════════════════

// WithInstanceID 固定本端实例 ID（默认自动生成 UUID）
func WithInstanceID(id string) Option {
	return func(o *options) error {
		o.cfg.InstanceID = id
		return nil
	}
}

// WithTimeout 设置默认响应超时
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("portlink: timeout must be > 0")
		}
		o.cfg.Timeout = config.Duration(d)
		return nil
	}
}

// WithRetries 设置默认重试次数
//
// 重试延长等待而不重发报文。
func WithRetries(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("portlink: retries must be >= 0")
		}
		o.cfg.Retries = n
		return nil
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("portlink: handshake timeout must be > 0")
		}
		o.cfg.HandshakeTimeout = config.Duration(d)
		return nil
	}
}

// WithMaxPayloadSize 设置负载大小上限（序列化后字节数）
func WithMaxPayloadSize(bytes int) Option {
	return func(o *options) error {
		if bytes < 1 {
			return fmt.Errorf("portlink: max payload size must be >= 1")
		}
		o.cfg.MaxPayloadSize = bytes
		return nil
	}
}

// WithHeartbeat 设置心跳参数
func WithHeartbeat(interval, timeout time.Duration, maxMissed int) Option {
	return func(o *options) error {
		o.cfg.Heartbeat.Enabled = true
		o.cfg.Heartbeat.Interval = config.Duration(interval)
		o.cfg.Heartbeat.Timeout = config.Duration(timeout)
		o.cfg.Heartbeat.MaxMissed = maxMissed
		return o.cfg.Heartbeat.Validate()
	}
}

// WithoutHeartbeat 禁用心跳
func WithoutHeartbeat() Option {
	return func(o *options) error {
		o.cfg.Heartbeat.Enabled = false
		return nil
	}
}

// WithRateLimit 设置每秒消息预算
func WithRateLimit(messagesPerSecond int) Option {
	return func(o *options) error {
		o.cfg.RateLimit.Enabled = true
		o.cfg.RateLimit.MessagesPerSecond = messagesPerSecond
		return o.cfg.RateLimit.Validate()
	}
}

// WithoutRateLimit 禁用速率限制
func WithoutRateLimit() Option {
	return func(o *options) error {
		o.cfg.RateLimit.Enabled = false
		return nil
	}
}

// WithConfig 整体替换配置
//
// 与其他配置选项互斥使用：后应用的选项会覆盖先前的设置。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("portlink: config must not be nil")
		}
		o.cfg = cfg
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基础设施选项
// ════════════════════════════════════════════════════════════════════════════

// WithClock 注入时钟（测试用 clock.Mock）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithMetricsRegistry 注入 Prometheus 注册表
//
// 不设置时指标注册到引擎私有的注册表，不会污染全局。
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.promRegistry = reg
		return nil
	}
}
