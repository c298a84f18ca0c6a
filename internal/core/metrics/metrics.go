// Package metrics 提供引擎的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 引擎指标集合
//
// 指标注册到调用方提供的 Registerer 上；传 nil 时使用独立的
// 私有注册表（测试与多实例场景互不冲突）。
type Metrics struct {
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	ResponsesSent     prometheus.Counter
	ResponsesReceived prometheus.Counter
	Timeouts          prometheus.Counter
	Retries           prometheus.Counter
	RateLimited       prometheus.Counter
	Rejected          *prometheus.CounterVec
	HeartbeatsMissed  prometheus.Counter
	HandlerErrors     prometheus.Counter
	ConnectedTargets  prometheus.Gauge
	PendingRequests   prometheus.Gauge
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "messages_sent_total",
			Help:      "出站请求报文总数",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "messages_received_total",
			Help:      "入站请求报文总数",
		}, []string{"type"}),
		ResponsesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "responses_sent_total",
			Help:      "出站响应报文总数",
		}),
		ResponsesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "responses_received_total",
			Help:      "入站响应报文总数",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "request_timeouts_total",
			Help:      "重试耗尽后超时的请求总数",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "request_retries_total",
			Help:      "等待计时器重新武装的次数",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "rate_limited_total",
			Help:      "被速率限制拒绝的发送总数",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "inbound_rejected_total",
			Help:      "被安全层拒绝的入站报文总数",
		}, []string{"reason"}),
		HeartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "heartbeats_missed_total",
			Help:      "丢失的心跳总数",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portlink",
			Name:      "handler_errors_total",
			Help:      "应用处理器出错总数",
		}),
		ConnectedTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portlink",
			Name:      "connected_targets",
			Help:      "当前已连接目标数",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portlink",
			Name:      "pending_requests",
			Help:      "当前等待响应的请求数",
		}),
	}

	reg.MustRegister(
		m.MessagesSent, m.MessagesReceived,
		m.ResponsesSent, m.ResponsesReceived,
		m.Timeouts, m.Retries, m.RateLimited, m.Rejected,
		m.HeartbeatsMissed, m.HandlerErrors,
		m.ConnectedTargets, m.PendingRequests,
	)
	return m
}
