// Package config 提供统一的配置管理
package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	// 允许列表是唯一没有默认值的必填项
	require.Error(t, cfg.Validate())

	cfg.AllowedOrigins = []string{"https://peer.example.com"}
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 1, cfg.Retries)
	assert.Equal(t, 1<<20, cfg.MaxPayloadSize)
	assert.True(t, cfg.Heartbeat.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.AllowedOrigins = []string{"https://peer.example.com"}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"超时为零", func(c *Config) { c.Timeout = 0 }},
		{"重试为负", func(c *Config) { c.Retries = -1 }},
		{"握手超时为零", func(c *Config) { c.HandshakeTimeout = 0 }},
		{"负载上限为零", func(c *Config) { c.MaxPayloadSize = 0 }},
		{"心跳间隔为零", func(c *Config) { c.Heartbeat.Interval = 0 }},
		{"心跳阈值为零", func(c *Config) { c.Heartbeat.MaxMissed = 0 }},
		{"限流预算为零", func(c *Config) { c.RateLimit.MessagesPerSecond = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDisabledSectionsSkipValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"*"}

	// 关闭的分节不检查取值
	cfg.Heartbeat.Enabled = false
	cfg.Heartbeat.Interval = 0
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.MessagesPerSecond = 0

	assert.NoError(t, cfg.Validate())
}

func TestDurationJSON(t *testing.T) {
	type wrap struct {
		D Duration `json:"d"`
	}

	// 字符串形式
	var w wrap
	require.NoError(t, json.Unmarshal([]byte(`{"d":"1500ms"}`), &w))
	assert.Equal(t, 1500*time.Millisecond, w.D.Std())

	// 数字形式（纳秒）
	require.NoError(t, json.Unmarshal([]byte(`{"d":2000000000}`), &w))
	assert.Equal(t, 2*time.Second, w.D.Std())

	// 序列化输出可读字符串
	out, err := json.Marshal(wrap{D: Duration(3 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"3s"}`, string(out))

	// 垃圾输入报错
	assert.Error(t, json.Unmarshal([]byte(`{"d":"abc"}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"d":true}`), &w))
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = "https://a.example.com"
	cfg.AllowedOrigins = []string{"https://b.example.com"}
	cfg.Heartbeat.Interval = Duration(7 * time.Second)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var got Config
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cfg.Origin, got.Origin)
	assert.Equal(t, 7*time.Second, got.Heartbeat.Interval.Std())
}
