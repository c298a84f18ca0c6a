// Package config 提供统一的配置管理
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 可 JSON 序列化的时间段
//
// 接受数字（纳秒）或字符串（"5s"、"1m30s"）两种形式。
type Duration time.Duration

// Std 转换为标准库 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String 实现 Stringer
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON 序列化为字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON 支持数字与字符串两种输入
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}
