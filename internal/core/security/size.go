// Package security 实现安全校验层
package security

import (
	"encoding/json"

	"github.com/portlink/go-portlink/pkg/types"
)

// CheckPayloadSize 检查负载序列化后的大小
//
// 超过 maxBytes 返回 PAYLOAD_TOO_LARGE（用于阻断内存耗尽尝试）。
// 无法序列化的负载不在这里报错：清洗后的负载总是可序列化的，
// 而未清洗负载的问题交由 Schema 校验暴露，避免掩盖真实原因。
func CheckPayloadSize(v any, maxBytes int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if len(data) > maxBytes {
		return types.NewErrorf(types.CodePayloadTooLarge,
			"payload is %d bytes, limit is %d", len(data), maxBytes).
			WithDetail("size", len(data)).
			WithDetail("limit", maxBytes)
	}
	return nil
}
