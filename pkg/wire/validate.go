// Package wire 定义 PortLink 线上报文格式
package wire

import (
	"encoding/json"
	"strings"

	"github.com/portlink/go-portlink/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              判别
// ════════════════════════════════════════════════════════════════════════════

// probe 只解出判别所需的最少字段
type probe struct {
	Marker    string          `json:"marker"`
	RequestID json.RawMessage `json:"requestId"`
	Type      json.RawMessage `json:"type"`
}

// IsProtocolMessage 判断原始字节是否为本协议报文
//
// 只做标记检查，用于在入口处廉价丢弃外来流量。
// 返回 true 不代表报文合法，后续仍需完整校验。
func IsProtocolMessage(raw []byte) bool {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	return p.Marker == Marker
}

// IsRequest 判断原始字节是否为请求信封
func IsRequest(raw []byte) bool {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	return p.Marker == Marker && len(p.Type) > 0 && len(p.RequestID) == 0
}

// IsResponse 判断原始字节是否为响应信封
func IsResponse(raw []byte) bool {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	return p.Marker == Marker && len(p.RequestID) > 0
}

// ════════════════════════════════════════════════════════════════════════════
//                              结构校验
// ════════════════════════════════════════════════════════════════════════════

// ValidateRequest 校验请求信封的结构
//
// 逐字段检查必需字段的存在与类型，错误信息指明出错字段。
func ValidateRequest(req *Request) error {
	if req == nil {
		return types.NewError(types.CodeInvalidProtocol, "request is nil")
	}
	if req.Marker != Marker {
		return types.NewErrorf(types.CodeInvalidProtocol, "bad marker %q", req.Marker)
	}
	if req.Version == "" {
		return missingField("version")
	}
	if !CompatibleVersion(req.Version) {
		return types.NewErrorf(types.CodeInvalidProtocol, "incompatible version %q (local %s)", req.Version, Version)
	}
	if req.ID == "" {
		return missingField("id")
	}
	if req.Type == "" {
		return missingField("type")
	}
	if req.Timestamp <= 0 {
		return types.NewError(types.CodeTypeMismatch, "field timestamp must be a positive integer")
	}
	if req.Origin == "" {
		return missingField("origin")
	}
	if req.Sender == "" {
		return missingField("sender")
	}
	return nil
}

// ValidateResponse 校验响应信封的结构
func ValidateResponse(resp *Response) error {
	if resp == nil {
		return types.NewError(types.CodeInvalidProtocol, "response is nil")
	}
	if resp.Marker != Marker {
		return types.NewErrorf(types.CodeInvalidProtocol, "bad marker %q", resp.Marker)
	}
	if resp.Version == "" {
		return missingField("version")
	}
	if !CompatibleVersion(resp.Version) {
		return types.NewErrorf(types.CodeInvalidProtocol, "incompatible version %q (local %s)", resp.Version, Version)
	}
	if resp.ID == "" {
		return missingField("id")
	}
	if resp.RequestID == "" {
		return missingField("requestId")
	}
	if resp.Timestamp <= 0 {
		return types.NewError(types.CodeTypeMismatch, "field timestamp must be a positive integer")
	}
	if resp.Origin == "" {
		return missingField("origin")
	}
	if resp.Sender == "" {
		return missingField("sender")
	}
	if !resp.Success && resp.Error == nil {
		return missingField("error")
	}
	if resp.Error != nil && resp.Error.Code == "" {
		return missingField("error.code")
	}
	return nil
}

// CompatibleVersion 判断对端版本是否与本端兼容
//
// 只比较主版本号：主版本不同视为不兼容。
func CompatibleVersion(remote string) bool {
	return majorOf(remote) == majorOf(Version) && majorOf(remote) != ""
}

// majorOf 提取语义化版本的主版本号
func majorOf(version string) string {
	version = strings.TrimPrefix(version, "v")
	idx := strings.IndexByte(version, '.')
	if idx < 0 {
		return ""
	}
	major := version[:idx]
	if major == "" {
		return ""
	}
	for i := 0; i < len(major); i++ {
		if major[i] < '0' || major[i] > '9' {
			return ""
		}
	}
	return major
}

// missingField 构造缺少字段错误
func missingField(field string) error {
	return types.NewErrorf(types.CodeMissingField, "missing required field %q", field).
		WithDetail("field", field)
}
