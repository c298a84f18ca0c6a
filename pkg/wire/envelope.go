// Package wire 定义 PortLink 线上报文格式
//
// 报文分为请求（Request）与响应（Response）两种信封。信封一经构造即不可变：
// 重发一条消息意味着构造一个携带新 ID 的新信封。
//
// 序列化采用 JSON。传输层只承载序列化后的字节，不理解信封内容。
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/portlink/go-portlink/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              协议常量
// ════════════════════════════════════════════════════════════════════════════

const (
	// Marker 协议标记，用于廉价地丢弃非本协议流量
	Marker = "portlink"

	// Version 协议版本（语义化版本，兼容性只比较主版本号）
	Version = "1.2.0"
)

// 内部系统消息类型
//
// 这些类型由生命周期状态机收发，应用处理器不可注册。
const (
	TypeHandshakeInit = "sys/handshake_init"
	TypeHandshakeAck  = "sys/handshake_ack"
	TypePing          = "sys/ping"
	TypeDisconnect    = "sys/disconnect"
)

// IsSystemType 判断消息类型是否为内部系统类型
func IsSystemType(msgType string) bool {
	switch msgType {
	case TypeHandshakeInit, TypeHandshakeAck, TypePing, TypeDisconnect:
		return true
	}
	return false
}

// ════════════════════════════════════════════════════════════════════════════
//                              信封定义
// ════════════════════════════════════════════════════════════════════════════

// Request 请求信封
type Request struct {
	// Marker 协议标记
	Marker string `json:"marker"`

	// Version 协议版本
	Version string `json:"version"`

	// ID 全局唯一消息 ID
	ID string `json:"id"`

	// Type 消息类型名称
	Type string `json:"type"`

	// Timestamp 构造时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`

	// Origin 发送方来源
	Origin string `json:"origin"`

	// Sender 发送方实例 ID
	Sender string `json:"sender"`

	// Target 目标 ID（可选）
	Target string `json:"target,omitempty"`

	// ExpectsResponse 是否期待响应
	ExpectsResponse bool `json:"expectsResponse"`

	// Payload 负载（已经过清洗）
	Payload any `json:"payload"`
}

// Response 响应信封
type Response struct {
	// Marker 协议标记
	Marker string `json:"marker"`

	// Version 协议版本
	Version string `json:"version"`

	// ID 响应自身的消息 ID
	ID string `json:"id"`

	// RequestID 被响应的请求 ID
	RequestID string `json:"requestId"`

	// Timestamp 构造时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`

	// Origin 发送方来源
	Origin string `json:"origin"`

	// Sender 发送方实例 ID
	Sender string `json:"sender"`

	// Success 是否成功
	Success bool `json:"success"`

	// Payload 成功时的负载
	Payload any `json:"payload,omitempty"`

	// Error 失败时的结构化错误
	Error *types.Error `json:"error,omitempty"`
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造
// ════════════════════════════════════════════════════════════════════════════

// NewRequest 构造请求信封
//
// 自动生成消息 ID 并打上时间戳。payload 必须已经过清洗，
// 构造后不得再修改。
func NewRequest(origin, sender, msgType string, payload any, expectsResponse bool, targetID string) *Request {
	return &Request{
		Marker:          Marker,
		Version:         Version,
		ID:              uuid.New().String(),
		Type:            msgType,
		Timestamp:       time.Now().UnixMilli(),
		Origin:          origin,
		Sender:          sender,
		Target:          targetID,
		ExpectsResponse: expectsResponse,
		Payload:         payload,
	}
}

// NewResponse 构造成功响应信封
func NewResponse(origin, sender, requestID string, payload any) *Response {
	return &Response{
		Marker:    Marker,
		Version:   Version,
		ID:        uuid.New().String(),
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Origin:    origin,
		Sender:    sender,
		Success:   true,
		Payload:   payload,
	}
}

// NewErrorResponse 构造失败响应信封
func NewErrorResponse(origin, sender, requestID string, perr *types.Error) *Response {
	return &Response{
		Marker:    Marker,
		Version:   Version,
		ID:        uuid.New().String(),
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Origin:    origin,
		Sender:    sender,
		Success:   false,
		Error:     perr,
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              编解码
// ════════════════════════════════════════════════════════════════════════════

// Encode 序列化信封为 JSON 字节
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeRequest 解码并校验请求信封
func DecodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, types.NewErrorf(types.CodeInvalidProtocol, "malformed request: %v", err)
	}
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeResponse 解码并校验响应信封
func DecodeResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.NewErrorf(types.CodeInvalidProtocol, "malformed response: %v", err)
	}
	if err := ValidateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
