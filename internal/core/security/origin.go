// Package security 实现安全校验层
//
// 包含来源允许列表检查、负载清洗、负载大小限制、Schema 校验
// 与固定窗口速率限制。所有检查都在报文进入或离开引擎前执行。
package security

import (
	"net/url"
	"strings"

	"github.com/portlink/go-portlink/pkg/types"
)

// Wildcard 入站来源通配（出站发送永远不使用）
const Wildcard = "*"

// ValidateOrigin 按允许列表检查来源
//
// 精确匹配协议+主机+端口，主机不区分大小写。空来源、"null"
// 来源、无法解析的来源一律拒绝；子域名与父域名变体不会隐式
// 放行。允许列表中的 "*" 放行任意可解析来源（仅限入站检查）。
func ValidateOrigin(origin string, allowed []string) error {
	canonical, err := CanonicalOrigin(origin)
	if err != nil {
		return err
	}

	wildcard := false
	for _, entry := range allowed {
		if entry == Wildcard {
			wildcard = true
			continue
		}
		allowedCanonical, err := CanonicalOrigin(entry)
		if err != nil {
			// 配置里的坏条目不会放行任何来源
			continue
		}
		if canonical == allowedCanonical {
			return nil
		}
	}

	if wildcard {
		return nil
	}

	return types.NewErrorf(types.CodeOriginRejected, "origin %q is not in the allow list", origin)
}

// CanonicalOrigin 规范化来源字符串
//
// 返回 scheme://host[:port]，主机转为小写。端口不做默认值
// 归一：带端口与不带端口的来源互不相等。
func CanonicalOrigin(origin string) (string, error) {
	if origin == "" || strings.EqualFold(origin, "null") {
		return "", types.NewError(types.CodeOriginRejected, "empty or null origin")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return "", types.NewErrorf(types.CodeOriginRejected, "malformed origin %q", origin)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", types.NewErrorf(types.CodeOriginRejected, "origin %q must be scheme://host[:port]", origin)
	}
	// 来源不允许携带路径、查询、片段或用户信息
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", types.NewErrorf(types.CodeOriginRejected, "origin %q must not carry path or credentials", origin)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", types.NewErrorf(types.CodeOriginRejected, "origin %q has no host", origin)
	}

	canonical := strings.ToLower(u.Scheme) + "://" + host
	if port := u.Port(); port != "" {
		canonical += ":" + port
	}
	return canonical, nil
}
