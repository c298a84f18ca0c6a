// Package security 实现安全校验层
package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portlink/go-portlink/pkg/types"
)

func TestValidateOrigin_ExactMatch(t *testing.T) {
	allowed := []string{"https://app.example.com", "http://localhost:8080"}

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"精确匹配", "https://app.example.com", true},
		{"主机大小写不敏感", "https://APP.Example.COM", true},
		{"带端口的允许项", "http://localhost:8080", true},
		{"协议不同", "http://app.example.com", false},
		{"端口不同", "http://localhost:9090", false},
		{"子域名不隐式放行", "https://evil.app.example.com", false},
		{"父域名不隐式放行", "https://example.com", false},
		{"前缀混淆", "https://app.example.com.evil.com", false},
		{"缺端口不等于带端口", "http://localhost", false},
		{"空来源", "", false},
		{"null 来源", "null", false},
		{"大写 NULL", "NULL", false},
		{"无协议", "app.example.com", false},
		{"携带路径", "https://app.example.com/admin", false},
		{"携带查询", "https://app.example.com?x=1", false},
		{"携带用户信息", "https://user@app.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, allowed)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, types.CodeOriginRejected, types.CodeOf(err))
			}
		})
	}
}

func TestValidateOrigin_Wildcard(t *testing.T) {
	allowed := []string{Wildcard}

	assert.NoError(t, ValidateOrigin("https://anything.example.com", allowed))
	assert.NoError(t, ValidateOrigin("http://localhost:3000", allowed))

	// 通配放行的前提是来源本身可解析
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("null", allowed))
	assert.Error(t, ValidateOrigin("not a url", allowed))
}

func TestValidateOrigin_BadAllowEntry(t *testing.T) {
	// 允许列表中的坏条目不放行任何来源，也不影响好条目
	allowed := []string{"garbage", "https://good.example.com"}

	assert.NoError(t, ValidateOrigin("https://good.example.com", allowed))
	assert.Error(t, ValidateOrigin("garbage", allowed))
}

func TestCanonicalOrigin(t *testing.T) {
	got, err := CanonicalOrigin("HTTPS://App.Example.COM:8443")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com:8443", got)

	got, err = CanonicalOrigin("https://app.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", got)

	// 默认端口不做归一：443 与无端口是两个来源
	withPort, err := CanonicalOrigin("https://app.example.com:443")
	require.NoError(t, err)
	bare, err := CanonicalOrigin("https://app.example.com")
	require.NoError(t, err)
	assert.NotEqual(t, withPort, bare)
}
