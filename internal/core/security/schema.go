// Package security 实现安全校验层
package security

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/types"
)

// maxSchemaDepth Schema 校验的最大嵌套深度
//
// 防御深层或循环嵌套的 Schema：超过深度的分支直接判为失败。
const maxSchemaDepth = 32

// patternCache 已编译正则缓存
//
// Go 的 regexp 是 RE2 实现，不存在灾难性回溯；这里的缓存只为
// 避免每条消息重复编译。
var patternCache sync.Map // string -> *regexp.Regexp

// ValidateSchema 按 Schema 校验负载
//
// 返回 nil 表示通过；否则返回 SCHEMA_MISMATCH，Details 中带有
// 逐条的失败说明。schema 为 nil 时不做任何检查。
func ValidateSchema(payload any, schema *interfaces.Schema) error {
	if schema == nil {
		return nil
	}

	var errs []string
	validateNode(payload, schema, "$", 0, &errs)
	if len(errs) == 0 {
		return nil
	}

	detail := make([]any, len(errs))
	for i, e := range errs {
		detail[i] = e
	}
	return types.NewErrorf(types.CodeSchemaMismatch, "payload failed schema validation: %s", errs[0]).
		WithDetail("errors", detail)
}

// validateNode 校验一个节点
func validateNode(v any, schema *interfaces.Schema, path string, depth int, errs *[]string) {
	if schema == nil {
		return
	}
	if depth > maxSchemaDepth {
		*errs = append(*errs, fmt.Sprintf("%s: schema nesting exceeds depth limit", path))
		return
	}

	if schema.Type != "" && !matchesType(v, schema.Type) {
		*errs = append(*errs, fmt.Sprintf("%s: expected %s, got %T", path, schema.Type, v))
		return
	}

	if len(schema.Enum) > 0 && !inEnum(v, schema.Enum) {
		*errs = append(*errs, fmt.Sprintf("%s: value not in enum", path))
	}

	switch val := v.(type) {
	case string:
		validateString(val, schema, path, errs)
	case float64:
		validateNumber(val, schema, path, errs)
	case int64:
		validateNumber(float64(val), schema, path, errs)
	case int:
		validateNumber(float64(val), schema, path, errs)
	case map[string]any:
		for _, req := range schema.Required {
			if _, ok := val[req]; !ok {
				*errs = append(*errs, fmt.Sprintf("%s: missing required property %q", path, req))
			}
		}
		for name, sub := range schema.Properties {
			if child, ok := val[name]; ok {
				validateNode(child, sub, path+"."+name, depth+1, errs)
			}
		}
	case []any:
		if schema.Items != nil {
			for i, item := range val {
				validateNode(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), depth+1, errs)
			}
		}
	}
}

// validateString 字符串约束
func validateString(s string, schema *interfaces.Schema, path string, errs *[]string) {
	if schema.MinLength != nil && len(s) < *schema.MinLength {
		*errs = append(*errs, fmt.Sprintf("%s: shorter than minLength %d", path, *schema.MinLength))
	}
	if schema.MaxLength != nil && len(s) > *schema.MaxLength {
		*errs = append(*errs, fmt.Sprintf("%s: longer than maxLength %d", path, *schema.MaxLength))
	}
	if schema.Pattern != "" {
		re, err := compilePattern(schema.Pattern)
		if err != nil {
			// 坏的正则判为校验失败，而不是放行或 panic
			*errs = append(*errs, fmt.Sprintf("%s: invalid pattern %q", path, schema.Pattern))
			return
		}
		if !re.MatchString(s) {
			*errs = append(*errs, fmt.Sprintf("%s: does not match pattern %q", path, schema.Pattern))
		}
	}
}

// validateNumber 数值约束
func validateNumber(f float64, schema *interfaces.Schema, path string, errs *[]string) {
	if schema.Minimum != nil && f < *schema.Minimum {
		*errs = append(*errs, fmt.Sprintf("%s: below minimum %v", path, *schema.Minimum))
	}
	if schema.Maximum != nil && f > *schema.Maximum {
		*errs = append(*errs, fmt.Sprintf("%s: above maximum %v", path, *schema.Maximum))
	}
}

// matchesType 判断值是否符合声明的类型
func matchesType(v any, typ string) bool {
	switch typ {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		return isNumber(v)
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "null":
		return v == nil
	default:
		return false
	}
}

// isNumber 判断是否为数值
func isNumber(v any) bool {
	switch v.(type) {
	case int, int64, float64:
		return true
	}
	return false
}

// inEnum 判断值是否在枚举集合中
func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if numEqual(v, e) {
			return true
		}
	}
	return false
}

// numEqual 比较两个值，数值跨类型按数学值比较
func numEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return toFloat(a) == toFloat(b)
	}
	return a == b
}

// toFloat 数值统一转 float64
func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// compilePattern 编译并缓存正则
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}
