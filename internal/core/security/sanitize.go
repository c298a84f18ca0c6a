// Package security 实现安全校验层
package security

import (
	"reflect"
	"strings"
)

// 清洗参数
const (
	// maxSanitizeDepth 清洗遍历的最大嵌套深度
	//
	// 访问集已保证循环结构终止，深度上限只防御超深的非循环结构。
	maxSanitizeDepth = 64
)

// 危险的自有键名，清洗时直接丢弃
//
// 这些键在原型注入攻击中被用来污染对端的对象模型。
var dangerousKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Sanitize 深度清洗负载
//
// 把任意 Go 值规范化为 JSON 可表示的形状（nil、bool、数值、
// 字符串、[]any、map[string]any）：
//   - 函数、通道、复数等不可序列化成员被丢弃
//   - 危险键名（__proto__ 等）被丢弃
//   - 循环引用通过访问集安全截断为 nil，不会栈溢出
//   - 已清洗的值再次清洗得到相同结果（幂等）
func Sanitize(v any) any {
	visited := make(map[uintptr]struct{})
	out, _ := sanitizeValue(reflect.ValueOf(v), visited, 0)
	return out
}

// sanitizeValue 清洗单个值
//
// 第二个返回值为 false 表示该成员应被整体丢弃。
func sanitizeValue(rv reflect.Value, visited map[uintptr]struct{}, depth int) (any, bool) {
	if depth > maxSanitizeDepth {
		return nil, true
	}
	if !rv.IsValid() {
		return nil, true
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil, true
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, seen := visited[ptr]; seen {
				return nil, true
			}
			visited[ptr] = struct{}{}
			defer delete(visited, ptr)
		}
		return sanitizeValue(rv.Elem(), visited, depth+1)

	case reflect.Bool:
		return rv.Bool(), true

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true

	case reflect.Float32, reflect.Float64:
		return rv.Float(), true

	case reflect.String:
		return rv.String(), true

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return nil, true
			}
			ptr := rv.Pointer()
			if _, seen := visited[ptr]; seen {
				return nil, true
			}
			visited[ptr] = struct{}{}
			defer delete(visited, ptr)
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, keep := sanitizeValue(rv.Index(i), visited, depth+1)
			if !keep {
				// 数组成员不可整体丢弃，置空保持索引稳定
				item = nil
			}
			out = append(out, item)
		}
		return out, true

	case reflect.Map:
		if rv.IsNil() {
			return nil, true
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return nil, true
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := mapKeyString(iter.Key())
			if !ok {
				continue
			}
			if _, dangerous := dangerousKeys[key]; dangerous {
				continue
			}
			val, keep := sanitizeValue(iter.Value(), visited, depth+1)
			if !keep {
				continue
			}
			out[key] = val
		}
		return out, true

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName := strings.SplitN(tag, ",", 2)[0]
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			if _, dangerous := dangerousKeys[name]; dangerous {
				continue
			}
			val, keep := sanitizeValue(rv.Field(i), visited, depth+1)
			if !keep {
				continue
			}
			out[name] = val
		}
		return out, true

	default:
		// Func / Chan / Complex / UnsafePointer 等不可序列化成员
		return nil, false
	}
}

// mapKeyString 把 map 键转为字符串
//
// 仅接受字符串键；其他键类型的条目整体丢弃。
func mapKeyString(key reflect.Value) (string, bool) {
	for key.Kind() == reflect.Interface {
		if key.IsNil() {
			return "", false
		}
		key = key.Elem()
	}
	if key.Kind() == reflect.String {
		return key.String(), true
	}
	return "", false
}
