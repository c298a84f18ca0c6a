// Package security 实现安全校验层
package security

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_DropsUnserializable(t *testing.T) {
	in := map[string]any{
		"name": "alice",
		"fn":   func() {},
		"ch":   make(chan int),
		"n":    42,
	}

	out := Sanitize(in)
	m, ok := out.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "alice", m["name"])
	assert.Equal(t, int64(42), m["n"])
	assert.NotContains(t, m, "fn")
	assert.NotContains(t, m, "ch")

	// 清洗结果必须可序列化
	_, err := json.Marshal(out)
	assert.NoError(t, err)
}

func TestSanitize_DropsDangerousKeys(t *testing.T) {
	in := map[string]any{
		"__proto__":   map[string]any{"polluted": true},
		"constructor": "bad",
		"prototype":   "bad",
		"safe":        "ok",
		"nested": map[string]any{
			"__proto__": "bad",
			"value":     1,
		},
	}

	out := Sanitize(in).(map[string]any)
	assert.NotContains(t, out, "__proto__")
	assert.NotContains(t, out, "constructor")
	assert.NotContains(t, out, "prototype")
	assert.Equal(t, "ok", out["safe"])

	nested := out["nested"].(map[string]any)
	assert.NotContains(t, nested, "__proto__")
	assert.Equal(t, int64(1), nested["value"])
}

func TestSanitize_CyclicStructures(t *testing.T) {
	// map 自引用
	m := map[string]any{"name": "loop"}
	m["self"] = m

	out := Sanitize(m).(map[string]any)
	assert.Equal(t, "loop", out["name"])
	assert.Nil(t, out["self"])

	// 指针环
	type node struct {
		Value string `json:"value"`
		Next  *node  `json:"next"`
	}
	a := &node{Value: "a"}
	b := &node{Value: "b", Next: a}
	a.Next = b

	got := Sanitize(a).(map[string]any)
	assert.Equal(t, "a", got["value"])
	inner := got["next"].(map[string]any)
	assert.Equal(t, "b", inner["value"])
	assert.Nil(t, inner["next"])

	// 循环截断后的结果可以序列化
	_, err := json.Marshal(got)
	assert.NoError(t, err)
}

func TestSanitize_SharedNotCyclic(t *testing.T) {
	// 同一子对象被两个父节点引用不是环，两份都应保留
	shared := map[string]any{"v": 1}
	in := map[string]any{"a": shared, "b": shared}

	out := Sanitize(in).(map[string]any)
	require.NotNil(t, out["a"])
	require.NotNil(t, out["b"])
	assert.Equal(t, int64(1), out["a"].(map[string]any)["v"])
	assert.Equal(t, int64(1), out["b"].(map[string]any)["v"])
}

func TestSanitize_Idempotent(t *testing.T) {
	in := map[string]any{
		"s":    "str",
		"f":    3.14,
		"list": []any{1, "two", nil, map[string]any{"k": "v"}},
	}

	once := Sanitize(in)
	twice := Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestSanitize_StructFields(t *testing.T) {
	type payload struct {
		Name     string `json:"name"`
		Age      int    `json:"age"`
		Ignored  string `json:"-"`
		internal string
	}

	out := Sanitize(payload{Name: "bob", Age: 7, Ignored: "x", internal: "y"}).(map[string]any)
	assert.Equal(t, "bob", out["name"])
	assert.Equal(t, int64(7), out["age"])
	assert.NotContains(t, out, "Ignored")
	assert.NotContains(t, out, "internal")
}

func TestSanitize_ArrayKeepsIndexes(t *testing.T) {
	// 数组里的不可序列化成员置 nil，索引不塌缩
	in := []any{"keep", func() {}, "also"}
	out := Sanitize(in).([]any)

	require.Len(t, out, 3)
	assert.Equal(t, "keep", out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, "also", out[2])
}

func TestSanitize_Scalars(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
	assert.Equal(t, "s", Sanitize("s"))
	assert.Equal(t, true, Sanitize(true))
	assert.Equal(t, int64(5), Sanitize(5))
	assert.Equal(t, int64(5), Sanitize(uint8(5)))
	assert.Equal(t, 2.5, Sanitize(2.5))
}
