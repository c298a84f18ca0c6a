// Package engine 实现请求/响应关联引擎
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/wire"
)

// typeEntry 一个已注册的消息类型
type typeEntry struct {
	name string

	// explicit 是否为显式注册（显式注册不可重复）
	explicit bool

	// schema 负载校验规则
	schema *interfaces.Schema

	// timeout / retries 该类型的覆盖值
	timeout time.Duration
	retries int

	// handlers 按注册顺序排列的处理器
	handlers []handlerEntry
}

// handlerEntry 带 ID 的处理器，ID 用于取消订阅
type handlerEntry struct {
	id uint64
	fn interfaces.MessageHandler
}

// typeRegistry 消息类型注册表
//
// 按名称精确匹配，不做任何运行时类型探测。类型可以显式注册
// （Register）或在首个处理器/首次发送时隐式创建；显式注册一个
// 已显式注册的类型是错误，隐式条目可以被一次显式注册升级。
type typeRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	types  map[string]*typeEntry
}

// newTypeRegistry 创建类型注册表
func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		types: make(map[string]*typeEntry),
	}
}

// register 显式注册类型
func (r *typeRegistry) register(name string, opts interfaces.TypeOptions) error {
	if wire.IsSystemType(name) {
		return fmt.Errorf("%w: %s", ErrSystemType, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.types[name]
	if exists && entry.explicit {
		return fmt.Errorf("%w: %s", ErrTypeRegistered, name)
	}
	if !exists {
		entry = &typeEntry{name: name, retries: -1}
		r.types[name] = entry
	}

	entry.explicit = true
	entry.schema = opts.Schema
	entry.timeout = opts.Timeout
	entry.retries = opts.Retries
	return nil
}

// unregister 注销类型及其全部处理器
func (r *typeRegistry) unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; !exists {
		return fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	delete(r.types, name)
	return nil
}

// ensure 取出类型条目，不存在时隐式创建
func (r *typeRegistry) ensure(name string) *typeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.types[name]
	if !exists {
		entry = &typeEntry{name: name, retries: -1}
		r.types[name] = entry
	}
	return entry
}

// addHandler 追加处理器，返回取消函数
func (r *typeRegistry) addHandler(name string, fn interfaces.MessageHandler) func() {
	r.mu.Lock()
	entry, exists := r.types[name]
	if !exists {
		entry = &typeEntry{name: name, retries: -1}
		r.types[name] = entry
	}
	r.nextID++
	id := r.nextID
	entry.handlers = append(entry.handlers, handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if e, ok := r.types[name]; ok {
				for i, h := range e.handlers {
					if h.id == id {
						e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
						break
					}
				}
			}
		})
	}
}

// snapshot 读取类型条目（含处理器列表的拷贝）
func (r *typeRegistry) snapshot(name string) (interfaces.TypeOptions, []handlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.types[name]
	if !exists {
		return interfaces.TypeOptions{Retries: -1}, nil, false
	}
	handlers := make([]handlerEntry, len(entry.handlers))
	copy(handlers, entry.handlers)
	return interfaces.TypeOptions{
		Schema:  entry.schema,
		Timeout: entry.timeout,
		Retries: entry.retries,
	}, handlers, true
}
