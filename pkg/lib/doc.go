// Package lib 包含基础设施工具库
//
// 本目录包含与引擎组件无关的通用工具库：
//
//   - log: 结构化日志封装
//
// # 与 pkg/ 其他目录的关系
//
// pkg/ 目录包含几类内容：
//
//   - interfaces/: 组件公共接口（架构核心）
//   - types/: 公共类型与错误码定义（架构核心）
//   - wire/: 线格式信封的编解码与校验
//   - transport/: 传输适配器实现（inproc、ws）
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import (
//	    "github.com/portlink/go-portlink/pkg/lib/log"
//	)
package lib
