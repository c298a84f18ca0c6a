package portlink

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/portlink/go-portlink/config"
	"github.com/portlink/go-portlink/internal/core/engine"
	"github.com/portlink/go-portlink/pkg/interfaces"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 集成
// ════════════════════════════════════════════════════════════════════════════

// ModuleParams Fx 模块输入
//
// 宿主应用负责提供配置与传输适配器；时钟与指标注册表可选。
type ModuleParams struct {
	fx.In

	Config    *config.Config
	Transport interfaces.Transport
	Clock     clock.Clock           `optional:"true"`
	Registry  prometheus.Registerer `optional:"true"`
}

// ModuleResult Fx 模块输出
type ModuleResult struct {
	fx.Out

	Engine interfaces.Engine
}

// provideEngine 构造引擎并把销毁挂到 Fx 生命周期
func provideEngine(lc fx.Lifecycle, p ModuleParams) (ModuleResult, error) {
	svc, err := engine.New(p.Config, p.Transport, p.Clock, p.Registry)
	if err != nil {
		return ModuleResult{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return svc.Destroy()
		},
	})

	return ModuleResult{Engine: svc}, nil
}

// Module 供宿主 Fx 应用装配的引擎模块
var Module = fx.Module("portlink",
	fx.Provide(provideEngine),
)
