package renewal

import "go.uber.org/fx"

var Module = fx.Module("renewal.engine",
	fx.Provide(New),
)

// RunnerModule is only pulled in by the scheduler binary; the API binary
// exposes the same jobs over HTTP without the timers.
var RunnerModule = fx.Module("renewal.runner",
	fx.Provide(NewRunner),
	fx.Invoke(func(*Runner) {}),
)
