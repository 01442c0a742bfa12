package config

import (
	"github.com/atlas-desktop/stratrunner/internal/engine"
	"github.com/atlas-desktop/stratrunner/internal/runner"
)

// RunnerConfig converts the loaded runner section into runner.Config.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		WindowCapacity: c.Runner.WindowCapacity,
		StopOnError:    c.Runner.StopOnError,
		LogActions:     c.Runner.LogActions,
		LogPositions:   c.Runner.LogPositions,
		CollectMetrics: c.Runner.CollectMetrics,
	}
}

// EngineConfig converts the loaded engine section into engine.Config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DefaultWindowCapacity: c.Engine.DefaultWindowCapacity,
		DefaultRunnerConfig:   c.RunnerConfig(),
		FanoutWorkers:         c.Engine.FanoutWorkers,
	}
}
