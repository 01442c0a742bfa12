package runner

// Config is the per-runner configuration surface (§6): window
// capacity plus the behavioural switches an engine operator sets when
// calling add_runner.
type Config struct {
	WindowCapacity int
	StopOnError    bool
	LogActions     bool
	LogPositions   bool
	CollectMetrics bool
}

// DefaultConfig returns the engine's default per-runner configuration.
func DefaultConfig() Config {
	return Config{
		WindowCapacity: 100,
		StopOnError:    false,
		LogActions:     true,
		LogPositions:   true,
		CollectMetrics: true,
	}
}
