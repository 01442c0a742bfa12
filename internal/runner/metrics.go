package runner

import (
	"time"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// MetricsRecorder receives per-tick and per-event observations from a
// Runner. The Engine supplies a Prometheus-backed implementation so
// every runner shares one set of registered collectors instead of each
// registering its own (which would panic on re-registration).
type MetricsRecorder interface {
	RecordTick(runnerID string, d time.Duration)
	RecordEvent(runnerID string, kind types.EventKind)
}

// noopMetrics is used when a runner is constructed without metrics
// collection (CollectMetrics = false).
type noopMetrics struct{}

func (noopMetrics) RecordTick(string, time.Duration)  {}
func (noopMetrics) RecordEvent(string, types.EventKind) {}
