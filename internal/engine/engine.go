// Package engine implements the runner registry, symbol routing table,
// bar fan-out, and control/introspection surface described in §4.A.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/events"
	"github.com/atlas-desktop/stratrunner/internal/runner"
	"github.com/atlas-desktop/stratrunner/internal/workers"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// snapshotTimeout bounds get_snapshot/get_history queries (§5).
const snapshotTimeout = 100 * time.Millisecond

var (
	// ErrDuplicateID is returned by AddRunner when id is already registered.
	ErrDuplicateID = errors.New("engine: duplicate runner id")
	// ErrNotFound is returned when an operation names an unknown runner id.
	ErrNotFound = errors.New("engine: runner not found")
)

// StrategyLoadError wraps a strategy host load failure from add_runner.
type StrategyLoadError struct {
	Err error
}

func (e *StrategyLoadError) Error() string { return fmt.Sprintf("engine: strategy load failed: %v", e.Err) }
func (e *StrategyLoadError) Unwrap() error  { return e.Err }

// Config is the engine-level configuration surface (§6).
type Config struct {
	DefaultWindowCapacity int
	DefaultRunnerConfig   runner.Config
	FanoutWorkers         int
}

// DefaultConfig returns sensible defaults mirroring runner.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		DefaultWindowCapacity: 100,
		DefaultRunnerConfig:   runner.DefaultConfig(),
		FanoutWorkers:         0, // 0 -> workers.DefaultPoolConfig picks NumCPU()*2
	}
}

type registryEntry struct {
	r      *runner.Runner
	symbol string
}

// Engine owns the runner registry, the symbol->runner routing table,
// the shared event bus, and the lifecycle of all per-runner goroutines.
// The registry and routing table are mutated only under mu.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	registry map[string]*registryEntry
	routing  map[string]map[string]struct{} // symbol -> set of runner ids
	barsFed  int64

	bus     *events.Bus
	fanout  *workers.Pool
	metrics *prometheusMetrics
}

// New constructs an Engine with its aggregator and fan-out pool
// started. Call Shutdown when done.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg := workers.DefaultPoolConfig("engine-fanout")
	if cfg.FanoutWorkers > 0 {
		poolCfg.NumWorkers = cfg.FanoutWorkers
	}
	pool := workers.NewPool(logger.Named("fanout"), poolCfg)
	pool.Start()

	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		registry: make(map[string]*registryEntry),
		routing:  make(map[string]map[string]struct{}),
		bus:      events.NewBus(logger),
		fanout:   pool,
		metrics:  newPrometheusMetrics(),
	}
	return e
}

// AddRunner creates, indexes, and starts a new runner. See §4.A.
func (e *Engine) AddRunner(id, symbol, scriptPath string, cfg runner.Config) error {
	e.mu.Lock()
	if _, exists := e.registry[id]; exists {
		e.mu.Unlock()
		return ErrDuplicateID
	}
	e.mu.Unlock()

	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = e.cfg.DefaultWindowCapacity
	}

	r, err := runner.New(id, symbol, scriptPath, cfg, e.bus.NewSender(), e.metrics, e.logger)
	if err != nil {
		return &StrategyLoadError{Err: err}
	}

	e.mu.Lock()
	if _, exists := e.registry[id]; exists {
		e.mu.Unlock()
		return ErrDuplicateID
	}
	e.registry[id] = &registryEntry{r: r, symbol: symbol}
	if e.routing[symbol] == nil {
		e.routing[symbol] = make(map[string]struct{})
	}
	e.routing[symbol][id] = struct{}{}
	e.mu.Unlock()

	e.metrics.runnersTotal.Inc()
	go r.Run()
	return nil
}

// RemoveRunner stops and retires a runner. Idempotent per-caller:
// removing an unknown id fails with ErrNotFound.
func (e *Engine) RemoveRunner(id string) error {
	e.mu.Lock()
	entry, ok := e.registry[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	delete(e.registry, id)
	if set := e.routing[entry.symbol]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(e.routing, entry.symbol)
		}
	}
	e.mu.Unlock()
	e.metrics.runnersTotal.Dec()

	entry.r.Command(runner.Command{Kind: runner.CommandStop})
	select {
	case <-entry.r.Done():
	case <-time.After(5 * time.Second):
		e.logger.Warn("runner did not stop within timeout", zap.String("runner_id", id))
	}
	return nil
}

// FeedBar looks up bar.Symbol's subscribers and fans the bar out to
// each, in the order the engine received it (§5). Runner.FeedBar is a
// non-blocking push onto the runner's own queue, so the fan-out is
// done synchronously under mu: two FeedBar calls for the same symbol
// therefore push to every shared runner in the same relative order
// they acquired the lock, rather than racing across pool workers.
func (e *Engine) FeedBar(bar types.Bar) error {
	if err := bar.Validate(); err != nil {
		e.metrics.feedErrors.Inc()
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.routing[bar.Symbol]
	for id := range ids {
		e.registry[id].r.FeedBar(bar)
	}
	e.barsFed++
	e.metrics.barsFed.Inc()
	return nil
}

// GetSnapshot awaits the named runner's reply with a 100ms deadline.
func (e *Engine) GetSnapshot(id string) (*types.Snapshot, bool) {
	e.mu.Lock()
	entry, ok := e.registry[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}

	reply := make(chan types.Snapshot, 1)
	entry.r.Command(runner.Command{Kind: runner.CommandGetSnapshot, ReplySnapshot: reply})

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	select {
	case snap := <-reply:
		return &snap, true
	case <-ctx.Done():
		return nil, false
	}
}

// GetHistory awaits the runner's last n bars with a 100ms deadline.
func (e *Engine) GetHistory(id string, n int) ([]types.Bar, bool) {
	e.mu.Lock()
	entry, ok := e.registry[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}

	reply := make(chan []types.Bar, 1)
	entry.r.Command(runner.Command{Kind: runner.CommandGetHistory, N: n, ReplyHistory: reply})

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	select {
	case bars := <-reply:
		return bars, true
	case <-ctx.Done():
		return nil, false
	}
}

// Pause, Resume, and Stop send the corresponding control command. Each
// returns ErrNotFound for an unknown id.
func (e *Engine) Pause(id string) error  { return e.sendControl(id, runner.CommandPause) }
func (e *Engine) Resume(id string) error { return e.sendControl(id, runner.CommandResume) }
func (e *Engine) Stop(id string) error   { return e.sendControl(id, runner.CommandStop) }

func (e *Engine) sendControl(id string, kind runner.CommandKind) error {
	e.mu.Lock()
	entry, ok := e.registry[id]
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	entry.r.Command(runner.Command{Kind: kind})
	return nil
}

// SubscribeEvents returns an independent read-side handle on the
// broadcast stream.
func (e *Engine) SubscribeEvents() *events.Subscription {
	return e.bus.Subscribe()
}

// RunnersForSymbol returns the runner ids currently subscribed to symbol.
func (e *Engine) RunnersForSymbol(symbol string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.routing[symbol]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// HealthCheck reports, for every registered runner, whether its
// goroutine is still alive.
func (e *Engine) HealthCheck() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.registry))
	for id, entry := range e.registry {
		select {
		case <-entry.r.Done():
			out[id] = false
		default:
			out[id] = true
		}
	}
	return out
}

// Summary returns aggregate registry/routing counts.
func (e *Engine) Summary() types.EngineSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	bySymbol := make(map[string]int, len(e.routing))
	for symbol, ids := range e.routing {
		bySymbol[symbol] = len(ids)
	}
	return types.EngineSummary{
		RunnerCount: len(e.registry),
		BySymbol:    bySymbol,
		BarsFed:     e.barsFed,
	}
}

// Shutdown stops every runner in parallel via the fan-out pool (each
// runner's stop is independent and may itself take up to 5s, so
// stopping sequentially would serialize that wait across the whole
// registry), then tears down the aggregator and the pool itself.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.registry))
	for id := range e.registry {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		if err := e.fanout.SubmitFunc(func() error {
			defer wg.Done()
			_ = e.RemoveRunner(id)
			return nil
		}); err != nil {
			wg.Done()
			_ = e.RemoveRunner(id)
		}
	}
	wg.Wait()

	_ = e.fanout.Stop()
	e.bus.Close()
}
