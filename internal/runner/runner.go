// Package runner implements the per-runner cooperative loop: one bar
// in, one state-machine step, zero or more events out, interleaved with
// control-command servicing (§4.B).
package runner

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/queue"
	"github.com/atlas-desktop/stratrunner/internal/statemachine"
	"github.com/atlas-desktop/stratrunner/internal/strategyhost"
	"github.com/atlas-desktop/stratrunner/internal/window"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// EventSink is the subset of events.Sender a Runner needs.
type EventSink interface {
	Send(e types.Event)
}

// Runner is one per registered (id, symbol, strategy) triple. Its
// window, state machine, position, stats, and strategy host are
// touched only by its own goroutine; no locking is used for them.
type Runner struct {
	id     string
	symbol string
	cfg    Config

	win *window.Window
	sm  *statemachine.StateMachine
	ctx *window.Context
	host *strategyhost.Host

	bars *queue.Unbounded[types.Bar]
	cmds *queue.Unbounded[Command]

	sink    EventSink
	metrics MetricsRecorder
	logger  *zap.Logger

	status    types.RunnerStatus
	createdAt time.Time

	stats     types.RunnerStats
	tickCount int64
	tickTotal time.Duration

	done chan struct{}
}

// New constructs a Runner in the Idle state with status Running. The
// strategy script at scriptPath is loaded immediately; a load failure
// is returned to the caller (wrapped in a StrategyLoadError by the
// engine) and no goroutine is started.
func New(id, symbol, scriptPath string, cfg Config, sink EventSink, metrics MetricsRecorder, logger *zap.Logger) (*Runner, error) {
	host, err := strategyhost.NewHost(scriptPath)
	if err != nil {
		return nil, err
	}
	if metrics == nil || !cfg.CollectMetrics {
		metrics = noopMetrics{}
	}
	r := &Runner{
		id:        id,
		symbol:    symbol,
		cfg:       cfg,
		win:       window.New(cfg.WindowCapacity),
		sm:        statemachine.New(),
		ctx:       window.NewContext(),
		host:      host,
		bars:      queue.NewUnbounded[types.Bar](),
		cmds:      queue.NewUnbounded[Command](),
		sink:      sink,
		metrics:   metrics,
		logger:    logger.Named("runner").With(zap.String("runner_id", id), zap.String("symbol", symbol)),
		status:    types.StatusRunning,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	return r, nil
}

// ID returns the runner's unique identifier.
func (r *Runner) ID() string { return r.id }

// Symbol returns the subscribed symbol.
func (r *Runner) Symbol() string { return r.symbol }

// FeedBar enqueues a bar for this runner. Never blocks the caller.
func (r *Runner) FeedBar(b types.Bar) {
	r.bars.Push(b)
}

// Command enqueues a control/introspection command. Never blocks.
func (r *Runner) Command(c Command) {
	r.cmds.Push(c)
}

// Done is closed once the runner's loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Run is the runner's main loop: cooperative select over bars and
// commands, run on its own goroutine. Call once; returns when the
// runner stops.
func (r *Runner) Run() {
	defer close(r.done)
	defer r.host.Close()

	r.emit(types.EventRunnerStarted, map[string]any{"symbol": r.symbol})

	barsCh := r.bars.Out()
	cmdsCh := r.cmds.Out()

	for {
		select {
		case b, ok := <-barsCh:
			if !ok {
				return
			}
			if r.status == types.StatusStopped {
				continue
			}
			if r.status == types.StatusPaused {
				continue // dropped silently: no window update, no strategy call, no stats change
			}
			if r.processBar(b) {
				return
			}

		case cmd, ok := <-cmdsCh:
			if !ok {
				return
			}
			if r.handleCommand(cmd) {
				return
			}
		}
	}
}

func (r *Runner) handleCommand(cmd Command) (shouldExit bool) {
	switch cmd.Kind {
	case CommandPause:
		r.status = types.StatusPaused
	case CommandResume:
		r.status = types.StatusRunning
	case CommandStop:
		r.status = types.StatusStopped
		r.emit(types.EventRunnerStopped, map[string]any{"reason": types.StopReasonStop})
		r.bars.Close()
		r.cmds.Close()
		return true
	case CommandGetSnapshot:
		snap := r.buildSnapshot()
		trySendSnapshot(cmd.ReplySnapshot, snap)
	case CommandGetHistory:
		bars := r.win.Iter()
		if cmd.N < len(bars) {
			bars = bars[len(bars)-cmd.N:]
		}
		trySendHistory(cmd.ReplyHistory, bars)
	}
	return false
}

func trySendSnapshot(ch chan types.Snapshot, snap types.Snapshot) {
	if ch == nil {
		return
	}
	select {
	case ch <- snap:
	default:
	}
}

func trySendHistory(ch chan []types.Bar, bars []types.Bar) {
	if ch == nil {
		return
	}
	select {
	case ch <- bars:
	default:
	}
}

// processBar runs the full algorithm from §4.B step 2 onward. Returns
// true if the runner should exit its loop (stop_on_error with a
// critical strategy failure).
func (r *Runner) processBar(b types.Bar) bool {
	start := time.Now()

	r.win.Append(b)
	r.emit(types.EventTickReceived, map[string]any{"symbol": b.Symbol, "bar": b})

	r.sm.UpdateObservedPrice(b.Close)

	if eff, fired := r.sm.CheckAutoExit(b.Timestamp); fired {
		r.emitTransitionEffect(eff)
		r.recordTick(start)
		return false
	}

	action, strategyErr := r.invokeStrategy(b)
	if strategyErr != nil {
		r.stats.Errors++
		if r.cfg.StopOnError {
			r.emit(types.EventError, map[string]any{"error": strategyErr.Error(), "severity": types.SeverityCritical})
			r.status = types.StatusStopped
			r.emit(types.EventRunnerStopped, map[string]any{"reason": types.StopReasonError})
			r.recordTick(start)
			r.bars.Close()
			r.cmds.Close()
			return true
		}
		r.emit(types.EventError, map[string]any{"error": strategyErr.Error(), "severity": types.SeverityError})
		r.recordTick(start)
		return false
	}

	if action != nil {
		r.stats.ActionsExecuted++
		eff, applyErr := r.sm.Apply(*action, b.Timestamp)
		if applyErr != nil {
			r.stats.Errors++
			r.emit(types.EventError, map[string]any{"error": applyErr.Error(), "severity": types.SeverityWarning})
		} else {
			r.emit(types.EventActionExecuted, map[string]any{"action": string(action.Kind)})
			r.emitTransitionEffect(eff)
		}
	}

	r.recordTick(start)
	return false
}

// invokeStrategy dispatches to the entry point matching the current
// state, capturing the opportunity record (merged into the context and
// turned into an implicit StartAnalyzing, which processBar applies) or
// decoded action.
func (r *Runner) invokeStrategy(b types.Bar) (*statemachine.Action, error) {
	switch r.sm.State() {
	case types.StateIdle:
		fields, has, err := r.host.DetectOpportunity(b, r.ctx.View(), r.win)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, nil
		}
		r.ctx.Merge(fields)
		return &statemachine.Action{Kind: statemachine.ActionStartAnalyzing, Reason: "opportunity_detected"}, nil

	case types.StateAnalyzing:
		action, err := r.host.FilterCommitment(b, r.ctx.View(), r.win)
		if err != nil {
			return nil, err
		}
		return action, nil

	case types.StateInPosition:
		action, err := r.host.ManagePosition(b, r.ctx.View(), r.win)
		if err != nil {
			return nil, err
		}
		return action, nil

	default:
		return nil, fmt.Errorf("runner: unknown state %q", r.sm.State())
	}
}

func (r *Runner) emitTransitionEffect(eff statemachine.Effect) {
	if eff.Transitioned {
		r.emit(types.EventStateTransition, map[string]any{"from": eff.From, "to": eff.To, "reason": eff.Reason})
	}
	if eff.PositionOpened != nil {
		r.emit(types.EventPositionOpened, map[string]any{"position": eff.PositionOpened})
	}
	if eff.PositionUpdated {
		if pos := r.sm.Position(); pos != nil {
			r.emit(types.EventPositionUpdated, map[string]any{"current_price": pos.CurrentPrice, "unrealized_pnl": pos.UnrealizedPnL()})
		}
	}
	if eff.PositionClosed {
		r.emit(types.EventPositionClosed, map[string]any{
			"exit_price":   eff.ClosedAtPrice,
			"realized_pnl": eff.RealizedPnL,
			"reason":       eff.CloseReason,
		})
	}
}

func (r *Runner) recordTick(start time.Time) {
	d := time.Since(start)
	r.stats.TicksProcessed++
	r.tickCount++
	r.tickTotal += d
	ns := d.Nanoseconds()
	if r.stats.MinTickNanos == 0 || ns < r.stats.MinTickNanos {
		r.stats.MinTickNanos = ns
	}
	if ns > r.stats.MaxTickNanos {
		r.stats.MaxTickNanos = ns
	}
	r.stats.AvgTickNanos = r.tickTotal.Nanoseconds() / r.tickCount
	r.metrics.RecordTick(r.id, d)
}

func (r *Runner) emit(kind types.EventKind, data map[string]any) {
	r.sink.Send(types.Event{Kind: kind, RunnerID: r.id, Timestamp: time.Now().UnixMilli(), Data: data})
	r.metrics.RecordEvent(r.id, kind)
}

// buildSnapshot is produced from the runner's own state without locks
// (the runner is single-consumer; this runs on the runner goroutine).
func (r *Runner) buildSnapshot() types.Snapshot {
	var posCopy *types.Position
	var unrealized *decimal.Decimal
	if pos := r.sm.Position(); pos != nil {
		cp := *pos
		posCopy = &cp
		pnl := pos.UnrealizedPnL()
		unrealized = &pnl
	}
	return types.Snapshot{
		RunnerID:          r.id,
		Symbol:            r.symbol,
		Status:            r.status,
		CurrentState:      r.sm.State(),
		Position:          posCopy,
		UnrealizedPnL:     unrealized,
		Context:           r.ctx.View(),
		Stats:             r.stats,
		UptimeSecs:        time.Since(r.createdAt).Seconds(),
		SnapshotTimestamp: time.Now().UnixMilli(),
	}
}
