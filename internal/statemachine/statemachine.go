// Package statemachine implements the per-runner Idle/Analyzing/
// InPosition finite state machine, its action alphabet, auto-exit
// guards, and the bounded transition log.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// transitionLogCapacity is the size of the bounded transition ring.
const transitionLogCapacity = 100

// ActionKind is the action alphabet a strategy call can return.
type ActionKind string

const (
	ActionStartAnalyzing  ActionKind = "start_analyzing"
	ActionCancelAnalysis  ActionKind = "cancel_analysis"
	ActionEnterLong       ActionKind = "enter_long"
	ActionEnterShort      ActionKind = "enter_short"
	ActionExitPosition    ActionKind = "exit_position"
	ActionUpdateStopLoss  ActionKind = "update_stop_loss"
	ActionUpdateTakeProfit ActionKind = "update_take_profit"
	ActionNoAction        ActionKind = "no_action"
)

// Action is a decoded command returned by a strategy invocation.
type Action struct {
	Kind       ActionKind
	Reason     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	NewStop    decimal.Decimal
	NewTarget  decimal.Decimal
}

// ErrIllegalTransition is returned when an action is incompatible with
// the current state. The caller logs, counts, and does not change
// state; it is never fatal.
var ErrIllegalTransition = errors.New("statemachine: illegal transition")

// StateMachine owns the current state, position, and bounded
// transition log for one runner. It is never shared across goroutines.
type StateMachine struct {
	state    types.RunnerState
	position *types.Position

	log      []types.Transition
	logStart int
}

// New creates a state machine in the initial Idle state.
func New() *StateMachine {
	return &StateMachine{
		state: types.StateIdle,
		log:   make([]types.Transition, 0, transitionLogCapacity),
	}
}

// State returns the current FSM state.
func (sm *StateMachine) State() types.RunnerState {
	return sm.state
}

// Position returns the open position, or nil if Idle/Analyzing.
func (sm *StateMachine) Position() *types.Position {
	return sm.position
}

// Transitions returns the bounded transition log, oldest first.
func (sm *StateMachine) Transitions() []types.Transition {
	out := make([]types.Transition, len(sm.log))
	for i := range out {
		out[i] = sm.log[sm.logIndex(i)]
	}
	return out
}

func (sm *StateMachine) logIndex(i int) int {
	if len(sm.log) < transitionLogCapacity {
		return i
	}
	return (sm.logStart + i) % transitionLogCapacity
}

func (sm *StateMachine) record(from, to types.RunnerState, reason string, timestamp int64) {
	t := types.Transition{From: from, To: to, Reason: reason, Timestamp: timestamp}
	if len(sm.log) < transitionLogCapacity {
		sm.log = append(sm.log, t)
		return
	}
	sm.log[sm.logStart] = t
	sm.logStart = (sm.logStart + 1) % transitionLogCapacity
}

// Effect is returned by Apply and CheckAutoExit so the runner can
// decide which events to emit without the state machine knowing about
// the event bus.
type Effect struct {
	Transitioned    bool
	From            types.RunnerState
	To              types.RunnerState
	Reason          string
	PositionOpened  *types.Position
	PositionUpdated bool
	PositionClosed  bool
	ClosedAtPrice   decimal.Decimal
	RealizedPnL     decimal.Decimal
	CloseReason     types.CloseReason
}

// Apply executes an action against the current state, mutating state
// and position as the transition table dictates, and returns the
// effects the caller should translate into events. An action
// incompatible with the current state returns ErrIllegalTransition and
// leaves state unchanged.
func (sm *StateMachine) Apply(action Action, timestamp int64) (Effect, error) {
	from := sm.state

	switch action.Kind {
	case ActionNoAction:
		return Effect{}, nil

	case ActionStartAnalyzing:
		if from != types.StateIdle {
			return Effect{}, fmt.Errorf("%w: start_analyzing from %s", ErrIllegalTransition, from)
		}
		sm.state = types.StateAnalyzing
		sm.record(from, sm.state, action.Reason, timestamp)
		return Effect{Transitioned: true, From: from, To: sm.state, Reason: action.Reason}, nil

	case ActionCancelAnalysis:
		if from != types.StateAnalyzing {
			return Effect{}, fmt.Errorf("%w: cancel_analysis from %s", ErrIllegalTransition, from)
		}
		sm.state = types.StateIdle
		sm.record(from, sm.state, action.Reason, timestamp)
		return Effect{Transitioned: true, From: from, To: sm.state, Reason: action.Reason}, nil

	case ActionEnterLong, ActionEnterShort:
		if from != types.StateIdle && from != types.StateAnalyzing {
			return Effect{}, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, action.Kind, from)
		}
		side := types.Long
		if action.Kind == ActionEnterShort {
			side = types.Short
		}
		pos := &types.Position{
			Side:           side,
			EntryPrice:     action.Price,
			Quantity:       action.Quantity,
			EntryTimestamp: timestamp,
			StopLoss:       action.StopLoss,
			TakeProfit:     action.TakeProfit,
			CurrentPrice:   action.Price,
		}
		sm.position = pos
		sm.state = types.StateInPosition
		sm.record(from, sm.state, string(action.Kind), timestamp)
		return Effect{Transitioned: true, From: from, To: sm.state, Reason: string(action.Kind), PositionOpened: pos}, nil

	case ActionUpdateStopLoss:
		if from != types.StateInPosition || sm.position == nil {
			return Effect{}, fmt.Errorf("%w: update_stop_loss from %s", ErrIllegalTransition, from)
		}
		stop := action.NewStop
		sm.position.StopLoss = &stop
		return Effect{PositionUpdated: true}, nil

	case ActionUpdateTakeProfit:
		if from != types.StateInPosition || sm.position == nil {
			return Effect{}, fmt.Errorf("%w: update_take_profit from %s", ErrIllegalTransition, from)
		}
		target := action.NewTarget
		sm.position.TakeProfit = &target
		return Effect{PositionUpdated: true}, nil

	case ActionExitPosition:
		if from != types.StateInPosition || sm.position == nil {
			return Effect{}, fmt.Errorf("%w: exit_position from %s", ErrIllegalTransition, from)
		}
		pnl := sm.position.RealizedPnL(action.Price)
		sm.state = types.StateIdle
		sm.record(from, sm.state, "exit_position", timestamp)
		sm.position = nil
		reason := types.CloseReasonAction
		return Effect{
			Transitioned:   true,
			From:           from,
			To:             sm.state,
			Reason:         "exit_position",
			PositionClosed: true,
			ClosedAtPrice:  action.Price,
			RealizedPnL:    pnl,
			CloseReason:    reason,
		}, nil

	default:
		return Effect{}, fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, action.Kind)
	}
}

// UpdateObservedPrice sets the position's current_price, used before
// auto-exit guards are checked. No-op if no position is open.
func (sm *StateMachine) UpdateObservedPrice(price decimal.Decimal) {
	if sm.position != nil {
		sm.position.CurrentPrice = price
	}
}

// CheckAutoExit evaluates the stop-loss/take-profit guards against the
// held position's last observed price. Returns an Effect with
// PositionClosed set if a guard fired, evaluated once per bar, against
// the position as it stood before this tick's strategy call.
func (sm *StateMachine) CheckAutoExit(timestamp int64) (Effect, bool) {
	pos := sm.position
	if pos == nil {
		return Effect{}, false
	}
	price := pos.CurrentPrice

	var reason types.CloseReason
	fired := false

	switch pos.Side {
	case types.Long:
		if pos.StopLoss != nil && price.LessThanOrEqual(*pos.StopLoss) {
			reason = types.CloseReasonStopLoss
			fired = true
		} else if pos.TakeProfit != nil && price.GreaterThanOrEqual(*pos.TakeProfit) {
			reason = types.CloseReasonTakeProfit
			fired = true
		}
	case types.Short:
		if pos.StopLoss != nil && price.GreaterThanOrEqual(*pos.StopLoss) {
			reason = types.CloseReasonStopLoss
			fired = true
		} else if pos.TakeProfit != nil && price.LessThanOrEqual(*pos.TakeProfit) {
			reason = types.CloseReasonTakeProfit
			fired = true
		}
	}

	if !fired {
		return Effect{}, false
	}

	from := sm.state
	pnl := pos.RealizedPnL(price)
	sm.state = types.StateIdle
	sm.record(from, sm.state, string(reason), timestamp)
	sm.position = nil

	return Effect{
		Transitioned:   true,
		From:           from,
		To:             sm.state,
		Reason:         string(reason),
		PositionClosed: true,
		ClosedAtPrice:  price,
		RealizedPnL:    pnl,
		CloseReason:    reason,
	}, true
}
