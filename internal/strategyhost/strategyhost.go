// Package strategyhost embeds a goja (pure-Go ECMAScript) interpreter
// as the strategy scripting boundary: it loads a user script, validates
// its three required entry points at load time, marshals market bar,
// context, and indicator data across the language boundary, and decodes
// the script's returned records into typed opportunities/actions.
package strategyhost

import (
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/internal/indicators"
	"github.com/atlas-desktop/stratrunner/internal/statemachine"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// LoadErrorKind classifies why a script failed to load.
type LoadErrorKind string

const (
	LoadMissingFunction LoadErrorKind = "MissingFunction"
	LoadSyntaxError     LoadErrorKind = "SyntaxError"
	LoadIOError         LoadErrorKind = "IOError"
)

// LoadError is returned by NewHost when a script cannot be loaded.
type LoadError struct {
	Kind LoadErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("strategyhost: load failed (%s): %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RuntimeError wraps a script exception caught at the host boundary. It
// never unwinds into the runner loop as a Go panic.
type RuntimeError struct {
	Script string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("strategyhost: runtime error in %s: %v", e.Script, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ReturnError is a malformed return value: missing action field, unknown
// action variant, or a wrong field type.
type ReturnError struct {
	Script string
	Field  string
	Reason string
}

func (e *ReturnError) Error() string {
	return fmt.Sprintf("strategyhost: malformed return from %s (field %q): %s", e.Script, e.Field, e.Reason)
}

const (
	fnDetectOpportunity = "detect_opportunity"
	fnFilterCommitment  = "filter_commitment"
	fnManagePosition    = "manage_position"
)

// WindowView is the subset of internal/window.Window the indicator
// callables need; satisfied directly by *window.Window.
type WindowView interface {
	Len() int
	Closes(n int) ([]decimal.Decimal, error)
	High(n int) (decimal.Decimal, error)
	Low(n int) (decimal.Decimal, error)
	Range(n int) (decimal.Decimal, error)
	AvgVolume(n int) (decimal.Decimal, error)
}

// Host owns one interpreter per runner, created at runner construction
// and destroyed at runner stop. It is never shared across runners.
type Host struct {
	scriptName string
	vm         *goja.Runtime
	detect     goja.Callable
	filter     goja.Callable
	manage     goja.Callable
}

// NewHost reads scriptPath once, parses and runs it, and verifies all
// three entry points exist as callables.
func NewHost(scriptPath string) (*Host, error) {
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, &LoadError{Kind: LoadIOError, Err: err}
	}

	vm := goja.New()
	program, err := goja.Compile(scriptPath, string(src), false)
	if err != nil {
		return nil, &LoadError{Kind: LoadSyntaxError, Err: err}
	}
	if _, err := vm.RunProgram(program); err != nil {
		return nil, &LoadError{Kind: LoadSyntaxError, Err: err}
	}

	h := &Host{scriptName: scriptPath, vm: vm}

	h.detect, err = requireCallable(vm, fnDetectOpportunity)
	if err != nil {
		return nil, err
	}
	h.filter, err = requireCallable(vm, fnFilterCommitment)
	if err != nil {
		return nil, err
	}
	h.manage, err = requireCallable(vm, fnManagePosition)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func requireCallable(vm *goja.Runtime, name string) (goja.Callable, error) {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, &LoadError{Kind: LoadMissingFunction, Err: fmt.Errorf("missing function %q", name)}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &LoadError{Kind: LoadMissingFunction, Err: fmt.Errorf("%q is not callable", name)}
	}
	return fn, nil
}

// Close releases the interpreter. Safe to call once at runner stop.
func (h *Host) Close() {
	h.vm = nil
}

func (h *Host) barObject(bar types.Bar) *goja.Object {
	obj := h.vm.NewObject()
	open, _ := bar.Open.Float64()
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()
	close, _ := bar.Close.Float64()
	volume, _ := bar.Volume.Float64()
	bid, _ := bar.Bid.Float64()
	ask, _ := bar.Ask.Float64()
	obj.Set("symbol", bar.Symbol)
	obj.Set("timestamp", bar.Timestamp)
	obj.Set("open", open)
	obj.Set("high", high)
	obj.Set("low", low)
	obj.Set("close", close)
	obj.Set("volume", volume)
	obj.Set("bid", bid)
	obj.Set("ask", ask)
	if bar.HasQuote() {
		mid, _ := bar.MidPrice().Float64()
		obj.Set("mid_price", mid)
	}
	return obj
}

func (h *Host) contextObject(ctx types.ContextView) *goja.Object {
	obj := h.vm.NewObject()
	for k, v := range ctx.Numbers {
		obj.Set(k, v)
	}
	for k, v := range ctx.Integers {
		obj.Set(k, v)
	}
	for k, v := range ctx.Strings {
		obj.Set(k, v)
	}
	for k, v := range ctx.Booleans {
		obj.Set(k, v)
	}
	return obj
}

// indicatorObject builds the on-demand callable view: sma/ema/rsi close
// over a snapshot of the current window's closes taken at call time;
// each returns a scalar or undefined if the window is shorter than the
// requested period. Precomputed scalars high/low/range/avg_volume use a
// fixed default lookback equal to the full window length.
func (h *Host) indicatorObject(win WindowView) (*goja.Object, error) {
	obj := h.vm.NewObject()

	var closesAll []decimal.Decimal
	if n := win.Len(); n > 0 {
		closesAll, _ = win.Closes(n)
	}

	obj.Set("sma", func(call goja.FunctionCall) goja.Value {
		period := int(call.Argument(0).ToInteger())
		floats := toFloats(closesAll)
		out, err := indicators.SMA(floats, period)
		if err != nil || len(out) == 0 {
			return goja.Undefined()
		}
		return h.vm.ToValue(out[len(out)-1])
	})
	obj.Set("ema", func(call goja.FunctionCall) goja.Value {
		period := int(call.Argument(0).ToInteger())
		floats := toFloats(closesAll)
		out, err := indicators.EMA(floats, period)
		if err != nil || len(out) == 0 {
			return goja.Undefined()
		}
		return h.vm.ToValue(out[len(out)-1])
	})
	obj.Set("rsi", func(call goja.FunctionCall) goja.Value {
		period := int(call.Argument(0).ToInteger())
		floats := toFloats(closesAll)
		out, err := indicators.RSI(floats, period)
		if err != nil || len(out) == 0 {
			return goja.Undefined()
		}
		return h.vm.ToValue(out[len(out)-1])
	})

	n := len(closesAll)
	if n > 0 {
		if hi, err := win.High(n); err == nil {
			f, _ := hi.Float64()
			obj.Set("high", f)
		}
		if lo, err := win.Low(n); err == nil {
			f, _ := lo.Float64()
			obj.Set("low", f)
		}
		if rng, err := win.Range(n); err == nil {
			f, _ := rng.Float64()
			obj.Set("range", f)
		}
		if av, err := win.AvgVolume(n); err == nil {
			f, _ := av.Float64()
			obj.Set("avg_volume", f)
		}
	}
	return obj, nil
}

func toFloats(ds []decimal.Decimal) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i], _ = d.Float64()
	}
	return out
}

// callSafely invokes fn, recovering a goja panic/exception into a
// RuntimeError so it never unwinds into the runner loop.
func (h *Host) callSafely(fn goja.Callable, args ...goja.Value) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeError{Script: h.scriptName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, callErr := fn(goja.Undefined(), args...)
	if callErr != nil {
		var ex *goja.Exception
		if errors.As(callErr, &ex) {
			return nil, &RuntimeError{Script: h.scriptName, Err: fmt.Errorf("%s", ex.String())}
		}
		return nil, &RuntimeError{Script: h.scriptName, Err: callErr}
	}
	return res, nil
}

// DetectOpportunity calls the script's detect_opportunity entry point.
// Returns (fields, true, nil) if the script returned a record; (nil,
// false, nil) if it returned nothing.
func (h *Host) DetectOpportunity(bar types.Bar, ctx types.ContextView, win WindowView) (map[string]any, bool, error) {
	indObj, err := h.indicatorObject(win)
	if err != nil {
		return nil, false, err
	}
	v, err := h.callSafely(h.detect, h.barObject(bar), h.contextObject(ctx), indObj)
	if err != nil {
		return nil, false, err
	}
	return decodeOpportunity(h.scriptName, v)
}

// FilterCommitment calls filter_commitment, valid only while Analyzing.
func (h *Host) FilterCommitment(bar types.Bar, ctx types.ContextView, win WindowView) (*statemachine.Action, error) {
	indObj, err := h.indicatorObject(win)
	if err != nil {
		return nil, err
	}
	v, err := h.callSafely(h.filter, h.barObject(bar), h.contextObject(ctx), indObj)
	if err != nil {
		return nil, err
	}
	return decodeAction(h.scriptName, v)
}

// ManagePosition calls manage_position, valid only while InPosition.
func (h *Host) ManagePosition(bar types.Bar, ctx types.ContextView, win WindowView) (*statemachine.Action, error) {
	indObj, err := h.indicatorObject(win)
	if err != nil {
		return nil, err
	}
	v, err := h.callSafely(h.manage, h.barObject(bar), h.contextObject(ctx), indObj)
	if err != nil {
		return nil, err
	}
	return decodeAction(h.scriptName, v)
}

func decodeOpportunity(script string, v goja.Value) (map[string]any, bool, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false, &ReturnError{Script: script, Field: "(root)", Reason: "expected a record"}
	}
	out := make(map[string]any)
	for _, key := range obj.Keys() {
		val := obj.Get(key)
		out[key] = exportScalar(val)
	}
	return out, true, nil
}

func exportScalar(val goja.Value) any {
	exported := val.Export()
	switch ev := exported.(type) {
	case int64:
		return ev
	case float64:
		return ev
	case string:
		return ev
	case bool:
		return ev
	default:
		return exported
	}
}

func decodeAction(script string, v goja.Value) (*statemachine.Action, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, &ReturnError{Script: script, Field: "(root)", Reason: "expected a record"}
	}
	actionVal := obj.Get("action")
	if actionVal == nil || goja.IsUndefined(actionVal) {
		return nil, &ReturnError{Script: script, Field: "action", Reason: "missing required field"}
	}
	actionStr, ok := actionVal.Export().(string)
	if !ok {
		return nil, &ReturnError{Script: script, Field: "action", Reason: "expected string"}
	}

	kind := statemachine.ActionKind(actionStr)
	switch kind {
	case statemachine.ActionStartAnalyzing, statemachine.ActionCancelAnalysis, statemachine.ActionNoAction:
		return &statemachine.Action{Kind: kind, Reason: stringField(obj, "reason")}, nil

	case statemachine.ActionEnterLong, statemachine.ActionEnterShort:
		price, err := requireDecimalField(script, obj, "price")
		if err != nil {
			return nil, err
		}
		qty, err := requireDecimalField(script, obj, "quantity")
		if err != nil {
			return nil, err
		}
		a := &statemachine.Action{Kind: kind, Price: price, Quantity: qty}
		if sl, ok := optionalDecimalField(obj, "stop_loss"); ok {
			a.StopLoss = &sl
		}
		if tp, ok := optionalDecimalField(obj, "take_profit"); ok {
			a.TakeProfit = &tp
		}
		return a, nil

	case statemachine.ActionExitPosition:
		price, err := requireDecimalField(script, obj, "price")
		if err != nil {
			return nil, err
		}
		return &statemachine.Action{Kind: kind, Price: price, Reason: stringField(obj, "reason")}, nil

	case statemachine.ActionUpdateStopLoss:
		stop, err := requireDecimalField(script, obj, "new_stop")
		if err != nil {
			return nil, err
		}
		return &statemachine.Action{Kind: kind, NewStop: stop}, nil

	case statemachine.ActionUpdateTakeProfit:
		target, err := requireDecimalField(script, obj, "new_target")
		if err != nil {
			return nil, err
		}
		return &statemachine.Action{Kind: kind, NewTarget: target}, nil

	default:
		return nil, &ReturnError{Script: script, Field: "action", Reason: fmt.Sprintf("unknown action variant %q", actionStr)}
	}
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	s, _ := v.Export().(string)
	return s
}

func requireDecimalField(script string, obj *goja.Object, name string) (decimal.Decimal, error) {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return decimal.Zero, &ReturnError{Script: script, Field: name, Reason: "missing required field"}
	}
	f, ok := v.Export().(float64)
	if !ok {
		if i, ok := v.Export().(int64); ok {
			return decimal.NewFromInt(i), nil
		}
		return decimal.Zero, &ReturnError{Script: script, Field: name, Reason: "expected a number"}
	}
	return decimal.NewFromFloat(f), nil
}

func optionalDecimalField(obj *goja.Object, name string) (decimal.Decimal, bool) {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return decimal.Zero, false
	}
	if f, ok := v.Export().(float64); ok {
		return decimal.NewFromFloat(f), true
	}
	if i, ok := v.Export().(int64); ok {
		return decimal.NewFromInt(i), true
	}
	return decimal.Zero, false
}
