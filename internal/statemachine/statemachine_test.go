package statemachine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestIdleToInPositionDirect(t *testing.T) {
	sm := New()
	eff, err := sm.Apply(Action{Kind: ActionEnterLong, Price: dec(100), Quantity: dec(1)}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.State() != types.StateInPosition {
		t.Fatalf("expected InPosition, got %v", sm.State())
	}
	if eff.PositionOpened == nil {
		t.Fatal("expected PositionOpened effect")
	}
}

func TestIllegalTransitionDoesNotChangeState(t *testing.T) {
	sm := New()
	_, err := sm.Apply(Action{Kind: ActionExitPosition, Price: dec(100)}, 1000)
	if err == nil {
		t.Fatal("expected ErrIllegalTransition")
	}
	if sm.State() != types.StateIdle {
		t.Fatalf("state must remain Idle after illegal transition, got %v", sm.State())
	}
}

func TestAnalyzingCancelReturnsToIdleWithoutClearingContext(t *testing.T) {
	sm := New()
	if _, err := sm.Apply(Action{Kind: ActionStartAnalyzing, Reason: "signal"}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sm.Apply(Action{Kind: ActionCancelAnalysis, Reason: "no confirm"}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.State() != types.StateIdle {
		t.Fatalf("expected Idle, got %v", sm.State())
	}
}

func TestAutoExitStopLossLong(t *testing.T) {
	sm := New()
	sm.Apply(Action{Kind: ActionEnterLong, Price: dec(100), Quantity: dec(1)}, 1)
	stop := dec(98)
	sm.Position().StopLoss = &stop
	sm.UpdateObservedPrice(dec(97.5))

	eff, fired := sm.CheckAutoExit(2)
	if !fired {
		t.Fatal("expected auto-exit to fire")
	}
	if eff.CloseReason != types.CloseReasonStopLoss {
		t.Errorf("expected stop_loss reason, got %v", eff.CloseReason)
	}
	wantPnl := dec(-2.5)
	if !eff.RealizedPnL.Equal(wantPnl) {
		t.Errorf("expected realized pnl %v, got %v", wantPnl, eff.RealizedPnL)
	}
	if sm.State() != types.StateIdle {
		t.Errorf("expected Idle after auto-exit, got %v", sm.State())
	}
}

func TestAutoExitTakeProfitShort(t *testing.T) {
	sm := New()
	sm.Apply(Action{Kind: ActionEnterShort, Price: dec(100), Quantity: dec(1)}, 1)
	target := dec(90)
	sm.Position().TakeProfit = &target
	sm.UpdateObservedPrice(dec(89))

	eff, fired := sm.CheckAutoExit(2)
	if !fired {
		t.Fatal("expected auto-exit to fire")
	}
	if eff.CloseReason != types.CloseReasonTakeProfit {
		t.Errorf("expected take_profit reason, got %v", eff.CloseReason)
	}
}

func TestTransitionLogBounded(t *testing.T) {
	sm := New()
	for i := 0; i < 250; i++ {
		sm.Apply(Action{Kind: ActionStartAnalyzing, Reason: "x"}, int64(i))
		sm.Apply(Action{Kind: ActionCancelAnalysis, Reason: "y"}, int64(i))
	}
	if len(sm.Transitions()) != transitionLogCapacity {
		t.Fatalf("expected log capped at %d, got %d", transitionLogCapacity, len(sm.Transitions()))
	}
}

func TestPositionSingularity(t *testing.T) {
	sm := New()
	sm.Apply(Action{Kind: ActionEnterLong, Price: dec(100), Quantity: dec(1)}, 1)
	if _, err := sm.Apply(Action{Kind: ActionEnterLong, Price: dec(101), Quantity: dec(1)}, 2); err == nil {
		t.Fatal("expected illegal transition when already InPosition")
	}
	if sm.Position() == nil || !sm.Position().EntryPrice.Equal(dec(100)) {
		t.Fatal("original position must remain unchanged")
	}
}
