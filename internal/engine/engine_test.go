package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/runner"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

const noopScript = `
function detect_opportunity(bar, ctx, ind) { return null; }
function filter_commitment(bar, ctx, ind) { return null; }
function manage_position(bar, ctx, ind) { return null; }
`

func writeScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.js")
	if err := os.WriteFile(path, []byte(noopScript), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(DefaultConfig(), zap.NewNop())
	t.Cleanup(e.Shutdown)
	return e
}

func TestAddRunnerDuplicateID(t *testing.T) {
	e := newTestEngine(t)
	script := writeScript(t)

	if err := e.AddRunner("a", "X", script, runner.DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := e.AddRunner("a", "Y", script, runner.DefaultConfig())
	if err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	ids := e.RunnersForSymbol("X")
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected [a] under X, got %v", ids)
	}
	if ids := e.RunnersForSymbol("Y"); len(ids) != 0 {
		t.Fatalf("expected no runners under Y, got %v", ids)
	}
}

func TestRoutingConsistency(t *testing.T) {
	e := newTestEngine(t)
	script := writeScript(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := e.AddRunner(id, "X", script, runner.DefaultConfig()); err != nil {
			t.Fatalf("AddRunner(%s): %v", id, err)
		}
	}

	summary := e.Summary()
	if summary.RunnerCount != 3 {
		t.Fatalf("expected 3 runners, got %d", summary.RunnerCount)
	}
	if summary.BySymbol["X"] != 3 {
		t.Fatalf("expected 3 runners under X, got %d", summary.BySymbol["X"])
	}

	if err := e.RemoveRunner("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := e.RunnersForSymbol("X")
	if len(ids) != 2 {
		t.Fatalf("expected 2 runners remaining under X, got %v", ids)
	}
}

func TestRemoveRunnerNotFound(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RemoveRunner("unknown"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFanOutCompleteness(t *testing.T) {
	e := newTestEngine(t)
	script := writeScript(t)

	if err := e.AddRunner("r_ema", "X", script, runner.DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.AddRunner("r_rsi", "X", script, runner.DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := e.SubscribeEvents()

	bar := types.Bar{Symbol: "X", Timestamp: 1, Open: dec(100), High: dec(100), Low: dec(100), Close: dec(100), Volume: dec(10)}
	if err := e.FeedBar(bar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-sub.Events():
			if ev.Kind == types.EventTickReceived {
				seen[ev.RunnerID] = true
			}
		case <-deadline:
			t.Fatalf("timed out; saw ticks from %v", seen)
		}
	}
}

func TestGetSnapshotUnknownID(t *testing.T) {
	e := newTestEngine(t)
	if _, ok := e.GetSnapshot("nope"); ok {
		t.Fatal("expected ok=false for unknown id")
	}
}

func TestGetSnapshotReturnsRunnerState(t *testing.T) {
	e := newTestEngine(t)
	script := writeScript(t)
	if err := e.AddRunner("a", "X", script, runner.DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, ok := e.GetSnapshot("a")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.RunnerID != "a" || snap.CurrentState != types.StateIdle {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
