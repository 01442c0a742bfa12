package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

type recordingSink struct {
	events chan types.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan types.Event, 256)}
}

func (s *recordingSink) Send(e types.Event) {
	s.events <- e
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.js")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

const emaCrossoverScript = `
function detect_opportunity(bar, ctx, ind) {
  var fast = ind.ema(10);
  var slow = ind.ema(20);
  if (fast === undefined || slow === undefined) {
    return null;
  }
  if (fast > slow) {
    return {crossed: true};
  }
  return null;
}
function filter_commitment(bar, ctx, ind) {
  return {action: "enter_long", price: bar.close, quantity: 0.1};
}
function manage_position(bar, ctx, ind) {
  return null;
}
`

const noopScript = `
function detect_opportunity(bar, ctx, ind) { return null; }
function filter_commitment(bar, ctx, ind) { return null; }
function manage_position(bar, ctx, ind) { return null; }
`

func waitForEvent(t *testing.T, ch <-chan types.Event, kind types.EventKind) types.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

func TestEMACrossoverEntryScenario(t *testing.T) {
	script := writeScript(t, emaCrossoverScript)
	sink := newRecordingSink()
	r, err := New("r1", "X", script, Config{WindowCapacity: 50}, sink, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go r.Run()
	defer func() {
		r.Command(Command{Kind: CommandStop})
		<-r.Done()
	}()

	for i := 0; i < 30; i++ {
		r.FeedBar(makeBar("X", int64(i), 100+float64(i)))
	}
	r.FeedBar(makeBar("X", 30, 130))

	waitForEvent(t, sink.events, types.EventStateTransition)
}

func TestPauseDropsTicksSilently(t *testing.T) {
	script := writeScript(t, noopScript)
	sink := newRecordingSink()
	r, err := New("r1", "X", script, Config{WindowCapacity: 10}, sink, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go r.Run()
	defer func() {
		r.Command(Command{Kind: CommandStop})
		<-r.Done()
	}()

	waitForEvent(t, sink.events, types.EventRunnerStarted)

	r.Command(Command{Kind: CommandPause})
	time.Sleep(50 * time.Millisecond)

	r.FeedBar(makeBar("X", 1, 100))
	r.FeedBar(makeBar("X", 2, 101))

	select {
	case e := <-sink.events:
		t.Fatalf("expected no events while paused, got %v", e.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

const enterThenStopLossScript = `
function detect_opportunity(bar, ctx, ind) {
  return {armed: true};
}
function filter_commitment(bar, ctx, ind) {
  return {action: "enter_long", price: bar.close, quantity: 1.0, stop_loss: 98.0};
}
function manage_position(bar, ctx, ind) {
  return null;
}
`

func TestAutoStopLossScenario(t *testing.T) {
	script := writeScript(t, enterThenStopLossScript)
	sink := newRecordingSink()
	r, err := New("r1", "X", script, Config{WindowCapacity: 10}, sink, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go r.Run()
	defer func() {
		r.Command(Command{Kind: CommandStop})
		<-r.Done()
	}()

	waitForEvent(t, sink.events, types.EventRunnerStarted)

	r.FeedBar(makeBar("X", 1, 100)) // Idle -> Analyzing
	r.FeedBar(makeBar("X", 2, 100)) // Analyzing -> InPosition, entry_price=100, stop_loss=98

	waitForEvent(t, sink.events, types.EventPositionOpened)

	r.FeedBar(makeBar("X", 3, 97.5)) // triggers auto stop-loss

	e := waitForEvent(t, sink.events, types.EventPositionClosed)
	if e.Data["reason"] != types.CloseReasonStopLoss {
		t.Errorf("expected stop_loss reason, got %v", e.Data["reason"])
	}
}
