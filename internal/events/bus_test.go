package events

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

func TestBusBroadcastsToAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	subA := bus.Subscribe()
	subB := bus.Subscribe()
	sender := bus.NewSender()

	sender.Send(types.Event{Kind: types.EventTickReceived, RunnerID: "r1", Timestamp: 1})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case e := <-sub.Events():
			if e.RunnerID != "r1" {
				t.Errorf("expected runner_id r1, got %s", e.RunnerID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	subA := bus.Subscribe()
	subB := bus.Subscribe()
	sender := bus.NewSender()

	subA.Unsubscribe()
	sender.Send(types.Event{Kind: types.EventTickReceived, RunnerID: "r1", Timestamp: 1})

	select {
	case <-subB.Events():
	case <-time.After(time.Second):
		t.Fatal("subscriber B should still receive events")
	}
}

func TestEventOrderPreservedPerSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	sub := bus.Subscribe()
	sender := bus.NewSender()

	for i := 0; i < 50; i++ {
		sender.Send(types.Event{Kind: types.EventTickReceived, RunnerID: "r1", Timestamp: int64(i)})
	}

	for i := 0; i < 50; i++ {
		select {
		case e := <-sub.Events():
			if e.Timestamp != int64(i) {
				t.Fatalf("expected timestamp %d, got %d", i, e.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
