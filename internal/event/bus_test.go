package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_SubscriptionIDsAreUnique(t *testing.T) {
	bus := NewBus(nil)
	seen := make(map[string]bool)
	for _i := 0; _i < 5000; _i++ {
		id := bus.Subscribe("x", func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription ID %q", id)
		}
		seen[id] = true
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeSetPointApplied, func(e Event) {
		received = e
	})

	bus.Publish(NewSetPointAppliedEvent("TurbineSensors.Flag", 1.0, nil))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	applied, ok := received.(SetPointAppliedEvent)
	if !ok {
		t.Fatalf("received %T, want SetPointAppliedEvent", received)
	}
	if applied.Tag != "TurbineSensors.Flag" || applied.Value != 1.0 {
		t.Errorf("unexpected payload %+v", applied)
	}
}

func TestBus_DispatchOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "all") })
	bus.Subscribe(TypeStreamClosed, func(Event) { order = append(order, "first") })
	bus.Subscribe(TypeStreamClosed, func(Event) { order = append(order, "second") })
	bus.Subscribe(TypeStreamError, func(Event) { t.Error("handler for other type called") })

	bus.Publish(NewStreamClosedEvent("t"))

	want := []string{"first", "second", "all"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe("test.event", func(e Event) { called = true })

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true when subscription exists")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for an unknown ID")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after unsubscribe, got %d", bus.SubscriptionCount())
	}

	bus.Publish(newBaseEvent("test.event"))
	if called {
		t.Error("Handler should not be called after unsubscribe")
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWithWriter(&buf, logging.LevelDebug))

	secondCalled := false
	bus.Subscribe("test.event", func(Event) { panic("boom") })
	bus.Subscribe("test.event", func(Event) { secondCalled = true })

	bus.Publish(newBaseEvent("test.event"))

	if !secondCalled {
		t.Error("handler after a panicking handler should still run")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _i := 0; _i < 10; _i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _i := 0; _i < 100; _i++ {
				bus.Publish(NewPollCycleEvent(2, true, false, "", time.Millisecond))
			}
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe("other", func(Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewPollCycleEvent(0, false, true, "", 0), TypePollCycle},
		{NewDeltaReceivedEvent("t", 3), TypeDeltaReceived},
		{NewSetPointAppliedEvent("tag", 1.0, 0.0), TypeSetPointApplied},
		{NewSetPointUnchangedEvent(1.0), TypeSetPointUnchanged},
		{NewWriteFailedEvent("tag", 1.0, "bad"), TypeWriteFailed},
		{NewShadowMalformedEvent("missing"), TypeShadowMalformed},
		{NewStreamErrorEvent("t", "x"), TypeStreamError},
		{NewStreamClosedEvent("t"), TypeStreamClosed},
		{NewLifecycleChangedEvent("running", "stop_requested"), TypeLifecycleChanged},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
			if tt.event.Timestamp().IsZero() {
				t.Error("Timestamp() should be set")
			}
		})
	}
}
