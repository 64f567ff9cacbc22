package bridge_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/bridge"
	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

func testSettings() bridge.Settings {
	return bridge.DefaultSettings("pump-7", "opc.tcp://localhost:4840")
}

func turbineReadings() []device.Reading {
	return []device.Reading{
		{Name: "T1", Value: 10.5, Quality: device.QualityGood},
		{Name: "T2", Value: int32(3), Quality: device.QualityUncertain},
	}
}

// runPoller starts p.Run and returns a function that cancels it and
// waits for Run to return.
func runPoller(t *testing.T, p *bridge.Poller) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return after cancel")
			return nil
		}
	}
}

func TestPoller_PublishesReportedDocument(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	sh := newMockShadow("")
	bus := event.NewBus(logging.NopLogger())
	rec := recordEvents(bus, event.TypePollCycle)

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(), bridge.WithBus(bus), bridge.WithPollInterval(time.Hour))
	stop := runPoller(t, p)
	rec.waitFor(t, 1)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	published := sh.Published()
	if len(published) != 1 {
		t.Fatalf("published %d documents, want 1", len(published))
	}
	want := `{"state":{"reported":{"opcda":[{"name":"T1","value":10.5,"status":"Good"},{"name":"T2","value":3,"status":"Uncertain"}]}}}`
	if published[0] != want {
		t.Errorf("published =\n  %s\nwant\n  %s", published[0], want)
	}

	calls := dev.ListCalls()
	if len(calls) != 1 || calls[0].pattern != bridge.DefaultTagPattern || !calls[0].flat {
		t.Errorf("List calls = %+v, want one flat call with %q", calls, bridge.DefaultTagPattern)
	}

	ev := rec.Events()[0].(event.PollCycleEvent)
	if !ev.Published || ev.Tags != 2 || ev.Skipped || ev.Kind != "" {
		t.Errorf("PollCycleEvent = %+v, want published with 2 tags", ev)
	}
}

func TestPoller_EmptyMatchPublishesEmptyList(t *testing.T) {
	dev := newMockDevice()
	sh := newMockShadow("")
	bus := event.NewBus(logging.NopLogger())
	rec := recordEvents(bus, event.TypePollCycle)

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(), bridge.WithBus(bus), bridge.WithPollInterval(time.Hour))
	stop := runPoller(t, p)
	rec.waitFor(t, 1)
	_ = stop()

	if _, _, reads := dev.Counts(); reads != 0 {
		t.Errorf("Read called %d times for an empty match, want 0", reads)
	}
	published := sh.Published()
	if len(published) != 1 || published[0] != `{"state":{"reported":{"opcda":[]}}}` {
		t.Errorf("published = %v, want one empty document", published)
	}
}

func TestPoller_CycleFailureDoesNotStopLoop(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	dev.failReads = 1
	dev.readErr = fmt.Errorf("server busy")
	sh := newMockShadow("")
	logger, logs := newTestLogger()
	bus := event.NewBus(logger)
	rec := recordEvents(bus, event.TypePollCycle)

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(),
		bridge.WithBus(bus),
		bridge.WithLogger(logger),
		bridge.WithPollInterval(5*time.Millisecond),
	)
	stop := runPoller(t, p)
	events := rec.waitFor(t, 2)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	first := events[0].(event.PollCycleEvent)
	if first.Published || first.Kind != errors.KindConnectionFailure.String() {
		t.Errorf("first cycle = %+v, want a connection failure", first)
	}
	second := events[1].(event.PollCycleEvent)
	if !second.Published {
		t.Errorf("second cycle = %+v, want published", second)
	}
	if len(sh.Published()) == 0 {
		t.Error("no document published after the failed cycle")
	}
	if len(logs.warnings()) == 0 {
		t.Error("failed cycle was not logged")
	}
}

func TestPoller_PublishFailureIsLogged(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	sh := newMockShadow("")
	sh.publishErr = errors.NewUnauthorizedError("publish rejected", nil)
	logger, logs := newTestLogger()
	bus := event.NewBus(logger)
	rec := recordEvents(bus, event.TypePollCycle)

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(),
		bridge.WithBus(bus),
		bridge.WithLogger(logger),
		bridge.WithPollInterval(5*time.Millisecond),
	)
	stop := runPoller(t, p)
	events := rec.waitFor(t, 2)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v, want nil: publish failures are not fatal to the loop", err)
	}

	for _, e := range events[:2] {
		ev := e.(event.PollCycleEvent)
		if ev.Published || ev.Kind != errors.KindUnauthorizedSubscription.String() {
			t.Errorf("cycle = %+v, want unauthorized failure", ev)
		}
	}
	if len(logs.warnings()) < 2 {
		t.Errorf("got %d warning lines, want one per failed cycle", len(logs.warnings()))
	}
}

func TestPoller_ShutdownDisconnectsOnce(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	sh := newMockShadow("")
	bus := event.NewBus(logging.NopLogger())
	rec := recordEvents(bus, event.TypePollCycle)

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(), bridge.WithBus(bus), bridge.WithPollInterval(time.Hour))
	stop := runPoller(t, p)
	rec.waitFor(t, 1)

	start := time.Now()
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v, want the wait interrupted", elapsed)
	}

	connects, disconnects, _ := dev.Counts()
	if connects != 1 || disconnects != 1 {
		t.Errorf("connects = %d, disconnects = %d; want 1 and 1", connects, disconnects)
	}
}

func TestPoller_CancelledBeforeFirstCycle(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	sh := newMockShadow("")
	p := bridge.NewPoller(dev, sh, "opcda", testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sh.Published()) != 0 {
		t.Error("published after cancellation")
	}
	if _, disconnects, _ := dev.Counts(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

func TestPoller_ConnectFailureReturned(t *testing.T) {
	dev := newMockDevice()
	dev.connectErr = fmt.Errorf("connection refused")
	sh := newMockShadow("")
	p := bridge.NewPoller(dev, sh, "opcda", testSettings())

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail when the device is unreachable")
	}
	if errors.KindOf(err) != errors.KindConnectionFailure {
		t.Errorf("KindOf() = %v, want connection failure", errors.KindOf(err))
	}
	if _, disconnects, _ := dev.Counts(); disconnects != 0 {
		t.Errorf("disconnects = %d, want 0 after a failed connect", disconnects)
	}
}

func TestPoller_BreakerSkipsDeviceWhileOpen(t *testing.T) {
	dev := newMockDevice(turbineReadings()...)
	dev.listErr = fmt.Errorf("browse failed")
	sh := newMockShadow("")
	bus := event.NewBus(logging.NopLogger())
	rec := recordEvents(bus, event.TypePollCycle)
	breaker := bridge.NewBreaker(1, time.Hour, logging.NopLogger())

	p := bridge.NewPoller(dev, sh, "opcda", testSettings(),
		bridge.WithBus(bus),
		bridge.WithBreaker(breaker),
		bridge.WithPollInterval(5*time.Millisecond),
	)
	stop := runPoller(t, p)
	events := rec.waitFor(t, 3)
	_ = stop()

	if calls := len(dev.ListCalls()); calls != 1 {
		t.Errorf("List called %d times, want 1 before the breaker opened", calls)
	}
	first := events[0].(event.PollCycleEvent)
	if first.Skipped {
		t.Error("first cycle should reach the device")
	}
	for i, e := range events[1:3] {
		ev := e.(event.PollCycleEvent)
		if !ev.Skipped || ev.Published {
			t.Errorf("cycle %d = %+v, want skipped", i+2, ev)
		}
	}
}
