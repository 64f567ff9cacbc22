// Package internal contains integration tests that verify the bridge, the
// event bus and the metrics collector work together.
package internal

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/bridge"
	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/metrics"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// plc is an in-memory tag server.
type plc struct {
	mu     sync.Mutex
	tags   map[string]any
	order  []string
	writes int
}

func newPLC() *plc {
	return &plc{
		tags:  map[string]any{"TurbineSensors.Speed": 1450.5, "TurbineSensors.Flag": 0.0},
		order: []string{"TurbineSensors.Speed", "TurbineSensors.Flag"},
	}
}

func (p *plc) Connect(context.Context, string) error { return nil }
func (p *plc) Disconnect(context.Context) error      { return nil }

func (p *plc) List(_ context.Context, pattern string, _ bool) ([]string, error) {
	g, err := device.CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range p.order {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (p *plc) Read(_ context.Context, names []string) ([]device.Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]device.Reading, 0, len(names))
	for _, n := range names {
		out = append(out, device.Reading{Name: n, Value: p.tags[n], Quality: device.QualityGood})
	}
	return out, nil
}

func (p *plc) Write(_ context.Context, writes []device.Write) ([]device.WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make([]device.WriteResult, 0, len(writes))
	for _, w := range writes {
		p.tags[w.Name] = w.Value
		p.writes++
		results = append(results, device.WriteResult{Name: w.Name})
	}
	return results, nil
}

func (p *plc) value(name string) (any, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tags[name], p.writes
}

// cloud is an in-memory shadow service holding one desired document.
type cloud struct {
	mu        sync.Mutex
	desired   string
	reported  []string
	handlers  shadow.Handlers
	ready     chan struct{}
	readyOnce sync.Once
}

func (c *cloud) PublishReported(_ context.Context, _, _ string, doc []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, string(doc))
	return nil
}

func (c *cloud) GetShadow(context.Context, string, string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []byte(c.desired), nil
}

func (c *cloud) SubscribeToDelta(_ context.Context, _ string, h shadow.Handlers) (shadow.Subscription, error) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
	return c, nil
}

func (c *cloud) Close() error {
	c.mu.Lock()
	onClosed := c.handlers.OnClosed
	c.mu.Unlock()
	if onClosed != nil {
		onClosed()
	}
	return nil
}

// setDesired updates the desired set-point and pushes a delta.
func (c *cloud) setDesired(flag string) {
	c.mu.Lock()
	c.desired = `{"state":{"desired":{"opcda":{"flag":` + flag + `}}}}`
	onEvent := c.handlers.OnEvent
	c.mu.Unlock()
	onEvent(shadow.Message{Topic: "delta", Payload: []byte(`{"state":{"opcda":{"flag":` + flag + `}}}`)})
}

func (c *cloud) reportedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reported)
}

// TestBridgeEventsReachMetrics runs the supervisor against in-memory
// endpoints and checks the metrics endpoint reflects what happened.
func TestBridgeEventsReachMetrics(t *testing.T) {
	logger := logging.NopLogger()
	bus := event.NewBus(logger)
	collector := metrics.NewCollector()
	collector.Attach(bus)
	defer collector.Detach()

	cycles := make(chan struct{}, 64)
	bus.Subscribe(event.TypePollCycle, func(event.Event) {
		select {
		case cycles <- struct{}{}:
		default:
		}
	})

	dev := newPLC()
	svc := &cloud{ready: make(chan struct{})}
	sup := bridge.NewSupervisor(dev, func() (device.Client, error) { return dev, nil }, svc,
		bridge.NewSeededSetPointStore(0.0),
		bridge.DefaultSettings("pump-7", "opc.tcp://plc:4840"),
		bridge.WithBus(bus),
		bridge.WithLogger(logger),
		bridge.WithPollInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, "opcda") }()

	select {
	case <-svc.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never subscribed")
	}
	<-cycles

	svc.setDesired("1")
	svc.setDesired("1")
	if v, writes := dev.value("TurbineSensors.Flag"); v != 1.0 || writes != 1 {
		t.Errorf("Flag = %v after %d writes, want 1 after 1 write", v, writes)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
	if svc.reportedCount() == 0 {
		t.Error("no reported state published")
	}

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`shadowbridge_deltas_received_total 2`,
		`shadowbridge_setpoint_deltas_total{outcome="applied"} 1`,
		`shadowbridge_setpoint_deltas_total{outcome="unchanged"} 1`,
		`shadowbridge_setpoint_value 1`,
		`shadowbridge_stream_closed_total 1`,
		`shadowbridge_lifecycle_state{state="stopped"} 1`,
		`shadowbridge_tags_reported 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
