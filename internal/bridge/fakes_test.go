package bridge_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// --- Device --------------------------------------------------------------

type listCall struct {
	pattern string
	flat    bool
}

type mockDevice struct {
	mu sync.Mutex

	readings []device.Reading

	connectErr error
	listErr    error
	// failReads makes the next n Read calls fail with readErr.
	failReads int
	readErr   error
	// writeResult, when set, decides the per-write outcome.
	writeResult func(device.Write) error
	writeErr    error

	connects    int
	disconnects int
	listCalls   []listCall
	reads       int
	writes      []device.Write
}

func newMockDevice(readings ...device.Reading) *mockDevice {
	return &mockDevice{readings: readings}
}

func (d *mockDevice) Connect(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	return d.connectErr
}

func (d *mockDevice) List(_ context.Context, pattern string, flat bool) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls = append(d.listCalls, listCall{pattern: pattern, flat: flat})
	if d.listErr != nil {
		return nil, d.listErr
	}
	names := make([]string, 0, len(d.readings))
	for _, r := range d.readings {
		names = append(names, r.Name)
	}
	return names, nil
}

func (d *mockDevice) Read(_ context.Context, names []string) ([]device.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.failReads > 0 {
		d.failReads--
		return nil, d.readErr
	}
	out := make([]device.Reading, 0, len(names))
	for _, n := range names {
		for _, r := range d.readings {
			if r.Name == n {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (d *mockDevice) Write(_ context.Context, writes []device.Write) ([]device.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, writes...)
	if d.writeErr != nil {
		return nil, d.writeErr
	}
	results := make([]device.WriteResult, 0, len(writes))
	for _, w := range writes {
		var err error
		if d.writeResult != nil {
			err = d.writeResult(w)
		}
		results = append(results, device.WriteResult{Name: w.Name, Err: err})
	}
	return results, nil
}

func (d *mockDevice) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return nil
}

func (d *mockDevice) Writes() []device.Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.Write, len(d.writes))
	copy(out, d.writes)
	return out
}

func (d *mockDevice) Counts() (connects, disconnects, reads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects, d.disconnects, d.reads
}

func (d *mockDevice) ListCalls() []listCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]listCall, len(d.listCalls))
	copy(out, d.listCalls)
	return out
}

func (d *mockDevice) Dialer() device.Dialer {
	return func() (device.Client, error) { return d, nil }
}

// --- Shadow --------------------------------------------------------------

type mockShadow struct {
	mu sync.Mutex

	doc        []byte
	getErr     error
	publishErr error
	subErr     error

	published [][]byte
	gets      int

	topic      string
	handlers   shadow.Handlers
	subCloses  int
	subscribed chan struct{}
}

func newMockShadow(doc string) *mockShadow {
	return &mockShadow{doc: []byte(doc), subscribed: make(chan struct{})}
}

func (s *mockShadow) PublishReported(_ context.Context, _, _ string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, append([]byte(nil), doc...))
	return nil
}

func (s *mockShadow) GetShadow(context.Context, string, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.doc, nil
}

func (s *mockShadow) SubscribeToDelta(_ context.Context, topic string, h shadow.Handlers) (shadow.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	s.topic = topic
	s.handlers = h
	close(s.subscribed)
	return &mockSubscription{shadow: s}, nil
}

func (s *mockShadow) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for _, p := range s.published {
		out = append(out, string(p))
	}
	return out
}

func (s *mockShadow) Handlers() shadow.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

func (s *mockShadow) SubCloses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subCloses
}

type mockSubscription struct {
	shadow *mockShadow
	once   sync.Once
}

func (m *mockSubscription) Close() error {
	m.once.Do(func() {
		m.shadow.mu.Lock()
		m.shadow.subCloses++
		onClosed := m.shadow.handlers.OnClosed
		m.shadow.mu.Unlock()
		if onClosed != nil {
			onClosed()
		}
	})
	return nil
}

// --- Logging and events --------------------------------------------------

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// warnings returns the JSON log lines at WARN or ERROR.
func (b *syncBuffer) warnings() []string {
	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, `"level":"WARN"`) || strings.Contains(line, `"level":"ERROR"`) {
			out = append(out, line)
		}
	}
	return out
}

func newTestLogger() (*logging.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logging.NewWithWriter(buf, "debug"), buf
}

// eventRecorder captures bus events of selected types.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
	ch     chan event.Event
}

func recordEvents(bus *event.Bus, types ...string) *eventRecorder {
	r := &eventRecorder{ch: make(chan event.Event, 256)}
	for _, typ := range types {
		bus.Subscribe(typ, func(e event.Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			select {
			case r.ch <- e:
			default:
			}
		})
	}
	return r
}

func (r *eventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) Count(typ string) int {
	n := 0
	for _, e := range r.Events() {
		if e.EventType() == typ {
			n++
		}
	}
	return n
}

// waitFor blocks until n events have been recorded.
func (r *eventRecorder) waitFor(t *testing.T, n int) []event.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for event %d of %d (got %d)", i+1, n, len(r.Events()))
		}
	}
	return r.Events()
}
