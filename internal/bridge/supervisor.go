package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// Supervisor wires a Poller and a DeltaHandler to one shadow and owns the
// shutdown protocol.
type Supervisor struct {
	device   device.Client
	dial     device.Dialer
	shadow   shadow.Client
	store    *SetPointStore
	settings Settings
	opts     []Option

	bus       *event.Bus
	logger    *logging.Logger
	lifecycle *Lifecycle

	mu      sync.Mutex
	started bool
}

// NewSupervisor creates a Supervisor. dev is the long-lived polling session;
// dial creates the short-lived sessions used for set-point writes.
//
// All arguments must be non-nil. Passing nil will panic early to surface
// wiring bugs immediately.
func NewSupervisor(dev device.Client, dial device.Dialer, shadows shadow.Client, store *SetPointStore, settings Settings, opts ...Option) *Supervisor {
	if dev == nil {
		panic("bridge: device.Client must not be nil")
	}
	if dial == nil {
		panic("bridge: device.Dialer must not be nil")
	}
	if shadows == nil {
		panic("bridge: shadow.Client must not be nil")
	}
	if store == nil {
		panic("bridge: SetPointStore must not be nil")
	}

	cfg := newConfig(opts)
	// Components built in Run publish on the same bus.
	opts = append(opts[:len(opts):len(opts)], WithBus(cfg.bus))

	s := &Supervisor{
		device:   dev,
		dial:     dial,
		shadow:   shadows,
		store:    store,
		settings: settings,
		opts:     opts,
		bus:      cfg.bus,
		logger:   cfg.logger.WithThing(settings.ThingName),
	}
	s.lifecycle = NewLifecycle(func(from, to State) {
		s.logger.Info("bridge state changed", "from", from.String(), "to", to.String())
		s.bus.Publish(event.NewLifecycleChangedEvent(from.String(), to.String()))
	})
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return s.lifecycle.State()
}

// Run subscribes to the shadow's delta topic, runs the poller until ctx is
// cancelled, then closes the subscription. It can be called once.
//
// Startup failures are returned: an unauthorized subscription as
// KindUnauthorizedSubscription, a failed device connect as
// KindConnectionFailure.
func (s *Supervisor) Run(ctx context.Context, shadowName string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("bridge: supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	if shadowName == "" {
		s.lifecycle.MarkStopped()
		return fmt.Errorf("%w: shadow name must not be empty", errors.ErrInvalidInput)
	}

	logger := s.logger.WithShadow(shadowName)
	s.bus.Publish(event.NewLifecycleChangedEvent("", StateRunning.String()))

	opts := append(s.opts[:len(s.opts):len(s.opts)], WithLogger(logger))
	topic := shadow.DeltaTopic(s.settings.TopicPrefix, s.settings.ThingName, shadowName)
	handler := NewDeltaHandler(s.dial, s.shadow, s.store, shadowName, s.settings, opts...)

	sub, err := s.shadow.SubscribeToDelta(ctx, topic, shadow.Handlers{
		OnEvent: handler.Handle,
		OnError: func(err error) bool {
			logger.Warn("delta stream error, keeping stream open", "topic", topic, "error", err)
			s.bus.Publish(event.NewStreamErrorEvent(topic, err.Error()))
			return false
		},
		OnClosed: func() {
			logger.Info("delta stream closed", "topic", topic)
			s.bus.Publish(event.NewStreamClosedEvent(topic))
		},
	})
	if err != nil {
		s.lifecycle.MarkStopped()
		err = classify(err, func(cause error) *errors.BridgeError {
			return errors.NewConnectionError("subscribe to delta topic", cause)
		})
		if errors.IsFatal(err) {
			logger.Error("delta subscription not authorized", "topic", topic, "error", err)
		} else {
			logger.Error("delta subscription failed", "topic", topic, "error", err)
		}
		return err
	}
	logger.Info("bridge started", "topic", topic, "pattern", s.settings.TagPattern)

	watchDone := make(chan struct{})
	watchExited := make(chan struct{})
	go func() {
		defer close(watchExited)
		select {
		case <-ctx.Done():
			s.lifecycle.RequestStop()
		case <-watchDone:
		}
	}()

	poller := NewPoller(s.device, s.shadow, shadowName, s.settings, opts...)

	runErr := poller.Run(ctx)
	close(watchDone)
	<-watchExited

	if err := sub.Close(); err != nil {
		logger.Warn("closing delta subscription failed", "error", err)
	}
	s.lifecycle.MarkStopped()

	if runErr != nil {
		logger.Error("poller failed to start", "error", runErr)
	}
	return runErr
}
