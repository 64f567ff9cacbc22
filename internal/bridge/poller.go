package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// disconnectTimeout bounds releasing the device session on exit.
const disconnectTimeout = 5 * time.Second

// Poller publishes the matching device tags as reported state on a fixed interval.
type Poller struct {
	device     device.Client
	shadow     shadow.DocumentClient
	settings   Settings
	shadowName string

	interval time.Duration
	breaker  *gobreaker.CircuitBreaker
	bus      *event.Bus
	logger   *logging.Logger

	disconnectOnce sync.Once
}

// NewPoller creates a Poller for one shadow.
//
// The device client and shadow client must be non-nil. Passing nil will
// panic early to surface wiring bugs immediately.
func NewPoller(dev device.Client, docs shadow.DocumentClient, shadowName string, settings Settings, opts ...Option) *Poller {
	if dev == nil {
		panic("bridge: device.Client must not be nil")
	}
	if docs == nil {
		panic("bridge: shadow.DocumentClient must not be nil")
	}
	cfg := newConfig(opts)
	return &Poller{
		device:     dev,
		shadow:     docs,
		settings:   settings,
		shadowName: shadowName,
		interval:   cfg.pollInterval,
		breaker:    cfg.breaker,
		bus:        cfg.bus,
		logger:     cfg.logger.WithComponent("poller"),
	}
}

// Run connects the device once and polls until ctx is cancelled.
//
// Cancellation is observed only at the top of a cycle; a cycle in progress
// runs to completion. The wait between cycles ends early on cancellation.
// A failed initial connect is returned; every later failure is logged and
// the loop continues. The device session is released exactly once on exit.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.device.Connect(ctx, p.settings.Endpoint); err != nil {
		return classify(err, func(cause error) *errors.BridgeError {
			return errors.NewConnectionError("connect device "+p.settings.Endpoint, cause)
		})
	}
	p.logger.Info("device connected", "endpoint", p.settings.Endpoint, "interval", p.interval.String())
	defer p.disconnect(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			p.logger.Info("stop requested, poller exiting")
			return nil
		}

		p.cycle(context.WithoutCancel(ctx))

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func (p *Poller) disconnect(ctx context.Context) {
	p.disconnectOnce.Do(func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		if err := p.device.Disconnect(dctx); err != nil {
			p.logger.Warn("device disconnect failed", "error", err)
			return
		}
		p.logger.Info("device disconnected")
	})
}

// cycle runs one read-and-publish pass and reports it on the bus.
func (p *Poller) cycle(ctx context.Context) {
	start := time.Now()
	tags, err := p.pollOnce(ctx)
	skipped := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)

	kind := ""
	if err != nil {
		kind = errors.KindOf(err).String()
		p.logCycleError(err, skipped)
	} else {
		p.logger.Debug("reported state published", "tags", tags, "duration", time.Since(start).String())
	}
	p.bus.Publish(event.NewPollCycleEvent(tags, err == nil, skipped, kind, time.Since(start)))
}

func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	raw, err := p.readTags(ctx)
	if err != nil {
		return 0, err
	}

	doc := NewReportedDocument(p.settings.Namespace, ReadingsFrom(raw))
	body, err := doc.Encode()
	if err != nil {
		return 0, err
	}

	if err := p.shadow.PublishReported(ctx, p.settings.ThingName, p.shadowName, body); err != nil {
		return 0, classify(err, func(cause error) *errors.BridgeError {
			return errors.NewConnectionError("publish reported state", cause)
		})
	}
	return len(doc.Readings), nil
}

// readTags lists and reads the matching tags, through the breaker when one is set.
func (p *Poller) readTags(ctx context.Context) ([]device.Reading, error) {
	read := func() ([]device.Reading, error) {
		names, err := p.device.List(ctx, p.settings.TagPattern, true)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, nil
		}
		return p.device.Read(ctx, names)
	}

	var (
		readings []device.Reading
		err      error
	)
	if p.breaker == nil {
		readings, err = read()
	} else {
		var out interface{}
		out, err = p.breaker.Execute(func() (interface{}, error) { return read() })
		readings, _ = out.([]device.Reading)
	}
	if err != nil {
		return nil, classify(err, func(cause error) *errors.BridgeError {
			return errors.NewConnectionError("read tags", cause).WithTag(p.settings.TagPattern)
		})
	}
	return readings, nil
}

func (p *Poller) logCycleError(err error, skipped bool) {
	switch errors.KindOf(err) {
	case errors.KindConnectionFailure:
		if skipped {
			logFailure(p.logger, err, "poll cycle skipped, device reads suspended")
			return
		}
		logFailure(p.logger, err, "poll cycle failed: connection failure")
	case errors.KindMalformedShadow:
		logFailure(p.logger, err, "poll cycle failed: reported state not publishable")
	case errors.KindUnauthorizedSubscription:
		logFailure(p.logger, err, "poll cycle failed: publish not authorized")
	case errors.KindWriteFailure, errors.KindStreamClosed, errors.KindUnknown:
		logFailure(p.logger, err, "poll cycle failed", "kind", errors.KindOf(err).String())
	}
}

// logFailure logs err at the level its severity calls for.
func logFailure(logger *logging.Logger, err error, msg string, args ...any) {
	args = append(args, "error", err)
	switch errors.GetSeverity(err) {
	case errors.SeverityCritical, errors.SeverityError:
		logger.Error(msg, args...)
	case errors.SeverityWarning:
		logger.Warn(msg, args...)
	case errors.SeverityInfo:
		logger.Info(msg, args...)
	default:
		logger.Debug(msg, args...)
	}
}

// classify returns err unchanged when it already carries a kind, otherwise wrap(err).
func classify(err error, wrap func(error) *errors.BridgeError) error {
	if err == nil || errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	return wrap(err)
}
