package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// DeltaHandler writes desired set-points to the device when they change.
// Handle is safe for concurrent use; invocations are serialized by the store.
type DeltaHandler struct {
	dial       device.Dialer
	shadow     shadow.DocumentClient
	store      *SetPointStore
	settings   Settings
	shadowName string

	requestTimeout time.Duration
	bus            *event.Bus
	logger         *logging.Logger
}

// NewDeltaHandler creates a handler for one shadow.
//
// dial, docs and store must be non-nil. Passing nil will panic early to
// surface wiring bugs immediately.
func NewDeltaHandler(dial device.Dialer, docs shadow.DocumentClient, store *SetPointStore, shadowName string, settings Settings, opts ...Option) *DeltaHandler {
	if dial == nil {
		panic("bridge: device.Dialer must not be nil")
	}
	if docs == nil {
		panic("bridge: shadow.DocumentClient must not be nil")
	}
	if store == nil {
		panic("bridge: SetPointStore must not be nil")
	}
	cfg := newConfig(opts)
	return &DeltaHandler{
		dial:           dial,
		shadow:         docs,
		store:          store,
		settings:       settings,
		shadowName:     shadowName,
		requestTimeout: cfg.requestTimeout,
		bus:            cfg.bus,
		logger:         cfg.logger.WithComponent("delta"),
	}
}

// Handle processes one delta notification. Every failure is logged here and
// none is returned: the subscription stays open whatever happens.
func (h *DeltaHandler) Handle(msg shadow.Message) {
	if err := h.handle(context.Background(), msg); err != nil {
		h.report(err)
	}
}

func (h *DeltaHandler) handle(ctx context.Context, msg shadow.Message) error {
	attrs := []any{"topic", msg.Topic}
	if thing, name, ok := shadow.ParseTopic(h.settings.TopicPrefix, msg.Topic); ok {
		attrs = append(attrs, "thing", thing, "shadow", name)
	}
	delta, err := shadow.DecodeDelta(msg.Payload)
	if err != nil {
		h.logger.Debug("delta payload not decodable, fetching shadow anyway", append(attrs, "error", err)...)
	} else {
		h.logger.Debug("delta received", append(attrs, "version", delta.Version)...)
	}
	h.bus.Publish(event.NewDeltaReceivedEvent(msg.Topic, delta.Version))

	fetchCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	doc, err := h.shadow.GetShadow(fetchCtx, h.settings.ThingName, h.shadowName)
	cancel()
	if err != nil {
		return classify(err, func(cause error) *errors.BridgeError {
			return errors.NewConnectionError("fetch shadow", cause)
		})
	}

	value, err := ExtractSetPoint(doc, h.settings.Namespace, h.settings.SetpointKey)
	if err != nil {
		return err
	}

	changed, previous, err := h.store.Apply(value, func() error {
		return h.write(ctx, value)
	})
	if err != nil {
		h.bus.Publish(event.NewWriteFailedEvent(h.settings.SetpointTag, value, err.Error()))
		return err
	}

	if !changed {
		h.logger.Debug("set-point unchanged, no write", "value", value)
		h.bus.Publish(event.NewSetPointUnchangedEvent(value))
		return nil
	}

	h.logger.Info("set-point applied", "tag", h.settings.SetpointTag, "value", value, "previous", previous)
	h.bus.Publish(event.NewSetPointAppliedEvent(h.settings.SetpointTag, value, previous))
	return nil
}

// write performs one set-point write over a fresh device session.
func (h *DeltaHandler) write(ctx context.Context, value any) error {
	tag := h.settings.SetpointTag
	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	client, err := h.dial()
	if err != nil {
		return errors.NewWriteError("create device client", err).WithTag(tag)
	}
	if err := client.Connect(ctx, h.settings.Endpoint); err != nil {
		return errors.NewWriteError("connect device "+h.settings.Endpoint, err).WithTag(tag)
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			h.logger.Debug("device disconnect after write failed", "error", err)
		}
	}()

	results, err := client.Write(ctx, []device.Write{{Name: tag, Value: value}})
	if err != nil {
		return errors.NewWriteError("write set-point", err).WithTag(tag)
	}
	if len(results) != 1 {
		return errors.NewWriteError(fmt.Sprintf("device returned %d results for 1 write", len(results)), nil).WithTag(tag)
	}
	if results[0].Err != nil {
		return errors.NewWriteError("device rejected set-point", results[0].Err).WithTag(tag)
	}
	return nil
}

// report logs a failed delta at the boundary, one line per failure.
func (h *DeltaHandler) report(err error) {
	switch errors.KindOf(err) {
	case errors.KindMalformedShadow:
		logFailure(h.logger, err, "desired set-point missing or malformed, nothing written")
		h.bus.Publish(event.NewShadowMalformedEvent(err.Error()))
	case errors.KindUnauthorizedSubscription:
		logFailure(h.logger, err, "not authorized to read shadow")
	case errors.KindConnectionFailure:
		logFailure(h.logger, err, "shadow fetch failed")
	case errors.KindWriteFailure:
		logFailure(h.logger, err, "set-point write failed, will retry on next delta")
	case errors.KindStreamClosed, errors.KindUnknown:
		logFailure(h.logger, err, "delta handling failed", "kind", errors.KindOf(err).String())
	}
}
