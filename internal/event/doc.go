// Package event provides a pub-sub event bus for the bridge runtime.
//
// The poller, the delta handler and the supervisor publish what happened;
// the metrics collectors subscribe. Neither side knows about the other.
//
// # Event Categories
//
// Polling:
//   - [PollCycleEvent]: one per polling cycle, successful or not
//
// Delta / set-point:
//   - [DeltaReceivedEvent]: a delta notification arrived
//   - [SetPointAppliedEvent]: a new set-point was written to the device
//   - [SetPointUnchangedEvent]: the delta carried the value already applied
//   - [WriteFailedEvent]: the device write failed
//   - [ShadowMalformedEvent]: the fetched shadow had no usable set-point
//
// Stream:
//   - [StreamErrorEvent], [StreamClosedEvent]
//
// Lifecycle:
//   - [LifecycleChangedEvent]: Running -> StopRequested -> Stopped
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine, so they must be quick. A panicking handler is
// logged and does not prevent delivery to the remaining handlers.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeSetPointApplied, func(e event.Event) {
//	    applied := e.(event.SetPointAppliedEvent)
//	    fmt.Println(applied.Tag, applied.Value)
//	})
//	bus.Publish(event.NewSetPointAppliedEvent("TurbineSensors.Flag", 1.0, nil))
package event
