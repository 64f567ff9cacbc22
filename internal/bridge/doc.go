// Package bridge runs the device-tag to cloud-shadow loop.
//
// A [Poller] holds one device session for its lifetime. Every interval it
// lists the tags matching a pattern, reads them in one batch and publishes
// them as the reported state of a named shadow. A failed cycle is logged and
// the next one runs as scheduled.
//
// A [DeltaHandler] reacts to delta notifications. It re-fetches the full
// shadow, extracts the desired set-point and writes it to the device through
// a short-lived session, but only when it differs from the last value that
// was written successfully ([SetPointStore]).
//
// A [Supervisor] subscribes the handler, runs the poller and implements the
// shutdown protocol: cancelling the context moves the [Lifecycle] from
// running to stop-requested, and the poller's exit moves it to stopped.
//
// Lifecycle:
//
//	sup := bridge.NewSupervisor(dev, dial, shadows, store, settings,
//		bridge.WithLogger(logger), bridge.WithBus(bus))
//	err := sup.Run(ctx, "opcda") // blocks until ctx is cancelled
package bridge
