package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "poll.cycle", "setpoint.applied")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePollCycle         = "poll.cycle"
	TypeDeltaReceived     = "delta.received"
	TypeSetPointApplied   = "setpoint.applied"
	TypeSetPointUnchanged = "setpoint.unchanged"
	TypeWriteFailed       = "setpoint.write_failed"
	TypeShadowMalformed   = "shadow.malformed"
	TypeStreamError       = "stream.error"
	TypeStreamClosed      = "stream.closed"
	TypeLifecycleChanged  = "lifecycle.changed"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Polling Events
// -----------------------------------------------------------------------------

// PollCycleEvent is emitted at the end of every polling cycle.
type PollCycleEvent struct {
	baseEvent
	Tags      int           // Number of readings in the published document
	Published bool          // Whether the reported document reached the shadow
	Skipped   bool          // True when the cycle did not touch the device (breaker open)
	Kind      string        // Failure kind when the cycle failed, empty otherwise
	Duration  time.Duration // Wall time spent in the cycle
}

// NewPollCycleEvent creates a PollCycleEvent.
func NewPollCycleEvent(tags int, published, skipped bool, kind string, duration time.Duration) PollCycleEvent {
	return PollCycleEvent{
		baseEvent: newBaseEvent(TypePollCycle),
		Tags:      tags,
		Published: published,
		Skipped:   skipped,
		Kind:      kind,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Delta / Set-point Events
// -----------------------------------------------------------------------------

// DeltaReceivedEvent is emitted when a delta notification arrives.
type DeltaReceivedEvent struct {
	baseEvent
	Topic   string
	Version int64 // Shadow version carried by the delta, 0 if unknown
}

// NewDeltaReceivedEvent creates a DeltaReceivedEvent.
func NewDeltaReceivedEvent(topic string, version int64) DeltaReceivedEvent {
	return DeltaReceivedEvent{
		baseEvent: newBaseEvent(TypeDeltaReceived),
		Topic:     topic,
		Version:   version,
	}
}

// SetPointAppliedEvent is emitted after a set-point was written to the device.
type SetPointAppliedEvent struct {
	baseEvent
	Tag      string
	Value    any
	Previous any // nil when nothing had been applied before
}

// NewSetPointAppliedEvent creates a SetPointAppliedEvent.
func NewSetPointAppliedEvent(tag string, value, previous any) SetPointAppliedEvent {
	return SetPointAppliedEvent{
		baseEvent: newBaseEvent(TypeSetPointApplied),
		Tag:       tag,
		Value:     value,
		Previous:  previous,
	}
}

// SetPointUnchangedEvent is emitted when a delta carried the value already applied.
type SetPointUnchangedEvent struct {
	baseEvent
	Value any
}

// NewSetPointUnchangedEvent creates a SetPointUnchangedEvent.
func NewSetPointUnchangedEvent(value any) SetPointUnchangedEvent {
	return SetPointUnchangedEvent{
		baseEvent: newBaseEvent(TypeSetPointUnchanged),
		Value:     value,
	}
}

// WriteFailedEvent is emitted when a set-point write did not succeed.
type WriteFailedEvent struct {
	baseEvent
	Tag    string
	Value  any
	Reason string
}

// NewWriteFailedEvent creates a WriteFailedEvent.
func NewWriteFailedEvent(tag string, value any, reason string) WriteFailedEvent {
	return WriteFailedEvent{
		baseEvent: newBaseEvent(TypeWriteFailed),
		Tag:       tag,
		Value:     value,
		Reason:    reason,
	}
}

// ShadowMalformedEvent is emitted when the fetched shadow has no usable set-point.
type ShadowMalformedEvent struct {
	baseEvent
	Reason string
}

// NewShadowMalformedEvent creates a ShadowMalformedEvent.
func NewShadowMalformedEvent(reason string) ShadowMalformedEvent {
	return ShadowMalformedEvent{
		baseEvent: newBaseEvent(TypeShadowMalformed),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Stream Events
// -----------------------------------------------------------------------------

// StreamErrorEvent is emitted when the delta stream reports an error.
type StreamErrorEvent struct {
	baseEvent
	Topic  string
	Reason string
}

// NewStreamErrorEvent creates a StreamErrorEvent.
func NewStreamErrorEvent(topic, reason string) StreamErrorEvent {
	return StreamErrorEvent{
		baseEvent: newBaseEvent(TypeStreamError),
		Topic:     topic,
		Reason:    reason,
	}
}

// StreamClosedEvent is emitted when the delta stream ends.
type StreamClosedEvent struct {
	baseEvent
	Topic string
}

// NewStreamClosedEvent creates a StreamClosedEvent.
func NewStreamClosedEvent(topic string) StreamClosedEvent {
	return StreamClosedEvent{
		baseEvent: newBaseEvent(TypeStreamClosed),
		Topic:     topic,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// LifecycleChangedEvent is emitted on every bridge lifecycle transition.
type LifecycleChangedEvent struct {
	baseEvent
	Previous string
	Current  string
}

// NewLifecycleChangedEvent creates a LifecycleChangedEvent.
func NewLifecycleChangedEvent(previous, current string) LifecycleChangedEvent {
	return LifecycleChangedEvent{
		baseEvent: newBaseEvent(TypeLifecycleChanged),
		Previous:  previous,
		Current:   current,
	}
}
