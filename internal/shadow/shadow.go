// Package shadow defines the cloud device-shadow collaborator used by the
// bridge: the client interface, the MQTT topic layout of named shadows and
// the wire shapes shared by the concrete transports.
//
// Two transports are provided in subpackages. The mqtt package speaks the
// reserved shadow topics over a single broker connection and is the only one
// able to deliver delta notifications. The dataplane package uses the HTTPS
// data-plane API for get and update. [Composite] combines a document client
// with a delta subscriber so either transport can serve get and update.
package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/shadowbridge/internal/errors"
)

// Message is one notification delivered on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handlers receive the events of a delta subscription. Handlers are invoked
// from a single goroutine per subscription, never concurrently.
type Handlers struct {
	// OnEvent receives each delta notification.
	OnEvent func(Message)
	// OnError receives transport errors. Returning true closes the stream.
	OnError func(error) bool
	// OnClosed is called exactly once after the stream ends.
	OnClosed func()
}

// Subscription is an open delta stream.
type Subscription interface {
	Close() error
}

// DocumentClient reads and updates shadow documents.
type DocumentClient interface {
	// PublishReported sends doc as an update of the named shadow.
	PublishReported(ctx context.Context, thing, shadow string, doc []byte) error
	// GetShadow returns the full current document of the named shadow.
	GetShadow(ctx context.Context, thing, shadow string) ([]byte, error)
}

// DeltaSubscriber opens delta notification streams.
type DeltaSubscriber interface {
	SubscribeToDelta(ctx context.Context, topic string, h Handlers) (Subscription, error)
}

// Client is the full shadow collaborator.
type Client interface {
	DocumentClient
	DeltaSubscriber
}

// Composite serves documents and deltas from separate transports.
type Composite struct {
	Documents DocumentClient
	Deltas    DeltaSubscriber
}

var _ Client = Composite{}

// PublishReported delegates to Documents.
func (c Composite) PublishReported(ctx context.Context, thing, shadow string, doc []byte) error {
	return c.Documents.PublishReported(ctx, thing, shadow, doc)
}

// GetShadow delegates to Documents.
func (c Composite) GetShadow(ctx context.Context, thing, shadow string) ([]byte, error) {
	return c.Documents.GetShadow(ctx, thing, shadow)
}

// SubscribeToDelta delegates to Deltas.
func (c Composite) SubscribeToDelta(ctx context.Context, topic string, h Handlers) (Subscription, error) {
	return c.Deltas.SubscribeToDelta(ctx, topic, h)
}

// DefaultTopicPrefix is the reserved topic root of the AWS IoT shadow service.
const DefaultTopicPrefix = "$aws"

// Topic returns the base topic of a shadow. An empty shadow name selects the
// classic unnamed shadow.
func Topic(prefix, thing, shadow string) string {
	if shadow == "" {
		return fmt.Sprintf("%s/things/%s/shadow", prefix, thing)
	}
	return fmt.Sprintf("%s/things/%s/shadow/name/%s", prefix, thing, shadow)
}

// DeltaTopic returns the topic delta notifications are published on.
func DeltaTopic(prefix, thing, shadow string) string {
	return Topic(prefix, thing, shadow) + "/update/delta"
}

// UpdateTopic returns the topic updates are sent to.
func UpdateTopic(prefix, thing, shadow string) string {
	return Topic(prefix, thing, shadow) + "/update"
}

// GetTopic returns the topic get requests are sent to.
func GetTopic(prefix, thing, shadow string) string {
	return Topic(prefix, thing, shadow) + "/get"
}

// Accepted and Rejected return the response topics of a request topic.
func Accepted(requestTopic string) string { return requestTopic + "/accepted" }

func Rejected(requestTopic string) string { return requestTopic + "/rejected" }

// ParseTopic splits a shadow topic into its thing and shadow names.
// ok is false for topics outside the shadow layout under prefix.
func ParseTopic(prefix, topic string) (thing, shadow string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/things/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "shadow" {
		return "", "", false
	}
	if len(parts) >= 4 && parts[2] == "name" && parts[3] != "" {
		return parts[0], parts[3], true
	}
	return parts[0], "", true
}

// Delta is the payload of a delta notification.
type Delta struct {
	Version   int64           `json:"version"`
	Timestamp int64           `json:"timestamp"`
	State     json.RawMessage `json:"state"`
}

// DecodeDelta parses a delta notification payload.
func DecodeDelta(payload []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(payload, &d); err != nil {
		return Delta{}, errors.NewMalformedShadowError(fmt.Sprintf("decode delta: %v", err))
	}
	return d, nil
}

// ErrorResponse is the body of a rejected shadow request.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ClientToken string `json:"clientToken,omitempty"`
}

// Err converts a rejection into a classified error.
func (r ErrorResponse) Err(op string) error {
	msg := fmt.Sprintf("%s rejected (%d): %s", op, r.Code, r.Message)
	switch {
	case r.Code == 401 || r.Code == 403:
		return errors.NewUnauthorizedError(msg, nil)
	case r.Code >= 400 && r.Code < 500:
		return errors.NewMalformedShadowError(msg)
	default:
		return errors.NewConnectionError(msg, nil)
	}
}
