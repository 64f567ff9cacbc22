package bridge

import (
	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// Settings names what the bridge reads, writes and publishes.
type Settings struct {
	// ThingName addresses every shadow call and the delta topic.
	ThingName string
	// Endpoint is the device server the poller and writes connect to.
	Endpoint string
	// TagPattern selects the polled tags.
	TagPattern string
	// SetpointTag is the tag desired set-points are written to.
	SetpointTag string
	// Namespace wraps the readings under state.reported and holds the
	// set-point under state.desired.
	Namespace string
	// SetpointKey is the member of the desired namespace holding the set-point.
	SetpointKey string
	// TopicPrefix is the root of the shadow topics.
	TopicPrefix string
}

// Default settings.
const (
	DefaultTagPattern  = "TurbineSensors.*"
	DefaultSetpointTag = "TurbineSensors.Flag"
	DefaultNamespace   = "opcda"
	DefaultSetpointKey = "flag"
)

// DefaultSettings returns Settings for thing with the default tags and
// document layout.
func DefaultSettings(thing, endpoint string) Settings {
	return Settings{
		ThingName:   thing,
		Endpoint:    endpoint,
		TagPattern:  DefaultTagPattern,
		SetpointTag: DefaultSetpointTag,
		Namespace:   DefaultNamespace,
		SetpointKey: DefaultSetpointKey,
		TopicPrefix: shadow.DefaultTopicPrefix,
	}
}

// TagReading is one tag as it appears in the reported document.
type TagReading struct {
	Name   string         `json:"name"`
	Value  any            `json:"value"`
	Status device.Quality `json:"status"`
}

// ReportedDocument is the reported state published each cycle.
type ReportedDocument struct {
	Namespace string
	Readings  []TagReading
}
