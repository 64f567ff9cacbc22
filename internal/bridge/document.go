package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
)

// ReadingsFrom maps raw device readings to TagReadings, keeping their order.
func ReadingsFrom(raw []device.Reading) []TagReading {
	out := make([]TagReading, 0, len(raw))
	for _, r := range raw {
		out = append(out, TagReading{Name: r.Name, Value: r.Value, Status: r.Quality})
	}
	return out
}

// NewReportedDocument builds the document for one cycle.
func NewReportedDocument(namespace string, readings []TagReading) ReportedDocument {
	if readings == nil {
		readings = []TagReading{}
	}
	return ReportedDocument{Namespace: namespace, Readings: readings}
}

// MarshalJSON renders {"state":{"reported":{"<namespace>":[...]}}}.
func (d ReportedDocument) MarshalJSON() ([]byte, error) {
	readings := d.Readings
	if readings == nil {
		readings = []TagReading{}
	}
	return json.Marshal(struct {
		State struct {
			Reported map[string][]TagReading `json:"reported"`
		} `json:"state"`
	}{
		State: struct {
			Reported map[string][]TagReading `json:"reported"`
		}{
			Reported: map[string][]TagReading{d.Namespace: readings},
		},
	})
}

// Encode marshals the document. Values that cannot be represented in JSON
// (NaN, infinities, channels) make the document malformed.
func (d ReportedDocument) Encode() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.NewMalformedShadowError(fmt.Sprintf("encode reported state: %v", err))
	}
	return b, nil
}

// ExtractSetPoint returns state.desired.<namespace>.<key> from a shadow
// document, normalized so that equal values compare equal with ==.
func ExtractSetPoint(doc []byte, namespace, key string) (any, error) {
	var shadowDoc struct {
		State struct {
			Desired map[string]json.RawMessage `json:"desired"`
		} `json:"state"`
	}
	if err := json.Unmarshal(doc, &shadowDoc); err != nil {
		return nil, errors.NewMalformedShadowError(fmt.Sprintf("decode shadow: %v", err))
	}

	path := fmt.Sprintf("state.desired.%s", namespace)
	rawNS, ok := shadowDoc.State.Desired[namespace]
	if !ok {
		return nil, errors.NewMalformedShadowError(path + " missing")
	}

	var ns map[string]json.RawMessage
	if err := json.Unmarshal(rawNS, &ns); err != nil || ns == nil {
		return nil, errors.NewMalformedShadowError(path + " is not an object")
	}

	path += "." + key
	rawValue, ok := ns[key]
	if !ok {
		return nil, errors.NewMalformedShadowError(path + " missing")
	}

	value, err := decodeScalar(rawValue)
	if err != nil {
		return nil, errors.NewMalformedShadowError(fmt.Sprintf("%s: %v", path, err))
	}
	return value, nil
}

// ParseSetPoint parses a configured set-point. JSON scalars are decoded
// ("1" is the number 1, "true" the boolean); anything else that is not valid
// JSON is taken as a plain string. ok is false for an empty input.
func ParseSetPoint(s string) (value any, ok bool, err error) {
	if s == "" {
		return nil, false, nil
	}
	if !json.Valid([]byte(s)) {
		return s, true, nil
	}
	v, err := decodeScalar(json.RawMessage(s))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func decodeScalar(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return normalize(v)
}

// normalize accepts JSON scalars. Numbers become float64 so 1 and 1.0 are equal.
func normalize(v any) (any, error) {
	switch n := v.(type) {
	case float64, bool, string:
		return n, nil
	case nil:
		return nil, fmt.Errorf("value is null")
	default:
		return nil, fmt.Errorf("value is %T, want a scalar", v)
	}
}
